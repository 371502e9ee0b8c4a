package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/internal/batch"
	"peerlink/internal/presence"
)

type fakeQueue struct {
	payloads [][]byte
}

func (f *fakeQueue) Enqueue(_ context.Context, payload []byte) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeUsers struct {
	existing map[int64]bool
}

func (f *fakeUsers) UserExists(_ context.Context, id int64) (bool, error) {
	return f.existing[id], nil
}

type fakeConn struct {
	delivered [][]byte
}

func (f *fakeConn) Deliver(p []byte) bool {
	f.delivered = append(f.delivered, p)
	return true
}

func (f *fakeConn) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, raw := range f.delivered {
		var env struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		names = append(names, env.Event)
	}
	return names
}

func bootstrapHub(t *testing.T) (*Hub, *fakeQueue, *fakeQueue, *fakeUsers) {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	sendQ := &fakeQueue{}
	seenQ := &fakeQueue{}
	users := &fakeUsers{existing: map[int64]bool{}}
	h := NewHub(logger.Sugar(), presence.NewDirectory(), users, sendQ, seenQ)
	return h, sendQ, seenQ, users
}

func sender(h *Hub, userID int64) *Client {
	return &Client{hub: h, send: make(chan []byte, 16), userID: userID}
}

func frame(t *testing.T, event string, data string) []byte {
	t.Helper()
	return []byte(`{"event":"` + event + `","data":` + data + `}`)
}

func TestSendToOnlineReceiver(t *testing.T) {
	h, sendQ, _, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(2, receiver)

	c := sender(h, 1)
	h.dispatch(c, frame(t, "sendMessage", `{"message":"hey","receiverId":2,"chatId":10}`))

	// Immediate best-effort push.
	require.Equal(t, []string{"newMessage"}, receiver.events(t))

	var env struct {
		Data newMessagePayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receiver.delivered[0], &env))
	require.Equal(t, "hey", env.Data.Message)
	require.Equal(t, int64(10), env.Data.ChatID)
	// Sender identity comes from the authenticated connection.
	require.Equal(t, int64(1), env.Data.SenderID)

	// And the durable job regardless.
	require.Len(t, sendQ.payloads, 1)
	job, err := batch.DecodeSendJob(sendQ.payloads[0])
	require.NoError(t, err)
	require.Equal(t, int64(10), job.Chat)
	require.Equal(t, int64(1), job.Sender)
	require.Equal(t, int64(2), job.Receiver)
	require.Equal(t, "hey", job.Text)
}

func TestSendToOfflineReceiverStillEnqueues(t *testing.T) {
	h, sendQ, _, users := bootstrapHub(t)
	users.existing[2] = true

	c := sender(h, 1)
	h.dispatch(c, frame(t, "sendMessage", `{"message":"hey","receiverId":2,"chatId":10}`))

	// No push anywhere, no error back, job enqueued.
	require.Empty(t, c.send)
	require.Len(t, sendQ.payloads, 1)
}

func TestSendToInactiveReceiverSuppressesPush(t *testing.T) {
	h, sendQ, _, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(2, receiver)
	h.presence.SetActive(2, false)

	c := sender(h, 1)
	h.dispatch(c, frame(t, "sendMessage", `{"message":"hey","receiverId":2,"chatId":10}`))

	require.Empty(t, receiver.delivered)
	require.Len(t, sendQ.payloads, 1)
}

func TestSendToUnknownReceiverRejected(t *testing.T) {
	h, sendQ, _, _ := bootstrapHub(t)

	c := sender(h, 1)
	h.dispatch(c, frame(t, "sendMessage", `{"message":"hey","receiverId":99,"chatId":10}`))

	require.Empty(t, sendQ.payloads)

	select {
	case raw := <-c.send:
		var env struct {
			Event string       `json:"event"`
			Data  errorPayload `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, "error", env.Event)
		require.Equal(t, "unknown receiver", env.Data.Message)
	default:
		t.Fatal("expected an error event for the sender")
	}
}

func TestSeenMessagesFlow(t *testing.T) {
	h, _, seenQ, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(2, receiver)

	c := sender(h, 3)
	h.dispatch(c, frame(t, "seenMessages", `{"userId":3,"chatId":10,"receiverId":2,"messageIds":[5,6]}`))

	require.Equal(t, []string{"messageSeen"}, receiver.events(t))
	var env struct {
		Data messageSeenPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receiver.delivered[0], &env))
	require.Equal(t, int64(10), env.Data.ChatID)
	require.Equal(t, []int64{5, 6}, env.Data.MessageIDs)

	require.Len(t, seenQ.payloads, 1)
	job, err := batch.DecodeSeenJob(seenQ.payloads[0])
	require.NoError(t, err)
	require.Equal(t, int64(10), job.Chat)
	require.Equal(t, int64(3), job.Reader)
	require.Equal(t, int64(2), job.Receiver)
}

func TestSetActiveToggle(t *testing.T) {
	h, _, _, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(1, receiver)

	c := sender(h, 1)
	h.dispatch(c, frame(t, "setActive", `{"active":false}`))
	_, ok := h.presence.Online(1)
	require.False(t, ok)

	h.dispatch(c, frame(t, "setActive", `{"active":true}`))
	_, ok = h.presence.Online(1)
	require.True(t, ok)
}

func TestMalformedFrame(t *testing.T) {
	h, sendQ, _, _ := bootstrapHub(t)

	c := sender(h, 1)
	h.dispatch(c, []byte("{not json"))

	require.Empty(t, sendQ.payloads)
	select {
	case raw := <-c.send:
		require.Contains(t, string(raw), "malformed frame")
	default:
		t.Fatal("expected an error event")
	}
}

func TestNotifierNewMessages(t *testing.T) {
	h, _, _, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(2, receiver)

	h.NewMessages(2, []int64{10, 20})
	require.Equal(t, []string{"checkForNewMessages", "checkForNewMessages"}, receiver.events(t))

	// Offline receiver: silently skipped.
	h.NewMessages(99, []int64{10})
}

func TestNotifierMessagesSeenBatch(t *testing.T) {
	h, _, _, _ := bootstrapHub(t)
	receiver := &fakeConn{}
	h.presence.Connect(2, receiver)

	h.MessagesSeen(2, []int64{10, 20})
	require.Len(t, receiver.delivered, 1)

	var env struct {
		Event string                   `json:"event"`
		Data  messagesSeenBatchPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receiver.delivered[0], &env))
	require.Equal(t, "messageSeen", env.Event)
	require.Equal(t, []int64{10, 20}, env.Data.ChatIDs)
}
