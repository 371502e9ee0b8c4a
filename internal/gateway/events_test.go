package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

func TestParseSendMessage(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"event":"sendMessage","data":{"message":"hey","senderId":1,"receiverId":2,"chatId":10}}`)
	require.NoError(t, err)

	ev := parseSendMessage(v.Get("data"))
	require.Equal(t, sendMessageEvent{
		Message:    "hey",
		SenderID:   1,
		ReceiverID: 2,
		ChatID:     10,
	}, ev)
}

func TestParseSendMessageMissingData(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"event":"sendMessage"}`)
	require.NoError(t, err)

	ev := parseSendMessage(v.Get("data"))
	require.Equal(t, sendMessageEvent{}, ev)
}

func TestParseSeenMessages(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"data":{"userId":1,"chatId":10,"receiverId":2,"messageIds":[5,6,"bogus",7]}}`)
	require.NoError(t, err)

	ev := parseSeenMessages(v.Get("data"))
	require.Equal(t, int64(1), ev.UserID)
	require.Equal(t, int64(10), ev.ChatID)
	require.Equal(t, int64(2), ev.ReceiverID)
	// Non-numeric entries are skipped, not fatal.
	require.Equal(t, []int64{5, 6, 7}, ev.MessageIDs)
}

func TestEncodeEventEnvelope(t *testing.T) {
	h := &Hub{logger: zap.NewNop().Sugar()}
	raw := h.encodeEvent(evCheckForNewMessages, checkForNewMessagesPayload{ChatID: 10})

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "checkForNewMessages", env.Event)
	require.JSONEq(t, `{"chatId":10}`, string(env.Data))
}

func TestEncodeBareMessageID(t *testing.T) {
	h := &Hub{logger: zap.NewNop().Sugar()}
	raw := h.encodeEvent(evMessageDltForEv, int64(42))
	require.JSONEq(t, `{"event":"messageDltForEv","data":42}`, string(raw))
}

func TestEncodeEventUnmarshalablePayload(t *testing.T) {
	h := &Hub{logger: zap.NewNop().Sugar()}
	// Channels cannot marshal; the failure is logged and an empty frame
	// returned rather than a panic.
	raw := h.encodeEvent(evError, make(chan int))
	require.Empty(t, raw)
}
