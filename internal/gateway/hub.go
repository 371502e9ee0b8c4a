// Package gateway is the realtime layer: it acknowledges sends instantly
// with a best-effort push and hands durability to the intake queue.
package gateway

import (
	"context"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"peerlink/internal/batch"
	"peerlink/internal/presence"
)

// Enqueuer is the intake queue as seen from the gateway.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// UserChecker distinguishes an offline receiver from one that does not exist.
type UserChecker interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

const dispatchTimeout = 5 * time.Second

// Hub routes inbound socket events and owns client registration. Post-flush
// notifications from the batching workers also go through it, which makes it
// the batch.Notifier implementation.
type Hub struct {
	logger    *zap.SugaredLogger
	presence  *presence.Directory
	users     UserChecker
	sendQueue Enqueuer
	seenQueue Enqueuer

	Register   chan *Client
	Unregister chan *Client
	clients    map[*Client]bool

	parsers fastjson.ParserPool
}

func NewHub(logger *zap.SugaredLogger, dir *presence.Directory, users UserChecker, sendQueue, seenQueue Enqueuer) *Hub {
	return &Hub{
		logger:     logger,
		presence:   dir,
		users:      users,
		sendQueue:  sendQueue,
		seenQueue:  seenQueue,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run owns the clients map; it is the only goroutine that touches it.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			h.presence.Connect(client.userID, client)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.presence.Disconnect(client.userID, client)
				close(client.send)
			}
		}
	}
}

// dispatch decodes one inbound frame and runs its handler on the calling
// (per-connection) goroutine. Handlers return after enqueueing; they never
// wait on the flush path.
func (h *Hub) dispatch(c *Client, raw []byte) {
	p := h.parsers.Get()
	defer h.parsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "malformed frame"}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	event := string(v.GetStringBytes("event"))
	data := v.Get("data")

	switch event {
	case evSendMessage:
		h.handleSend(ctx, c, parseSendMessage(data))
	case evSeenMessages:
		h.handleSeen(ctx, c, parseSeenMessages(data))
	case evSetActive:
		h.presence.SetActive(c.userID, data.GetBool("active"))
	default:
		h.logger.Warnf("unknown event %q from user %d", event, c.userID)
	}
}

// handleSend pushes an immediate newMessage to an online receiver, then
// enqueues the durable job. The push is at-most-once and not the durability
// path; the job is enqueued regardless of presence.
func (h *Hub) handleSend(ctx context.Context, c *Client, ev sendMessageEvent) {
	if ev.Message == "" || ev.ChatID == 0 || ev.ReceiverID == 0 {
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "invalid sendMessage payload"}))
		return
	}

	now := time.Now().UTC()

	if conn, ok := h.presence.Online(ev.ReceiverID); ok {
		conn.Deliver(h.encodeEvent(evNewMessage, newMessagePayload{
			Message:   ev.Message,
			Timestamp: now,
			ChatID:    ev.ChatID,
			SenderID:  c.userID,
		}))
	} else if !h.known(ctx, ev.ReceiverID) {
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "unknown receiver"}))
		return
	}

	payload, err := batch.EncodeSendJob(batch.SendJob{
		Chat:      ev.ChatID,
		Sender:    c.userID,
		Receiver:  ev.ReceiverID,
		Text:      ev.Message,
		Timestamp: now,
	})
	if err != nil {
		h.logger.Errorw("encode send job", "error", err)
		return
	}
	if err := h.sendQueue.Enqueue(ctx, payload); err != nil {
		h.logger.Errorw("enqueue send job", "user", c.userID, "chat", ev.ChatID, "error", err)
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "message not accepted, retry"}))
	}
}

// handleSeen mirrors handleSend for read acknowledgments.
func (h *Hub) handleSeen(ctx context.Context, c *Client, ev seenMessagesEvent) {
	if ev.ChatID == 0 || ev.ReceiverID == 0 {
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "invalid seenMessages payload"}))
		return
	}

	if conn, ok := h.presence.Online(ev.ReceiverID); ok {
		conn.Deliver(h.encodeEvent(evMessageSeen, messageSeenPayload{
			ChatID:     ev.ChatID,
			MessageIDs: ev.MessageIDs,
		}))
	} else if !h.known(ctx, ev.ReceiverID) {
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "unknown receiver"}))
		return
	}

	payload, err := batch.EncodeSeenJob(batch.SeenJob{
		Chat:      ev.ChatID,
		Reader:    c.userID,
		Receiver:  ev.ReceiverID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Errorw("encode seen job", "error", err)
		return
	}
	if err := h.seenQueue.Enqueue(ctx, payload); err != nil {
		h.logger.Errorw("enqueue seen job", "user", c.userID, "chat", ev.ChatID, "error", err)
		c.Deliver(h.encodeEvent(evError, errorPayload{Message: "ack not accepted, retry"}))
	}
}

// known separates "offline" from "no such user". A store error is treated as
// offline so a transient read failure never blocks the durable path.
func (h *Hub) known(ctx context.Context, userID int64) bool {
	if h.presence.Known(userID) {
		return true
	}
	exists, err := h.users.UserExists(ctx, userID)
	if err != nil {
		h.logger.Errorw("user lookup failed, assuming offline", "user", userID, "error", err)
		return true
	}
	return exists
}

// NewMessages implements batch.Notifier: a lightweight re-sync hint per chat,
// deliberately without the message payload, since several messages may have
// accumulated by flush time.
func (h *Hub) NewMessages(receiverID int64, chatIDs []int64) {
	conn, ok := h.presence.Online(receiverID)
	if !ok {
		return
	}
	for _, chatID := range chatIDs {
		conn.Deliver(h.encodeEvent(evCheckForNewMessages, checkForNewMessagesPayload{ChatID: chatID}))
	}
}

// MessagesSeen implements batch.Notifier for the post-flush seen variant.
func (h *Hub) MessagesSeen(receiverID int64, chatIDs []int64) {
	conn, ok := h.presence.Online(receiverID)
	if !ok {
		return
	}
	conn.Deliver(h.encodeEvent(evMessageSeen, messagesSeenBatchPayload{ChatIDs: chatIDs}))
}

// MessageDeleted pushes a delete-for-everyone tombstone. Fire if the
// recipient is online, otherwise drop: the next chat poll is authoritative.
func (h *Hub) MessageDeleted(receiverID, messageID int64) {
	if conn, ok := h.presence.Online(receiverID); ok {
		conn.Deliver(h.encodeEvent(evMessageDltForEv, messageID))
	}
}
