package gateway

import (
	"encoding/json"
	"time"

	"github.com/valyala/fastjson"
)

// Wire event names. Inbound and outbound frames share one envelope shape:
// {"event": "...", "data": ...}.
const (
	evSendMessage         = "sendMessage"
	evSeenMessages        = "seenMessages"
	evSetActive           = "setActive"
	evNewMessage          = "newMessage"
	evCheckForNewMessages = "checkForNewMessages"
	evMessageSeen         = "messageSeen"
	evMessageDltForEv     = "messageDltForEv"
	evError               = "error"
)

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type sendMessageEvent struct {
	Message    string
	SenderID   int64
	ReceiverID int64
	ChatID     int64
}

type seenMessagesEvent struct {
	UserID     int64
	ChatID     int64
	ReceiverID int64
	MessageIDs []int64
}

type newMessagePayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	ChatID    int64     `json:"chatId"`
	SenderID  int64     `json:"senderId"`
}

type checkForNewMessagesPayload struct {
	ChatID int64 `json:"chatId"`
}

// messageSeenPayload is the immediate push variant with concrete ids.
type messageSeenPayload struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds,omitempty"`
}

// messagesSeenBatchPayload is the post-flush variant: only the chats that
// changed, ids not individually enumerated.
type messagesSeenBatchPayload struct {
	ChatIDs []int64 `json:"chatIds"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (h *Hub) encodeEvent(event string, data any) []byte {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Debugw("encode event failed", "event", event, "error", err)
	}
	return payload
}

// fastjson accessors tolerate a missing data object: they return zero values
// instead of failing, so validation happens at the handler level.

func parseSendMessage(data *fastjson.Value) sendMessageEvent {
	return sendMessageEvent{
		Message:    string(data.GetStringBytes("message")),
		SenderID:   data.GetInt64("senderId"),
		ReceiverID: data.GetInt64("receiverId"),
		ChatID:     data.GetInt64("chatId"),
	}
}

func parseSeenMessages(data *fastjson.Value) seenMessagesEvent {
	ev := seenMessagesEvent{
		UserID:     data.GetInt64("userId"),
		ChatID:     data.GetInt64("chatId"),
		ReceiverID: data.GetInt64("receiverId"),
	}
	for _, v := range data.GetArray("messageIds") {
		id, err := v.Int64()
		if err != nil {
			continue
		}
		ev.MessageIDs = append(ev.MessageIDs, id)
	}
	return ev
}
