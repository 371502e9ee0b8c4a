package store

import "time"

type Chat struct {
	ID           int64     `json:"id"`
	Participants []int64   `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int64     `json:"unread_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID                 int64     `json:"id"`
	ChatID             int64     `json:"chat_id"`
	SenderID           int64     `json:"sender_id"`
	Text               string    `json:"text"`
	Timestamp          time.Time `json:"timestamp"`
	Attachments        []string  `json:"attachments"`
	ReadBy             []int64   `json:"read_by"`
	DeletedForEveryone bool      `json:"deleted_for_everyone"`
}

// NewMessage is one row of a bulk insert performed at flush time.
type NewMessage struct {
	ChatID    int64
	SenderID  int64
	Text      string
	Timestamp time.Time
}
