package chat

import (
	"errors"
	"time"
)

// Message is the persisted chat message as carried on the wire. Content is
// immutable once the store has assigned an id and a per-channel sequence.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channel_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	ReplyToID *int64    `json:"reply_to_id,omitempty"`
	ThreadID  *int64    `json:"thread_id,omitempty"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	Edited    bool      `json:"edited,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Outbound event types.
const (
	EventConnected   = "connected"
	EventNewMessage  = "new_message"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventTyping      = "typing"
	EventReadReceipt = "read_receipt"
	EventReplaced    = "replaced"
	EventError       = "error"
)

// Inbound frame types.
const (
	FrameMessage     = "message"
	FrameTyping      = "typing"
	FrameReadReceipt = "read_receipt"
)

// Event is the single outbound payload shape; unused fields are omitted.
type Event struct {
	Type        string        `json:"type"`
	ChannelID   int64         `json:"channel_id,omitempty"`
	UserID      int64         `json:"user_id,omitempty"`
	IsTyping    *bool         `json:"is_typing,omitempty"`
	Message     *Message      `json:"message,omitempty"`
	MessageID   int64         `json:"message_id,omitempty"`
	OnlineUsers []int64       `json:"online_users,omitempty"`
	Error       *ErrorPayload `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Frame is an inbound client frame.
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ReplyToID *int64 `json:"reply_to_id,omitempty"`
	ThreadID  *int64 `json:"thread_id,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

func errorEvent(err error) Event {
	code := CodeOf(err)
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	return Event{Type: EventError, Error: &ErrorPayload{Code: code, Message: msg}}
}

func typingEvent(channelID, userID int64, isTyping bool) Event {
	return Event{Type: EventTyping, ChannelID: channelID, UserID: userID, IsTyping: &isTyping}
}
