package model

import (
	"encoding/json"
	"time"
)

// EventType names the push-channel events. Inbound and outbound events share
// the same envelope; the synchronous surface is semantically equivalent.
type EventType string

const (
	// Inbound (client -> gateway).
	EventPresenceAnnounce EventType = "presence-announce"
	EventJoinChatRoom     EventType = "join-chat-room"
	EventLeaveChatRoom    EventType = "leave-chat-room"
	EventSendMessage      EventType = "send-message"
	EventMarkRead         EventType = "mark-read"
	EventDeleteMessage    EventType = "delete-message"

	// Outbound (gateway -> client).
	EventNewMessage      EventType = "new-message"
	EventMessageStatus   EventType = "message-status-update"
	EventPresenceChanged EventType = "presence-changed"
	EventChatUpdated     EventType = "chat-updated"
	EventError           EventType = "error"
)

// Envelope is the wire shape of every push-channel frame.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessageEvent is broadcast to a chat room after a durable append.
type NewMessageEvent struct {
	ChatID  string  `json:"chat_id"`
	Message Message `json:"message"`
}

// MessageStatusEvent is broadcast on delivery promotion and on read.
type MessageStatusEvent struct {
	ChatID    string        `json:"chat_id"`
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
	IsDeleted bool          `json:"is_deleted,omitempty"`
}

// PresenceChangedEvent is broadcast globally on register/unregister.
type PresenceChangedEvent struct {
	Identity  string     `json:"identity"`
	Online    bool       `json:"online"`
	OnlineSet []string   `json:"online_set"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// ChatUpdatedEvent is broadcast when the chat aggregate changes outside the
// message path (approve, reject, soft delete).
type ChatUpdatedEvent struct {
	ChatID string     `json:"chat_id"`
	Status ChatStatus `json:"status"`
}

// ErrorEvent is a failure signal on the push channel. The connection stays open.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound payloads.

type SendMessagePayload struct {
	ChatID   string `json:"chat_id"`
	Identity string `json:"identity"`
	Content  string `json:"content"`
}

type ChatRoomPayload struct {
	ChatID string `json:"chat_id"`
}

type MarkReadPayload struct {
	ChatID   string `json:"chat_id"`
	Identity string `json:"identity"`
}

type DeleteMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Identity  string `json:"identity"`
}

type PresenceAnnouncePayload struct {
	Identity string `json:"identity"`
}
