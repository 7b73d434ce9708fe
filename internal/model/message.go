package model

import (
	"time"
)

// MessageStatus tracks delivery progress. Transitions only move forward:
// sent -> delivered -> read.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Tombstone replaces the content of a soft-deleted message. The entry itself,
// its id and its position are retained.
const Tombstone = "This message was deleted"

// Message is owned exclusively by its parent Chat.
type Message struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	IsDeleted bool          `json:"is_deleted,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
}

// rank orders statuses for monotonicity checks.
func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 0
	case MessageDelivered:
		return 1
	case MessageRead:
		return 2
	}
	return -1
}

// Advance moves the message status forward to next. Regressions are ignored
// so a read message can never fall back to delivered or sent.
func (m *Message) Advance(next MessageStatus, at time.Time) bool {
	if next.rank() <= m.Status.rank() {
		return false
	}
	m.Status = next
	if next == MessageRead {
		t := at
		m.ReadAt = &t
	}
	return true
}

// SendMessageRequest is the request to append a message to a chat.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for simple message retrieval.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
