// Package model defines data structures for the messaging core.
package model

import (
	"time"

	"github.com/samber/lo"
)

// ChatStatus is the lifecycle state of a chat request.
type ChatStatus string

const (
	ChatPending  ChatStatus = "pending"
	ChatAccepted ChatStatus = "accepted"
	ChatRejected ChatStatus = "rejected"
)

// Chat is a conversation thread between exactly two identities. Chats are
// never hard-deleted; per-viewer soft deletion is tracked in DeletedBy so the
// approval history survives for the re-chat fast path.
type Chat struct {
	ID            string         `json:"id"`
	Participants  [2]string      `json:"participants"`
	InitiatedBy   string         `json:"initiated_by,omitempty"`
	Status        ChatStatus     `json:"status"`
	Messages      []Message      `json:"messages"`
	UnreadCount   map[string]int `json:"unread_count"`
	DeletedBy     []string       `json:"deleted_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastMessageAt time.Time      `json:"last_message_at"`
}

// HasParticipant reports whether identity is one of the chat's two parties.
func (c *Chat) HasParticipant(identity string) bool {
	return c.Participants[0] == identity || c.Participants[1] == identity
}

// Peer returns the other participant.
func (c *Chat) Peer(identity string) string {
	if c.Participants[0] == identity {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// DeletedFor reports whether identity soft-deleted this chat from their view.
func (c *Chat) DeletedFor(identity string) bool {
	return lo.Contains(c.DeletedBy, identity)
}

// RestoreVisibility removes identity from the soft-delete set.
func (c *Chat) RestoreVisibility(identity string) {
	c.DeletedBy = lo.Without(c.DeletedBy, identity)
}

// MessageByID returns a pointer into Messages for in-place mutation inside a
// store update, or nil if absent.
func (c *Chat) MessageByID(messageID string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return &c.Messages[i]
		}
	}
	return nil
}

// CountFrom returns the number of messages authored by sender. The pending
// quota is recomputed from history with this, not kept as a counter.
func (c *Chat) CountFrom(sender string) int {
	return lo.CountBy(c.Messages, func(m Message) bool { return m.Sender == sender })
}

// OpenChatRequest is the request to open or create a chat with a peer.
type OpenChatRequest struct {
	PeerID string `json:"peer_id"`
}

// ListChatsResponse is the response for listing a caller's active chats.
type ListChatsResponse struct {
	Chats []Chat `json:"chats"`
	Total int    `json:"total"`
}
