package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatHelpers(t *testing.T) {
	req := require.New(t)

	chat := &Chat{
		Participants: [2]string{"alice", "bob"},
		Messages: []Message{
			{ID: "m1", Sender: "alice"},
			{ID: "m2", Sender: "bob"},
			{ID: "m3", Sender: "alice"},
		},
	}

	req.True(chat.HasParticipant("alice"))
	req.True(chat.HasParticipant("bob"))
	req.False(chat.HasParticipant("carol"))

	req.Equal("bob", chat.Peer("alice"))
	req.Equal("alice", chat.Peer("bob"))

	req.Equal(2, chat.CountFrom("alice"))
	req.Equal(1, chat.CountFrom("bob"))
	req.Equal(0, chat.CountFrom("carol"))

	req.Nil(chat.MessageByID("missing"))
	m := chat.MessageByID("m2")
	req.NotNil(m)
	req.Equal("bob", m.Sender)

	// MessageByID returns a live pointer for in-place mutation.
	m.Content = "edited"
	req.Equal("edited", chat.Messages[1].Content)
}

func TestChatSoftDeleteVisibility(t *testing.T) {
	req := require.New(t)

	chat := &Chat{Participants: [2]string{"alice", "bob"}}
	req.False(chat.DeletedFor("alice"))

	chat.DeletedBy = append(chat.DeletedBy, "alice")
	req.True(chat.DeletedFor("alice"))
	req.False(chat.DeletedFor("bob"))

	chat.RestoreVisibility("alice")
	req.False(chat.DeletedFor("alice"))
	req.Empty(chat.DeletedBy)
}
