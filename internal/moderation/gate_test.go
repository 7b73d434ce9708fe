package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTermGate(t *testing.T) {
	gate, err := NewTermGate([]string{"scam", "free money"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		allowed bool
	}{
		{"clean content", "see you at the standup", true},
		{"exact match", "this is a scam", false},
		{"uppercase", "THIS IS A SCAM", false},
		{"leet speak", "this is a 5c4m", false},
		{"punctuation split", "s.c.a.m alert", false},
		{"multi word term", "get free   money now", false},
		{"term as substring", "scampering squirrels", false},
		{"empty content", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, gate.Allow(tt.content))
		})
	}
}

func TestTermGate_EmptyListPassesEverything(t *testing.T) {
	req := require.New(t)

	gate, err := NewTermGate(nil)
	req.NoError(err)
	req.True(gate.Allow("anything at all"))
	req.True(gate.Allow(""))
}
