// Package store provides persistence for the Chat aggregate.
package store

import (
	"context"

	"github.com/collabhub/messaging-platform/internal/model"
)

// ChatStore is the persistence abstraction for chats. Implementations must
// serialize concurrent mutations to the same chat: Update applies the mutator
// atomically against the latest persisted state, so unread counters and
// message ordering survive concurrent senders.
type ChatStore interface {
	// Create persists a brand-new chat and indexes it for both participants.
	Create(ctx context.Context, chat *model.Chat) error

	// Get loads a chat by id. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, chatID string) (*model.Chat, error)

	// FindLatestByPair returns the most recently created chat between the two
	// identities, or errs.ErrNotFound if the pair never chatted.
	FindLatestByPair(ctx context.Context, a, b string) (*model.Chat, error)

	// PairEverAccepted reports whether any chat record between the pair ever
	// reached accepted status. Feeds the re-chat fast path.
	PairEverAccepted(ctx context.Context, a, b string) (bool, error)

	// ListForUser returns every chat the identity participates in, including
	// ones the identity soft-deleted. Visibility filtering is the caller's.
	ListForUser(ctx context.Context, identity string) ([]*model.Chat, error)

	// Update atomically applies mutate to the chat's latest persisted state
	// and writes the result back. The mutator may be invoked more than once
	// when a concurrent writer forces a retry, so it must be side-effect free
	// beyond the chat itself. Returns the updated chat.
	Update(ctx context.Context, chatID string, mutate func(*model.Chat) error) (*model.Chat, error)

	// Close releases the underlying storage.
	Close() error
}
