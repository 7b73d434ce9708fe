// Package policy provides the blocking predicate consulted before any send.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/collabhub/messaging-platform/internal/errs"
)

// BlockingPolicy is a pure predicate over the two directional block lists.
// CanSend is false if sender blocked recipient or recipient blocked sender.
// A false result vetoes the send regardless of chat status.
type BlockingPolicy interface {
	CanSend(ctx context.Context, sender, recipient string) (bool, error)
}

// BlockListStore reads (and, for the owning profile module, writes) block
// edges persisted as block:<blocker>:<blocked> keys.
type BlockListStore struct {
	db *badger.DB
}

// NewBlockListStore creates a block-list reader over db.
func NewBlockListStore(db *badger.DB) *BlockListStore {
	return &BlockListStore{db: db}
}

func blockKey(blocker, blocked string) []byte {
	return []byte(fmt.Sprintf("block:%s:%s", blocker, blocked))
}

// CanSend reports whether a message from sender to recipient is allowed.
func (s *BlockListStore) CanSend(ctx context.Context, sender, recipient string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("block-list lookup aborted: %w", errs.ErrUnavailable)
	}

	allowed := true
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			blockKey(sender, recipient),
			blockKey(recipient, sender),
		} {
			if _, err := txn.Get(key); err == nil {
				allowed = false
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("block-list lookup failed: %w", errs.ErrUnavailable)
	}
	return allowed, nil
}

// Block records a directional block edge. Maintained by the identity/profile
// module; exposed here so that module (and tests) can write through the same
// key scheme this reader scans.
func (s *BlockListStore) Block(ctx context.Context, blocker, blocked string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(blocker, blocked), nil)
	})
}

// Unblock removes a directional block edge.
func (s *BlockListStore) Unblock(ctx context.Context, blocker, blocked string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(blockKey(blocker, blocked))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
