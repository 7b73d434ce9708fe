package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/errs"
	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/metrics"
)

// maxConflictRetries bounds the optimistic-retry loop for concurrent writers
// to the same chat.
const maxConflictRetries = 5

// Key layout:
//
//	chat:<id>                          -> chat JSON
//	pair:<min>:<max>:<created-padded>  -> chat id (full pair history, chronological)
//	member:<identity>:<chatID>         -> nil (per-user chat index)
//
// The 19-digit zero-padded creation timestamp keeps pair history in
// lexicographic creation order, so the latest record is the last key.
const (
	chatKeyPrefix   = "chat:"
	pairKeyPrefix   = "pair:"
	memberKeyPrefix = "member:"
)

// BadgerStore is a ChatStore backed by an embedded BadgerDB. Badger's
// serializable transactions turn concurrent appends to one chat into commit
// conflicts, which Update resolves with a bounded retry.
type BadgerStore struct {
	db  *badger.DB
	log *logger.Logger
}

// Options configures a BadgerStore.
type Options struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the store at opts.Path.
func Open(opts Options, log *logger.Logger) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Path, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for collaborators that share the same
// storage (block lists).
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Healthy reports whether the underlying database is usable.
func (s *BadgerStore) Healthy() bool {
	return s.db != nil && !s.db.IsClosed()
}

func chatKey(chatID string) []byte {
	return []byte(chatKeyPrefix + chatID)
}

// encodeID escapes the key delimiter so distinct identities can never
// produce colliding keys, whatever characters they carry.
func encodeID(identity string) string {
	identity = strings.ReplaceAll(identity, "%", "%25")
	return strings.ReplaceAll(identity, ":", "%3A")
}

func memberKey(identity, chatID string) []byte {
	return []byte(memberKeyPrefix + encodeID(identity) + ":" + chatID)
}

func pairPrefix(a, b string) []byte {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return []byte(fmt.Sprintf("%s%s:%s:", pairKeyPrefix, encodeID(lo), encodeID(hi)))
}

func pairKey(a, b string, createdAt time.Time) []byte {
	return []byte(fmt.Sprintf("%s%019d", pairPrefix(a, b), createdAt.UnixNano()))
}

// Create persists a brand-new chat and its indexes in one transaction.
func (s *BadgerStore) Create(ctx context.Context, chat *model.Chat) error {
	defer observe("create", time.Now())
	if err := ctxErr(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(chatKey(chat.ID), data); err != nil {
			return err
		}
		if err := txn.Set(pairKey(chat.Participants[0], chat.Participants[1], chat.CreatedAt), []byte(chat.ID)); err != nil {
			return err
		}
		for _, p := range chat.Participants {
			if err := txn.Set(memberKey(p, chat.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Get loads a chat by id.
func (s *BadgerStore) Get(ctx context.Context, chatID string) (*model.Chat, error) {
	defer observe("get", time.Now())
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	var chat *model.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = loadChat(txn, chatID)
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chat, nil
}

// FindLatestByPair returns the most recent chat record between the pair.
func (s *BadgerStore) FindLatestByPair(ctx context.Context, a, b string) (*model.Chat, error) {
	defer observe("find_by_pair", time.Now())
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	var chat *model.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := pairPrefix(a, b)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse-seek past the newest possible key under this prefix.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return errs.ErrNotFound
		}

		chatID, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		chat, err = loadChat(txn, string(chatID))
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chat, nil
}

// PairEverAccepted scans the pair's full history for an accepted record.
func (s *BadgerStore) PairEverAccepted(ctx context.Context, a, b string) (bool, error) {
	defer observe("pair_ever_accepted", time.Now())
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	accepted := false
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := pairPrefix(a, b)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			chatID, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			chat, err := loadChat(txn, string(chatID))
			if err != nil {
				return err
			}
			if chat.Status == model.ChatAccepted {
				accepted = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, mapStoreErr(err)
	}
	return accepted, nil
}

// ListForUser returns every chat the identity participates in.
func (s *BadgerStore) ListForUser(ctx context.Context, identity string) ([]*model.Chat, error) {
	defer observe("list_for_user", time.Now())
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	var chats []*model.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(memberKeyPrefix + encodeID(identity) + ":")
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			chatID := string(it.Item().Key()[len(prefix):])
			chat, err := loadChat(txn, chatID)
			if err != nil {
				return err
			}
			chats = append(chats, chat)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chats, nil
}

// Update applies mutate against the latest persisted state of the chat,
// retrying on commit conflicts caused by concurrent writers to the same chat.
func (s *BadgerStore) Update(ctx context.Context, chatID string, mutate func(*model.Chat) error) (*model.Chat, error) {
	defer observe("update", time.Now())

	var updated *model.Chat
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			chat, err := loadChat(txn, chatID)
			if err != nil {
				return err
			}
			if err := mutate(chat); err != nil {
				return err
			}
			data, err := json.Marshal(chat)
			if err != nil {
				return fmt.Errorf("failed to marshal chat: %w", err)
			}
			updated = chat
			return txn.Set(chatKey(chatID), data)
		})
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, badger.ErrConflict) {
			s.log.Debug("chat update conflict, retrying",
				zap.String("chat_id", chatID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, mapStoreErr(err)
	}

	s.log.Warn("chat update conflict retries exhausted", zap.String("chat_id", chatID))
	return nil, fmt.Errorf("update of chat %s: %w", chatID, errs.ErrUnavailable)
}

func loadChat(txn *badger.Txn, chatID string) (*model.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	var chat model.Chat
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &chat)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// ctxErr maps a cancelled or expired context to the retryable taxonomy error.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store call aborted: %w", errs.ErrUnavailable)
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, errs.ErrNotFound) || isDomainErr(err) {
		return err
	}
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%v: %w", err, errs.ErrUnavailable)
	}
	return err
}

// isDomainErr keeps mutator-raised taxonomy errors untouched on the way out.
func isDomainErr(err error) bool {
	for _, target := range []error{
		errs.ErrForbidden, errs.ErrInvalidState, errs.ErrQuotaExceeded,
		errs.ErrApprovalRequired, errs.ErrBlocked, errs.ErrIdentityMismatch,
		errs.ErrUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func observe(op string, start time.Time) {
	metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
