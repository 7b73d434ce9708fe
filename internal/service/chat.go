// Package service provides business logic for the messaging core.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/errs"
	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/internal/store"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/metrics"
)

// Broadcaster fans push-channel events out to subscribed connections. The
// NATS broadcaster implements it; tests use a recorder.
type Broadcaster interface {
	ChatEvent(chatID string, eventType model.EventType, payload any) error
	UserEvent(identity string, eventType model.EventType, payload any) error
}

// ChatService governs the chat-request lifecycle: open-or-create, the
// pending -> accepted / pending -> rejected transitions, soft deletion and
// the caller's chat list.
type ChatService struct {
	store        store.ChatStore
	broadcaster  Broadcaster
	logger       *logger.Logger
	storeTimeout time.Duration
}

// NewChatService creates a new chat service.
func NewChatService(st store.ChatStore, bc Broadcaster, log *logger.Logger, storeTimeout time.Duration) *ChatService {
	return &ChatService{
		store:        st,
		broadcaster:  bc,
		logger:       log,
		storeTimeout: storeTimeout,
	}
}

func (s *ChatService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// OpenOrCreate returns the chat between requester and peer, creating it
// lazily on first contact. An existing chat is returned as long as at least
// one participant still sees it; the requester's visibility is restored. A
// brand-new chat starts pending unless the pair ever reached accepted status,
// in which case approval is skipped (trust is per-pair, not per-thread).
func (s *ChatService) OpenOrCreate(ctx context.Context, requester, peer string) (*model.Chat, error) {
	if requester == peer {
		return nil, fmt.Errorf("cannot open a chat with yourself: %w", errs.ErrForbidden)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.store.FindLatestByPair(ctx, requester, peer)
	switch {
	case err == nil:
		bothDeleted := existing.DeletedFor(existing.Participants[0]) &&
			existing.DeletedFor(existing.Participants[1])
		if !bothDeleted {
			if !existing.DeletedFor(requester) {
				return existing, nil
			}
			return s.store.Update(ctx, existing.ID, func(chat *model.Chat) error {
				chat.RestoreVisibility(requester)
				return nil
			})
		}
		// Fully hidden on both sides: fall through and start a fresh record.
	case errors.Is(err, errs.ErrNotFound):
	default:
		return nil, err
	}

	everAccepted, err := s.store.PairEverAccepted(ctx, requester, peer)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chat := &model.Chat{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Participants:  [2]string{requester, peer},
		InitiatedBy:   requester,
		Status:        model.ChatPending,
		Messages:      []model.Message{},
		UnreadCount:   map[string]int{requester: 0, peer: 0},
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if everAccepted {
		chat.Status = model.ChatAccepted
	}

	if err := s.store.Create(ctx, chat); err != nil {
		return nil, err
	}

	outcome := "pending"
	if everAccepted {
		outcome = "fast_path_accepted"
	}
	metrics.ChatRequestsTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("chat created",
		zap.String("chat_id", chat.ID),
		zap.String("initiated_by", requester),
		zap.String("status", string(chat.Status)),
	)

	if err := s.broadcaster.UserEvent(peer, model.EventChatUpdated, model.ChatUpdatedEvent{
		ChatID: chat.ID,
		Status: chat.Status,
	}); err != nil {
		s.logger.Warn("failed to notify peer of new chat", zap.String("chat_id", chat.ID), zap.Error(err))
	}

	return chat, nil
}

// Get returns a chat, restricted to its participants.
func (s *ChatService) Get(ctx context.Context, chatID, viewer string) (*model.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(viewer) {
		return nil, fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
	}
	return chat, nil
}

// List returns the caller's visible chats, most recent activity first.
func (s *ChatService) List(ctx context.Context, identity string) ([]model.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	all, err := s.store.ListForUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	visible := lo.FilterMap(all, func(c *model.Chat, _ int) (model.Chat, bool) {
		return *c, !c.DeletedFor(identity)
	})
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].LastMessageAt.After(visible[j].LastMessageAt)
	})
	return visible, nil
}

// Approve transitions a pending chat to accepted. Only the non-initiating
// participant may approve, and only while pending; accepted is terminal.
func (s *ChatService) Approve(ctx context.Context, chatID, actor string) (*model.Chat, error) {
	return s.resolve(ctx, chatID, actor, model.ChatAccepted)
}

// Reject transitions a pending chat to rejected. Same actor constraint as
// Approve; rejected is terminal.
func (s *ChatService) Reject(ctx context.Context, chatID, actor string) (*model.Chat, error) {
	return s.resolve(ctx, chatID, actor, model.ChatRejected)
}

func (s *ChatService) resolve(ctx context.Context, chatID, actor string, target model.ChatStatus) (*model.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.store.Update(ctx, chatID, func(chat *model.Chat) error {
		if !chat.HasParticipant(actor) {
			return fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
		}
		if actor == chat.InitiatedBy {
			return fmt.Errorf("initiator cannot resolve their own request: %w", errs.ErrForbidden)
		}
		if chat.Status != model.ChatPending {
			return fmt.Errorf("chat is %s, not pending: %w", chat.Status, errs.ErrInvalidState)
		}
		chat.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChatRequestsTotal.WithLabelValues(string(target)).Inc()
	s.logger.Info("chat request resolved",
		zap.String("chat_id", chatID),
		zap.String("actor", actor),
		zap.String("status", string(target)),
	)

	if err := s.broadcaster.ChatEvent(chatID, model.EventChatUpdated, model.ChatUpdatedEvent{
		ChatID: chatID,
		Status: target,
	}); err != nil {
		s.logger.Warn("failed to broadcast chat update", zap.String("chat_id", chatID), zap.Error(err))
	}

	return chat, nil
}

// SoftDeleteChat hides the chat from the actor's view. The record itself is
// never destroyed; the approval history must survive for the re-chat fast
// path, and the peer's view is untouched.
func (s *ChatService) SoftDeleteChat(ctx context.Context, chatID, actor string) (*model.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.store.Update(ctx, chatID, func(chat *model.Chat) error {
		if !chat.HasParticipant(actor) {
			return fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
		}
		if !chat.DeletedFor(actor) {
			chat.DeletedBy = append(chat.DeletedBy, actor)
		}
		return nil
	})
}
