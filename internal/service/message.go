package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/errs"
	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/internal/moderation"
	"github.com/collabhub/messaging-platform/internal/policy"
	"github.com/collabhub/messaging-platform/internal/store"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/metrics"
)

// Presence is the slice of the presence tracker the pipeline needs for the
// delivery-promotion step.
type Presence interface {
	IsOnline(identity string) bool
}

// MessageService is the delivery pipeline: append, sent -> delivered -> read
// promotion, unread bookkeeping and message soft deletion.
type MessageService struct {
	store        store.ChatStore
	presence     Presence
	policy       policy.BlockingPolicy
	gate         moderation.Gate
	broadcaster  Broadcaster
	locks        *keyedMutex
	logger       *logger.Logger
	pendingQuota int
	storeTimeout time.Duration
}

// NewMessageService creates a new message service.
func NewMessageService(
	st store.ChatStore,
	pres Presence,
	pol policy.BlockingPolicy,
	gate moderation.Gate,
	bc Broadcaster,
	log *logger.Logger,
	pendingQuota int,
	storeTimeout time.Duration,
) *MessageService {
	return &MessageService{
		store:        st,
		presence:     pres,
		policy:       pol,
		gate:         gate,
		broadcaster:  bc,
		locks:        newKeyedMutex(),
		logger:       log,
		pendingQuota: pendingQuota,
		storeTimeout: storeTimeout,
	}
}

func (s *MessageService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Append persists a new message and broadcasts it. Preconditions run in
// order: participanthood, blocking policy, content gate, then the pending
// quota/state rules (re-evaluated inside the store transaction so retries see
// the latest history). Persistence strictly precedes any broadcast, and the
// per-chat lock keeps broadcast order equal to persisted append order.
func (s *MessageService) Append(ctx context.Context, chatID, sender, content string) (*model.Chat, *model.Message, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !chat.HasParticipant(sender) {
		metrics.SendRejections.WithLabelValues("forbidden").Inc()
		return nil, nil, fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
	}
	recipient := chat.Peer(sender)

	allowed, err := s.policy.CanSend(ctx, sender, recipient)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		metrics.SendRejections.WithLabelValues("blocked").Inc()
		return nil, nil, fmt.Errorf("send from %s to %s vetoed: %w", sender, recipient, errs.ErrBlocked)
	}

	if !s.gate.Allow(content) {
		metrics.SendRejections.WithLabelValues("content_rejected").Inc()
		return nil, nil, fmt.Errorf("content rejected by moderation gate: %w", errs.ErrForbidden)
	}

	now := time.Now()
	msg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    sender,
		Content:   content,
		Status:    model.MessageSent,
		CreatedAt: now,
	}

	chat, err = s.store.Update(ctx, chatID, func(chat *model.Chat) error {
		if err := s.checkAppendAllowed(chat, sender); err != nil {
			return err
		}
		chat.Messages = append(chat.Messages, msg)
		if chat.UnreadCount == nil {
			chat.UnreadCount = map[string]int{}
		}
		chat.UnreadCount[recipient]++
		chat.LastMessageAt = now
		return nil
	})
	if err != nil {
		if code := errs.Code(err); code != "internal" && code != "unavailable" {
			metrics.SendRejections.WithLabelValues(code).Inc()
		}
		return nil, nil, err
	}

	// Delivery promotion: recipient online means the message goes straight to
	// delivered. The promoted status is persisted before it is broadcast. A
	// failure here is non-fatal; the message stays durably sent and the next
	// read or poll picks it up.
	if s.presence.IsOnline(recipient) {
		promoted, promoteErr := s.store.Update(ctx, chatID, func(chat *model.Chat) error {
			if m := chat.MessageByID(msg.ID); m != nil {
				m.Advance(model.MessageDelivered, time.Now())
			}
			return nil
		})
		if promoteErr != nil {
			metrics.DeliveryPromotions.WithLabelValues("failed").Inc()
			s.logger.Warn("delivery promotion failed, message remains sent",
				zap.String("chat_id", chatID),
				zap.String("message_id", msg.ID),
				zap.Error(promoteErr),
			)
		} else {
			metrics.DeliveryPromotions.WithLabelValues("promoted").Inc()
			chat = promoted
			msg.Status = model.MessageDelivered
		}
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Status)).Inc()

	if err := s.broadcaster.ChatEvent(chatID, model.EventNewMessage, model.NewMessageEvent{
		ChatID:  chatID,
		Message: msg,
	}); err != nil {
		s.logger.Error("failed to broadcast new message",
			zap.String("chat_id", chatID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	if msg.Status == model.MessageDelivered {
		s.broadcastStatus(chatID, msg.ID, model.MessageDelivered, false)
	}

	return chat, &msg, nil
}

// checkAppendAllowed enforces the pending-phase rules. The quota is recounted
// from message history each call; history is the source of truth.
func (s *MessageService) checkAppendAllowed(chat *model.Chat, sender string) error {
	switch chat.Status {
	case model.ChatAccepted:
		return nil
	case model.ChatRejected:
		return fmt.Errorf("chat request was rejected: %w", errs.ErrInvalidState)
	}

	// Pending. Legacy records may lack an initiator; the quota then applies
	// to whoever is sending.
	initiator := chat.InitiatedBy
	if initiator != "" && sender != initiator {
		return fmt.Errorf("recipient cannot send before approving: %w", errs.ErrApprovalRequired)
	}
	if chat.CountFrom(sender) >= s.pendingQuota {
		return fmt.Errorf("initiator already sent %d messages while pending: %w", s.pendingQuota, errs.ErrQuotaExceeded)
	}
	return nil
}

// MarkRead bulk-promotes every peer message to read, stamps readAt and resets
// the reader's unread counter. Idempotent: a second call changes nothing.
func (s *MessageService) MarkRead(ctx context.Context, chatID, reader string) (*model.Chat, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var readIDs []string
	chat, err := s.store.Update(ctx, chatID, func(chat *model.Chat) error {
		if !chat.HasParticipant(reader) {
			return fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
		}
		readIDs = readIDs[:0] // mutator may rerun on conflict
		now := time.Now()
		for i := range chat.Messages {
			m := &chat.Messages[i]
			if m.Sender != reader && m.Advance(model.MessageRead, now) {
				readIDs = append(readIDs, m.ID)
			}
		}
		if chat.UnreadCount == nil {
			chat.UnreadCount = map[string]int{}
		}
		chat.UnreadCount[reader] = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range readIDs {
		s.broadcastStatus(chatID, id, model.MessageRead, false)
	}
	return chat, nil
}

// SoftDeleteMessage tombstones a message's content. Only the sender may
// delete; status and position are untouched.
func (s *MessageService) SoftDeleteMessage(ctx context.Context, chatID, messageID, actor string) (*model.Chat, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.store.Update(ctx, chatID, func(chat *model.Chat) error {
		if !chat.HasParticipant(actor) {
			return fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
		}
		m := chat.MessageByID(messageID)
		if m == nil {
			return fmt.Errorf("message %s: %w", messageID, errs.ErrNotFound)
		}
		if m.Sender != actor {
			return fmt.Errorf("only the sender may delete a message: %w", errs.ErrForbidden)
		}
		m.IsDeleted = true
		m.Content = model.Tombstone
		return nil
	})
	if err != nil {
		return nil, err
	}

	deleted := chat.MessageByID(messageID)
	s.broadcastStatus(chatID, messageID, deleted.Status, true)
	return chat, nil
}

// ListMessages returns a chat's message sequence for a participant.
func (s *MessageService) ListMessages(ctx context.Context, chatID, viewer string) ([]model.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(viewer) {
		return nil, fmt.Errorf("not a participant of chat %s: %w", chatID, errs.ErrForbidden)
	}
	return chat.Messages, nil
}

func (s *MessageService) broadcastStatus(chatID, messageID string, status model.MessageStatus, isDeleted bool) {
	if err := s.broadcaster.ChatEvent(chatID, model.EventMessageStatus, model.MessageStatusEvent{
		ChatID:    chatID,
		MessageID: messageID,
		Status:    status,
		IsDeleted: isDeleted,
	}); err != nil {
		s.logger.Error("failed to broadcast status update",
			zap.String("chat_id", chatID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}
