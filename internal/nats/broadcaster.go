package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/metrics"
)

// Subject layout. Chats are broadcast on one subject each, so every
// subscriber of a chat observes its events in publish order. Durability lives
// in the chat store; the bus is fan-out only.
const (
	chatSubjectPrefix = "chat.events."
	presenceSubject   = "presence.events"
	userSubjectPrefix = "user.events."
)

// ChatSubject returns the broadcast subject for one chat.
func ChatSubject(chatID string) string {
	return chatSubjectPrefix + chatID
}

// UserSubject returns the identity-scoped subject for targeted pushes.
func UserSubject(identity string) string {
	return userSubjectPrefix + identity
}

// Broadcaster publishes push-channel events and hands out subscriptions for
// the gateway's room bindings.
type Broadcaster struct {
	client *Client
	logger *logger.Logger
}

// NewBroadcaster creates a broadcaster over client.
func NewBroadcaster(client *Client, log *logger.Logger) *Broadcaster {
	return &Broadcaster{client: client, logger: log}
}

func (b *Broadcaster) publish(subject, subjectClass string, eventType model.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	frame, err := json.Marshal(model.Envelope{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.Conn().Publish(subject, frame); err != nil {
		metrics.BroadcastErrors.WithLabelValues(subjectClass).Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// ChatEvent broadcasts an event on the chat's ordered subject.
func (b *Broadcaster) ChatEvent(chatID string, eventType model.EventType, payload any) error {
	return b.publish(ChatSubject(chatID), "chat", eventType, payload)
}

// UserEvent pushes an event to one identity's room.
func (b *Broadcaster) UserEvent(identity string, eventType model.EventType, payload any) error {
	return b.publish(UserSubject(identity), "user", eventType, payload)
}

// PresenceChanged implements presence.Notifier: global broadcast of an
// online/offline transition plus the current online-id set.
func (b *Broadcaster) PresenceChanged(identity string, online bool, onlineSet []string, lastSeen time.Time) {
	event := model.PresenceChangedEvent{
		Identity:  identity,
		Online:    online,
		OnlineSet: onlineSet,
	}
	if !online {
		event.LastSeen = &lastSeen
	}
	if err := b.publish(presenceSubject, "presence", model.EventPresenceChanged, event); err != nil {
		b.logger.Error("failed to broadcast presence change",
			zap.String("identity", identity),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

// SubscribeChat delivers a chat room's frames to ch.
func (b *Broadcaster) SubscribeChat(chatID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return b.client.Conn().ChanSubscribe(ChatSubject(chatID), ch)
}

// SubscribeUser delivers an identity room's frames to ch.
func (b *Broadcaster) SubscribeUser(identity string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return b.client.Conn().ChanSubscribe(UserSubject(identity), ch)
}

// SubscribePresence delivers global presence frames to ch.
func (b *Broadcaster) SubscribePresence(ch chan *nats.Msg) (*nats.Subscription, error) {
	return b.client.Conn().ChanSubscribe(presenceSubject, ch)
}
