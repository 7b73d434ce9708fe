package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/errs"
	"github.com/collabhub/messaging-platform/internal/middleware"
	"github.com/collabhub/messaging-platform/internal/model"
	natsclient "github.com/collabhub/messaging-platform/internal/nats"
	"github.com/collabhub/messaging-platform/internal/presence"
	"github.com/collabhub/messaging-platform/internal/service"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 128 * 1024
	sendBufferSize = 256
)

// WSHandler upgrades connections to the push channel and runs their
// lifecycles. Every inbound operation is dispatched to the same services the
// REST surface uses, so the two paths are semantically equivalent.
type WSHandler struct {
	chatService    *service.ChatService
	messageService *service.MessageService
	tracker        *presence.Tracker
	broadcaster    *natsclient.Broadcaster
	logger         *logger.Logger
	jwtSecret      string
	maxContentSize int
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new push-channel handler.
func NewWSHandler(
	chatSvc *service.ChatService,
	msgSvc *service.MessageService,
	tracker *presence.Tracker,
	bc *natsclient.Broadcaster,
	log *logger.Logger,
	jwtSecret string,
	maxContentSize int,
) *WSHandler {
	return &WSHandler{
		chatService:    chatSvc,
		messageService: msgSvc,
		tracker:        tracker,
		broadcaster:    bc,
		logger:         log,
		jwtSecret:      jwtSecret,
		maxContentSize: maxContentSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /ws. The credential comes from the Authorization header
// or a token query parameter (browser WebSocket clients cannot set headers).
// Unauthenticated and suspended identities are rejected before the upgrade.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}

	identity, err := middleware.VerifyToken(token, h.jwtSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(h, conn, identity)
	metrics.IncrementWSConnections()
	h.logger.Info("push channel connected", zap.String("identity", identity))

	// Bind the identity-scoped room and the global presence feed at connect
	// time; chat rooms are joined explicitly per open chat view.
	if err := client.bindBaseRooms(); err != nil {
		h.logger.Error("failed to bind base rooms", zap.String("identity", identity), zap.Error(err))
		client.shutdown()
		return
	}

	go client.writePump()
	client.readPump()
}

// OnlineUsers handles GET /api/v1/presence — the on-demand Query surface.
func (h *WSHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"online": h.tracker.Query(),
	})
}

// wsClient is one live push-channel connection. The read pump is the only
// goroutine reading the socket; the write pump is the only one writing it.
type wsClient struct {
	h        *WSHandler
	conn     *websocket.Conn
	identity string

	send   chan []byte    // frames produced locally (errors, acks)
	relay  chan *nats.Msg // frames fanned in from subscribed rooms
	done   chan struct{}
	closer sync.Once

	mu       sync.Mutex
	chatSubs map[string]*nats.Subscription
	baseSubs []*nats.Subscription
}

func newWSClient(h *WSHandler, conn *websocket.Conn, identity string) *wsClient {
	return &wsClient{
		h:        h,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
		relay:    make(chan *nats.Msg, sendBufferSize),
		done:     make(chan struct{}),
		chatSubs: make(map[string]*nats.Subscription),
	}
}

// Close implements presence.Handle. Closing the socket makes the read pump
// exit, which runs the full shutdown path.
func (c *wsClient) Close() error {
	return c.conn.Close()
}

func (c *wsClient) bindBaseRooms() error {
	userSub, err := c.h.broadcaster.SubscribeUser(c.identity, c.relay)
	if err != nil {
		return err
	}
	presSub, err := c.h.broadcaster.SubscribePresence(c.relay)
	if err != nil {
		userSub.Unsubscribe()
		return err
	}
	c.baseSubs = []*nats.Subscription{userSub, presSub}
	return nil
}

func (c *wsClient) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.logger.Warn("push channel read error",
					zap.String("identity", c.identity),
					zap.Error(err),
				)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.sendError("bad_request", "malformed envelope")
			continue
		}
		c.dispatch(&env)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case msg := <-c.relay:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// dispatch routes one inbound envelope. Failures are reported as error events
// on the same connection; the connection stays open.
func (c *wsClient) dispatch(env *model.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case model.EventPresenceAnnounce:
		var p model.PresenceAnnouncePayload
		if !c.decode(env.Data, &p) {
			return
		}
		if !c.actorMatches(p.Identity) {
			return
		}
		c.h.tracker.Register(c.identity, c)

	case model.EventJoinChatRoom:
		var p model.ChatRoomPayload
		if !c.decode(env.Data, &p) {
			return
		}
		c.joinChat(ctx, p.ChatID)

	case model.EventLeaveChatRoom:
		var p model.ChatRoomPayload
		if !c.decode(env.Data, &p) {
			return
		}
		c.leaveChat(p.ChatID)

	case model.EventSendMessage:
		var p model.SendMessagePayload
		if !c.decode(env.Data, &p) {
			return
		}
		if !c.actorMatches(p.Identity) {
			return
		}
		if err := middleware.ValidateMessageContent(p.Content, c.h.maxContentSize); err != nil {
			c.sendError("bad_request", err.Error())
			return
		}
		if _, _, err := c.h.messageService.Append(ctx, p.ChatID, c.identity, p.Content); err != nil {
			c.sendDomainError(err)
		}

	case model.EventMarkRead:
		var p model.MarkReadPayload
		if !c.decode(env.Data, &p) {
			return
		}
		if !c.actorMatches(p.Identity) {
			return
		}
		if _, err := c.h.messageService.MarkRead(ctx, p.ChatID, c.identity); err != nil {
			c.sendDomainError(err)
		}

	case model.EventDeleteMessage:
		var p model.DeleteMessagePayload
		if !c.decode(env.Data, &p) {
			return
		}
		if !c.actorMatches(p.Identity) {
			return
		}
		if _, err := c.h.messageService.SoftDeleteMessage(ctx, p.ChatID, p.MessageID, c.identity); err != nil {
			c.sendDomainError(err)
		}

	default:
		c.sendError("bad_request", "unknown event type: "+string(env.Type))
	}
}

// actorMatches rejects payloads whose claimed identity differs from the
// authenticated connection identity. Never silently corrected.
func (c *wsClient) actorMatches(claimed string) bool {
	if claimed == c.identity {
		return true
	}
	c.sendDomainError(errs.ErrIdentityMismatch)
	return false
}

func (c *wsClient) joinChat(ctx context.Context, chatID string) {
	if _, err := c.h.chatService.Get(ctx, chatID, c.identity); err != nil {
		c.sendDomainError(err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, joined := c.chatSubs[chatID]; joined {
		return
	}
	sub, err := c.h.broadcaster.SubscribeChat(chatID, c.relay)
	if err != nil {
		c.sendError("unavailable", "failed to join chat room")
		return
	}
	c.chatSubs[chatID] = sub
}

func (c *wsClient) leaveChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, joined := c.chatSubs[chatID]; joined {
		sub.Unsubscribe()
		delete(c.chatSubs, chatID)
	}
}

func (c *wsClient) decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.sendError("bad_request", "malformed payload")
		return false
	}
	return true
}

func (c *wsClient) sendDomainError(err error) {
	c.sendError(errs.Code(err), err.Error())
}

func (c *wsClient) sendError(code, message string) {
	data, err := json.Marshal(model.ErrorEvent{Code: code, Message: message})
	if err != nil {
		return
	}
	frame, err := json.Marshal(model.Envelope{Type: model.EventError, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Slow consumer; drop the error frame rather than block the pump.
	}
}

// shutdown unwinds a connection: presence unregister (only if this connection
// is still the identity's current one), room unsubscribes, socket close. A
// dropped connection never rolls back durable appends.
func (c *wsClient) shutdown() {
	c.closer.Do(func() {
		close(c.done)

		c.h.tracker.UnregisterIf(c.identity, c)

		c.mu.Lock()
		for _, sub := range c.chatSubs {
			sub.Unsubscribe()
		}
		c.chatSubs = map[string]*nats.Subscription{}
		for _, sub := range c.baseSubs {
			sub.Unsubscribe()
		}
		c.baseSubs = nil
		c.mu.Unlock()

		c.conn.Close()
		metrics.DecrementWSConnections()
		c.h.logger.Info("push channel disconnected", zap.String("identity", c.identity))
	})
}
