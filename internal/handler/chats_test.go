package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/messaging-platform/internal/middleware"
	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/internal/moderation"
	"github.com/collabhub/messaging-platform/internal/policy"
	"github.com/collabhub/messaging-platform/internal/service"
	"github.com/collabhub/messaging-platform/internal/store"
	"github.com/collabhub/messaging-platform/pkg/logger"
)

const testSecret = "handler-test-secret"

// nopBroadcaster satisfies service.Broadcaster for REST tests that do not
// inspect push traffic.
type nopBroadcaster struct{}

func (nopBroadcaster) ChatEvent(string, model.EventType, any) error { return nil }
func (nopBroadcaster) UserEvent(string, model.EventType, any) error { return nil }

type offlinePresence struct{}

func (offlinePresence) IsOnline(string) bool { return false }

// newTestRouter wires the REST surface the way main does, minus NATS, rate
// limiting and metrics.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	st, err := store.Open(store.Options{InMemory: true}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gate, err := moderation.NewTermGate(nil)
	require.NoError(t, err)

	log := logger.NewNop()
	bc := nopBroadcaster{}
	chatSvc := service.NewChatService(st, bc, log, 5*time.Second)
	msgSvc := service.NewMessageService(
		st, offlinePresence{}, policy.NewBlockListStore(st.DB()), gate, bc, log,
		2, 5*time.Second,
	)

	chatHandler := NewChatHandler(chatSvc, log)
	messageHandler := NewMessageHandler(msgSvc, log, 1000)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatHandler.OpenOrCreate)
			r.Get("/", chatHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", chatHandler.Get)
				r.Delete("/", chatHandler.Delete)
				r.Post("/approve", chatHandler.Approve)
				r.Post("/reject", chatHandler.Reject)
				r.Post("/read", messageHandler.MarkRead)
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Delete("/messages/{messageID}", messageHandler.Delete)
			})
		})
	})
	return r
}

func bearerFor(t *testing.T, identity string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, router http.Handler, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Authorization", bearerFor(t, identity))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) model.Chat {
	t.Helper()
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	return chat
}

func TestRESTChatLifecycle(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	// Alice opens a chat with bob.
	w := doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{PeerID: "bob"})
	req.Equal(http.StatusOK, w.Code)
	chat := decodeChat(t, w)
	req.Equal(model.ChatPending, chat.Status)

	// Pending quota: two sends pass, the third is throttled.
	for i := 0; i < 2; i++ {
		w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "alice", model.SendMessageRequest{Content: "hello"})
		req.Equal(http.StatusCreated, w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "alice", model.SendMessageRequest{Content: "hello again"})
	req.Equal(http.StatusTooManyRequests, w.Code)

	// Bob cannot reply before approving.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "bob", model.SendMessageRequest{Content: "hi"})
	req.Equal(http.StatusForbidden, w.Code)

	// Alice cannot approve her own request.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/approve", "alice", nil)
	req.Equal(http.StatusForbidden, w.Code)

	// Bob approves, then replies.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/approve", "bob", nil)
	req.Equal(http.StatusOK, w.Code)
	req.Equal(model.ChatAccepted, decodeChat(t, w).Status)

	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "bob", model.SendMessageRequest{Content: "hi alice"})
	req.Equal(http.StatusCreated, w.Code)

	// Bob marks alice's messages read.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/read", "bob", nil)
	req.Equal(http.StatusOK, w.Code)
	updated := decodeChat(t, w)
	req.Equal(0, updated.UnreadCount["bob"])
	req.Equal(model.MessageRead, updated.Messages[0].Status)

	// A second approve on an already-accepted chat conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/approve", "bob", nil)
	req.Equal(http.StatusConflict, w.Code)
}

func TestRESTAccessControl(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{PeerID: "bob"})
	req.Equal(http.StatusOK, w.Code)
	chat := decodeChat(t, w)

	// An outsider cannot read or act on the chat.
	w = doJSON(t, router, http.MethodGet, "/api/v1/chats/"+chat.ID, "mallory", nil)
	req.Equal(http.StatusForbidden, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/approve", "mallory", nil)
	req.Equal(http.StatusForbidden, w.Code)

	// Unauthenticated requests never reach the handlers.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestRESTValidation(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	// Malformed chat id.
	w := doJSON(t, router, http.MethodGet, "/api/v1/chats/not-a-uuid", "alice", nil)
	req.Equal(http.StatusBadRequest, w.Code)

	// Self chat.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{PeerID: "alice"})
	req.Equal(http.StatusForbidden, w.Code)

	// Empty peer.
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{})
	req.Equal(http.StatusBadRequest, w.Code)

	// Unknown chat.
	w = doJSON(t, router, http.MethodGet, "/api/v1/chats/00000000-0000-7000-8000-000000000000", "alice", nil)
	req.Equal(http.StatusNotFound, w.Code)

	// Empty message content.
	wOpen := doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{PeerID: "bob"})
	chat := decodeChat(t, wOpen)
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "alice", model.SendMessageRequest{Content: ""})
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestRESTSoftDeleteMessage(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/chats", "alice", model.OpenChatRequest{PeerID: "bob"})
	chat := decodeChat(t, w)
	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/approve", "bob", nil)
	req.Equal(http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/chats/"+chat.ID+"/messages", "alice", model.SendMessageRequest{Content: "oops"})
	req.Equal(http.StatusCreated, w.Code)
	msgID := decodeChat(t, w).Messages[0].ID

	// Only the sender may delete.
	w = doJSON(t, router, http.MethodDelete, "/api/v1/chats/"+chat.ID+"/messages/"+msgID, "bob", nil)
	req.Equal(http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/chats/"+chat.ID+"/messages/"+msgID, "alice", nil)
	req.Equal(http.StatusOK, w.Code)
	deleted := decodeChat(t, w).Messages[0]
	req.True(deleted.IsDeleted)
	req.Equal(model.Tombstone, deleted.Content)
}
