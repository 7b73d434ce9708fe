// Package handler provides HTTP handlers and the WebSocket gateway.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/collabhub/messaging-platform/internal/middleware"
	"github.com/collabhub/messaging-platform/internal/model"
	"github.com/collabhub/messaging-platform/internal/service"
	"github.com/collabhub/messaging-platform/pkg/logger"
)

// ChatHandler handles the chat lifecycle endpoints. Every write returns the
// full updated Chat aggregate.
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// OpenOrCreate handles POST /api/v1/chats
func (h *ChatHandler) OpenOrCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)

	var req model.OpenChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateIdentity(req.PeerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.OpenOrCreate(ctx, identity, req.PeerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)

	chats, err := h.service.List(ctx, identity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListChatsResponse{
		Chats: chats,
		Total: len(chats),
	})
}

// Get handles GET /api/v1/chats/:id
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)
	chatID := chi.URLParam(r, "id")

	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.Get(ctx, chatID, identity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Approve handles POST /api/v1/chats/:id/approve
func (h *ChatHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.service.Approve)
}

// Reject handles POST /api/v1/chats/:id/reject
func (h *ChatHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.service.Reject)
}

func (h *ChatHandler) resolve(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, chatID, actor string) (*model.Chat, error),
) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)
	chatID := chi.URLParam(r, "id")

	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := op(ctx, chatID, identity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Delete handles DELETE /api/v1/chats/:id — adds the caller to the chat's
// soft-delete set. Chats are never hard-deleted.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)
	chatID := chi.URLParam(r, "id")

	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.SoftDeleteChat(ctx, chatID, identity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}
