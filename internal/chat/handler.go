// Package chat is the REST boundary over the chat store: history pages,
// unread counts and the delete operations. The realtime path lives in
// gateway; these endpoints are the authoritative state clients re-sync from.
package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"peerlink/internal/gateway"
	"peerlink/internal/middleware"
	"peerlink/internal/store"
)

type Handler struct {
	logger *zap.SugaredLogger
	store  *store.Store
	hub    *gateway.Hub
}

func NewHandler(logger *zap.SugaredLogger, st *store.Store, hub *gateway.Hub) *Handler {
	return &Handler{logger: logger, store: st, hub: hub}
}

// GET /api/peer-message/all/{chatId}?page=&limit=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	page := queryInt(r, "page", 0)
	limit := queryInt(r, "limit", 20)

	messages, err := h.store.MessagesByChat(r.Context(), chatID, callerID, page, limit)
	if err != nil {
		h.logger.Errorw("fetch messages", "chat", chatID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"messages": messages,
		"hasMore":  len(messages) == limit,
	})
}

// GET /api/peer-message/unread/{chatId}
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	count, err := h.store.UnreadCount(r.Context(), chatID, callerID)
	if err != nil {
		h.logger.Errorw("unread count", "chat", chatID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]int64{"unread": count})
}

// DELETE /api/peer-message/delete/for-me/{messageId}
func (h *Handler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteForMe(r.Context(), messageID, callerID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/peer-message/delete/for-everyone/{messageId}?participantId=
// participantId is the other side of the chat; if they are online they get
// the messageDltForEv push, otherwise their next poll picks it up.
func (h *Handler) DeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteForEveryone(r.Context(), messageID); err != nil {
		h.respondStoreError(w, err)
		return
	}

	if participantID, err := strconv.ParseInt(r.URL.Query().Get("participantId"), 10, 64); err == nil {
		h.hub.MessageDeleted(participantID, messageID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/peer-message/clear/{chatId}
func (h *Handler) ClearChat(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	if err := h.store.ClearChat(r.Context(), chatID, callerID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/peer-chat/{peerId}
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peerID, err := pathID(r, "peerId")
	if err != nil {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}

	chatID, created, err := h.store.CreateChat(r.Context(), callerID, peerID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	// 201 only for first contact; a found or revived chat is a 200.
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]int64{"chat_id": chatID})
}

// GET /api/peer-chat/all
func (h *Handler) GetChats(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.store.ChatsByUser(r.Context(), callerID)
	if err != nil {
		h.logger.Errorw("fetch chats", "user", callerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(chats)
}

// DELETE /api/peer-chat/{chatId}
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID, err := pathID(r, "chatId")
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteChat(r.Context(), chatID, callerID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrChatNotExist),
		errors.Is(err, store.ErrMessageNotExist),
		errors.Is(err, store.ErrUserNotExist):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrPeerDeclines):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Errorw("store operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func callerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(middleware.UserKey).(int64)
	return id, ok
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
