package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"beacon-server/internal/apperr"
	"beacon-server/internal/middleware"
	"beacon-server/internal/service"
)

// Handlers is the HTTP mutation surface: the same pipeline the socket gateway
// drives, with taxonomy errors reported synchronously.
type Handlers struct {
	svc *service.Service
	log *zap.Logger
}

func New(svc *service.Service, log *zap.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

// SendMessageHandler handles POST /messages/send.
func (h *Handlers) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("body", "invalid request body"))
		return
	}

	payload, err := h.svc.CreateMessage(r.Context(), middleware.UserID(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, payload)
}

// EditMessageHandler handles PUT /messages/edit.
func (h *Handlers) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("body", "invalid request body"))
		return
	}

	payload, err := h.svc.UpdateMessage(r.Context(), middleware.UserID(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, payload)
}

// DeleteMessageHandler handles DELETE /messages/delete?message_id=N.
func (h *Handlers) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messageID, err := strconv.ParseUint(r.URL.Query().Get("message_id"), 10, 32)
	if err != nil {
		h.writeError(w, apperr.Validation("message_id", "invalid message id"))
		return
	}

	payload, err := h.svc.DeleteMessage(r.Context(), middleware.UserID(r), uint(messageID))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, payload)
}

// GetChannelMessagesHandler handles GET /channels/messages?channel_id=X.
func (h *Handlers) GetChannelMessagesHandler(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		h.writeError(w, apperr.Validation("channel_id", "channel id is required"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseUint(r.URL.Query().Get("before_id"), 10, 32)

	payloads, err := h.svc.History(middleware.UserID(r), channelID, limit, uint(before))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": payloads,
		"count":    len(payloads),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	if ae.Code == apperr.CodeUnexpected {
		h.log.Error("request failed", zap.String("detail", ae.Internal))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(ae))
	json.NewEncoder(w).Encode(map[string]interface{}{"error": ae})
}
