package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sendbridge/delivery/internal/callback"
	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/repo"
	"github.com/sendbridge/delivery/internal/scheduler"
	"github.com/sendbridge/delivery/internal/service"
)

type Handler struct {
	broadcasts *service.BroadcastService
	sender     *service.Sender
	callbacks  *callback.Processor
	retrySched *scheduler.Scheduler
	messages   repo.MessageRepository
}

func NewHandler(
	broadcasts *service.BroadcastService,
	sender *service.Sender,
	callbacks *callback.Processor,
	retrySched *scheduler.Scheduler,
	messages repo.MessageRepository,
) *Handler {
	return &Handler{
		broadcasts: broadcasts,
		sender:     sender,
		callbacks:  callbacks,
		retrySched: retrySched,
		messages:   messages,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createBroadcastRequest struct {
	Body      string  `json:"body"`
	CreatedBy int64   `json:"createdBy"`
	GroupIDs  []int64 `json:"groupIds"`
}

func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	b, recipients, err := h.broadcasts.Create(r.Context(), req.Body, req.CreatedBy, req.GroupIDs)
	switch {
	case errors.Is(err, model.ErrGroupNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, model.ErrNoRecipients):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         b.ID,
		"status":     b.Status,
		"recipients": recipients,
	})
}

func (h *Handler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	b, progress, err := h.broadcasts.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "broadcast not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          b.ID,
		"status":      b.Status,
		"createdAt":   b.CreatedAt,
		"completedAt": b.CompletedAt,
		"progress": map[string]int{
			"total":   progress.Total,
			"pending": progress.Pending,
			"sent":    progress.Sent,
			"failed":  progress.Failed,
		},
	})
}

type sendMessageRequest struct {
	Phone  string `json:"phone"`
	Body   string `json:"body"`
	Origin string `json:"origin"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	origin := model.MessageOrigin(req.Origin)
	if origin == "" {
		origin = model.OriginStaff
	}

	m, err := h.sender.Send(r.Context(), req.Phone, req.Body, origin)
	switch {
	case errors.Is(err, service.ErrInvalidMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          m.ID,
		"status":      m.DeliveryStatus,
		"providerRef": m.ProviderRef,
	})
}

// StatusCallback is the provider webhook. Authentication happens in the
// surrounding middleware; payloads reaching here are trusted.
func (h *Handler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	var cb callback.StatusCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	result, err := h.callbacks.Process(r.Context(), cb)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handler) RetrySchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.retrySched.IsRunning()})
}

func (h *Handler) RetrySchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.retrySched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.retrySched.IsRunning()})
}

func (h *Handler) RetrySchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.retrySched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.retrySched.IsRunning()})
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.messages.ListSent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
