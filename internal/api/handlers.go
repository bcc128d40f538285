package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"spacewatch/internal/chatbot"
	"spacewatch/internal/service"
	"spacewatch/internal/storage"
)

const maxWebhookBody = 1 << 20

type handler struct {
	pipeline Pipeline
	bot      *chatbot.Bot
	secret   string
	now      func() time.Time
	logger   zerolog.Logger
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func failure(message string) envelope {
	return envelope{Success: false, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// getSnapshot always answers 200: a failed refresh returns the stale
// snapshot, or null, with success=false.
func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true" || r.URL.Query().Get("refresh") == "1"
	res := h.pipeline.GetSnapshot(r.Context(), force)
	out := envelope{Success: res.Success, Data: res.Snapshot}
	if res.Err != nil {
		out.Message = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

type subscriptionView struct {
	SubscriberID    string     `json:"subscriber_id"`
	Topic           string     `json:"topic"`
	DisplayName     string     `json:"display_name,omitempty"`
	Schedule        string     `json:"schedule,omitempty"`
	Status          string     `json:"status"`
	SubscribedAt    time.Time  `json:"subscribed_at"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
}

func toView(s storage.Subscription) subscriptionView {
	return subscriptionView{
		SubscriberID:    s.SubscriberID,
		Topic:           string(s.Topic),
		DisplayName:     s.DisplayName,
		Schedule:        s.Schedule,
		Status:          string(s.Status),
		SubscribedAt:    s.SubscribedAt,
		LastDeliveredAt: s.LastDeliveredAt,
	}
}

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.pipeline.ListSubscriptions(r.Context(), chi.URLParam(r, "subscriberID"))
	views := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, toView(s))
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: views})
}

type subscribeRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Topic        string `json:"topic"`
	DisplayName  string `json:"display_name"`
	Schedule     string `json:"schedule"`
}

func (h *handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid JSON body"))
		return
	}
	if req.SubscriberID == "" || req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, failure("subscriber_id and topic are required"))
		return
	}
	topic, err := storage.ParseTopic(req.Topic)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}

	res := h.pipeline.Subscribe(r.Context(), req.SubscriberID, topic, req.DisplayName, req.Schedule)
	out := envelope{Success: res.Success, Message: res.Message}
	if res.Subscription != nil {
		out.Data = toView(*res.Subscription)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var topic storage.Topic
	if raw := r.URL.Query().Get("topic"); raw != "" {
		t, err := storage.ParseTopic(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, failure(err.Error()))
			return
		}
		topic = t
	}
	res := h.pipeline.Unsubscribe(r.Context(), chi.URLParam(r, "subscriberID"), topic)
	writeJSON(w, http.StatusOK, envelope{Success: res.Success, Message: res.Message, Data: map[string]int{"affected": res.Affected}})
}

func (h *handler) listTopicSubscribers(w http.ResponseWriter, r *http.Request) {
	topic, err := storage.ParseTopic(chi.URLParam(r, "topic"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	subs := h.pipeline.ListSubscribersByTopic(r.Context(), topic)
	type view struct {
		SubscriberID string `json:"subscriber_id"`
		Schedule     string `json:"schedule,omitempty"`
	}
	out := make([]view, 0, len(subs))
	for _, s := range subs {
		out = append(out, view{SubscriberID: s.SubscriberID, Schedule: s.Schedule})
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}

func (h *handler) runTick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		data any
		err  error
	)
	switch chi.URLParam(r, "name") {
	case service.TickDelivery:
		at := h.now()
		if raw := r.URL.Query().Get("at"); raw != "" {
			parsed, perr := time.Parse(time.RFC3339, raw)
			if perr != nil {
				writeJSON(w, http.StatusBadRequest, failure("at must be RFC3339"))
				return
			}
			at = parsed
		}
		data, err = h.pipeline.RunScheduledDeliveryTick(ctx, at)
	case service.TickAlerts:
		data, err = h.pipeline.RunAlertCheckTick(ctx)
	case service.TickRecord:
		data, err = h.pipeline.RunRecordingTick(ctx)
	default:
		writeJSON(w, http.StatusNotFound, failure("unknown tick"))
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("tick", chi.URLParam(r, "name")).Msg("manual tick failed")
		writeJSON(w, http.StatusOK, envelope{Success: false, Message: err.Error(), Data: data})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

type broadcastRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

func (h *handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, failure("invalid JSON body"))
		return
	}
	if req.Topic == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, failure("topic and message are required"))
		return
	}
	topic, err := storage.ParseTopic(req.Topic)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}

	res, err := h.pipeline.Broadcast(r.Context(), topic, req.Message)
	if errors.Is(err, service.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, failure(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sent": res.Sent, "total": res.Total})
}

type deliveryView struct {
	ID           string    `json:"id"`
	DeliveredAt  time.Time `json:"delivered_at"`
	SubscriberID string    `json:"subscriber_id"`
	Topic        string    `json:"topic"`
	Preview      string    `json:"preview"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

func (h *handler) recentDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, failure("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	records, err := h.pipeline.RecentDeliveries(r.Context(), limit)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, failure("delivery log unavailable"))
			return
		}
		h.logger.Error().Err(err).Msg("list deliveries failed")
		writeJSON(w, http.StatusInternalServerError, failure("list deliveries failed"))
		return
	}

	out := make([]deliveryView, 0, len(records))
	for _, rec := range records {
		out = append(out, deliveryView{
			ID:           rec.ID,
			DeliveredAt:  rec.DeliveredAt,
			SubscriberID: rec.SubscriberID,
			Topic:        string(rec.Topic),
			Preview:      rec.Preview,
			Success:      rec.Success,
			Error:        rec.Error,
		})
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure("unreadable body"))
		return
	}
	events, err := chatbot.ParseWebhook(h.secret, body, r.Header.Get("X-Line-Signature"))
	if errors.Is(err, chatbot.ErrInvalidSignature) {
		h.logger.Warn().Msg("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, failure("invalid signature"))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid payload"))
		return
	}

	for _, ev := range events {
		h.bot.HandleEvent(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}
