package notify

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
	"github.com/atmx/trading-sim/internal/httpapi"
)

// ManualRule names alerts sent through the API rather than raised by a rule.
const ManualRule = "manual"

// Handler exposes the feed over HTTP and lets operators publish alerts.
type Handler struct {
	feed *Feed
	bus  bus.Bus
	log  zerolog.Logger
}

// NewHandler creates the notification HTTP handlers.
func NewHandler(feed *Feed, b bus.Bus, log zerolog.Logger) *Handler {
	return &Handler{feed: feed, bus: b, log: log}
}

// SendRequest is the JSON body for POST /notifications.
type SendRequest struct {
	Message string `json:"message" validate:"required,max=512"`
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.feed.List())
}

// ClearNotifications handles DELETE /api/v1/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, _ *http.Request) {
	h.feed.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// SendNotification handles POST /api/v1/notifications
// The message goes out on notification.alert like any rule-raised alert, so
// it reaches the feed and WebSocket clients asynchronously.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := httpapi.DecodeAndValidate(r, &req); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	payload, err := events.Encode(events.Alert{
		Message:   req.Message,
		Rule:      ManualRule,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	if err := h.bus.Publish(r.Context(), events.TopicNotificationAlert, payload); err != nil {
		h.log.Error().Err(err).Msg("publish notification failed")
		httpapi.WriteError(w, "notification not accepted", http.StatusServiceUnavailable)
		return
	}
	httpapi.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications", h.SendNotification)
	r.Delete("/notifications", h.ClearNotifications)
}
