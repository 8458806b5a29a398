package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/trigger"
)

const adminReason = "admin request"

// DebugHandler exposes manual triggers and state inspection to operators.
type DebugHandler struct {
	*Handler
}

// NewDebugHandler creates a new debug handler.
func NewDebugHandler(base *Handler) *DebugHandler {
	return &DebugHandler{Handler: base}
}

// RegisterRoutes registers the debug routes.
func (h *DebugHandler) RegisterRoutes(r chi.Router) {
	r.Route("/debug", func(r chi.Router) {
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{conversationID}", h.GetConversation)
		r.Post("/trigger/{conversationID}", h.Trigger)
	})
}

// conversationView is the wire form of a conversation state.
type conversationView struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	UserName       string     `json:"user_name,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	LastTriggerAt  *time.Time `json:"last_trigger_at,omitempty"`
	TriggersToday  int        `json:"triggers_today"`
	DayAnchor      string     `json:"day_anchor,omitempty"`
	AwaitingReply  bool       `json:"awaiting_reply"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Scheduled *trigger.Decision `json:"scheduled,omitempty"`
	Manual    *trigger.Decision `json:"manual,omitempty"`
}

func newConversationView(s *domain.ConversationState) conversationView {
	v := conversationView{
		ConversationID: s.ConversationID,
		UserID:         s.UserID,
		UserName:       s.UserName,
		LastTriggerAt:  s.LastTriggerAt,
		TriggersToday:  s.TriggersToday,
		DayAnchor:      s.DayAnchor,
		AwaitingReply:  s.AwaitingReply,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.HasActivity() {
		at := s.LastActivityAt
		v.LastActivityAt = &at
	}
	return v
}

// ListConversations returns every tracked conversation.
func (h *DebugHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	states, err := h.repo.ListConversations(r.Context())
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	views := make([]conversationView, 0, len(states))
	for _, s := range states {
		views = append(views, newConversationView(s))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

// GetConversation returns one conversation with its current decisions in both modes.
func (h *DebugHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	state, err := h.engine.State(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, id, err)
		return
	}
	view := newConversationView(state)

	for _, mode := range []trigger.Mode{trigger.ModeScheduled, trigger.ModeManual} {
		d, err := h.engine.Evaluate(r.Context(), id, mode)
		if err != nil {
			h.writeEngineError(w, id, err)
			return
		}
		if mode == trigger.ModeManual {
			view.Manual = &d
		} else {
			view.Scheduled = &d
		}
	}

	JSON(w, http.StatusOK, view)
}

// Trigger runs a trigger for one conversation. Manual mode is the default;
// ?mode=scheduled applies the silence check as well.
func (h *DebugHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	mode := trigger.ModeManual
	switch r.URL.Query().Get("mode") {
	case "", "manual":
	case "scheduled":
		mode = trigger.ModeScheduled
	default:
		Error(w, http.StatusBadRequest, "mode must be manual or scheduled")
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = adminReason
	}

	slog.Info("Admin trigger requested", "conversation_id", id, "mode", mode.String())
	out, err := h.engine.Trigger(r.Context(), id, mode, reason)
	if errors.Is(err, trigger.ErrDispatchFailed) {
		slog.Warn("Admin trigger dispatch failed", "conversation_id", id, "error", err)
		JSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "dispatch failed",
			"outcome": out,
		})
		return
	}
	if err != nil {
		h.writeEngineError(w, id, err)
		return
	}

	JSON(w, http.StatusOK, out)
}

func (h *DebugHandler) writeEngineError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, trigger.ErrUnknownConversation) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	slog.Error("Admin request failed", "conversation_id", id, "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
