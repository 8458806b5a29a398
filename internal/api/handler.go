// Package api provides the admin HTTP surface of the trigger daemon.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/store"
	"github.com/ashureev/nudge/internal/trigger"
)

// Engine is the subset of the trigger engine the admin surface drives.
type Engine interface {
	Trigger(ctx context.Context, conversationID string, mode trigger.Mode, reason string) (trigger.Outcome, error)
	Evaluate(ctx context.Context, conversationID string, mode trigger.Mode) (trigger.Decision, error)
	State(ctx context.Context, conversationID string) (*domain.ConversationState, error)
}

var _ Engine = (*trigger.Engine)(nil)

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	engine Engine
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, engine Engine) *Handler {
	return &Handler{repo: repo, engine: engine}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
