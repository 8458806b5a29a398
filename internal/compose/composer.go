// Package compose selects the seed material for a proactive message.
//
// Long-term memory is preferred. When memory is disabled, misses, fails or
// times out, recent conversation history is used instead. When that fails
// too the draft goes out with an empty seed.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// Memory answers a free-form question about a user from long-term memory.
// An empty answer is a miss.
type Memory interface {
	Query(ctx context.Context, userID, question string) (string, error)
}

// Context returns the most recent messages of a conversation, oldest first.
type Context interface {
	History(ctx context.Context, conversationID string, count int) ([]domain.HistoryMessage, error)
}

// Config controls source selection.
type Config struct {
	MemoryEnabled    bool
	QuestionTemplate string
	HistoryCount     int
	MemoryTimeout    time.Duration
	ContextTimeout   time.Duration
}

// Composer builds drafts from memory or recent context.
type Composer struct {
	memory  Memory
	context Context
	cfg     Config
	logger  *slog.Logger
}

// New creates a composer. memory may be nil when the deployment has no memory service.
func New(memory Memory, history Context, cfg Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{memory: memory, context: history, cfg: cfg, logger: logger}
}

// Compose returns the draft for one proactive send. It never fails because of a
// collaborator; the returned error is reserved for ctx cancellation.
func (c *Composer) Compose(ctx context.Context, state *domain.ConversationState, reason string) (domain.Draft, error) {
	draft := domain.Draft{
		ConversationID: state.ConversationID,
		UserID:         state.UserID,
		UserName:       state.DisplayName(),
		Reason:         reason,
		Source:         domain.SeedSourceEmpty,
	}

	if c.cfg.MemoryEnabled && c.memory != nil {
		draft.Question = RenderQuestion(c.cfg.QuestionTemplate, state)
		seed, err := c.queryMemory(ctx, state.UserID, draft.Question)
		switch {
		case err != nil:
			c.logger.Warn("Memory query failed, falling back to context",
				"conversation_id", state.ConversationID, "error", err)
		case strings.TrimSpace(seed) != "":
			draft.Source = domain.SeedSourceMemory
			draft.Seed = strings.TrimSpace(seed)
			return draft, nil
		default:
			c.logger.Debug("Memory miss, falling back to context", "conversation_id", state.ConversationID)
		}
	}

	if err := ctx.Err(); err != nil {
		return draft, fmt.Errorf("compose draft: %w", err)
	}

	history, err := c.queryContext(ctx, state.ConversationID)
	if err != nil {
		c.logger.Warn("Context query failed, composing with empty seed",
			"conversation_id", state.ConversationID, "error", err)
		return draft, nil
	}

	draft.Source = domain.SeedSourceContext
	draft.History = history
	draft.Seed = FormatHistory(history)
	return draft, nil
}

func (c *Composer) queryMemory(ctx context.Context, userID, question string) (string, error) {
	if c.cfg.MemoryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MemoryTimeout)
		defer cancel()
	}
	return c.memory.Query(ctx, userID, question)
}

func (c *Composer) queryContext(ctx context.Context, conversationID string) ([]domain.HistoryMessage, error) {
	if c.context == nil {
		return nil, fmt.Errorf("no context service configured")
	}
	if c.cfg.ContextTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ContextTimeout)
		defer cancel()
	}
	return c.context.History(ctx, conversationID, c.cfg.HistoryCount)
}
