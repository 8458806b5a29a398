package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/nudge/internal/config"
	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/gate"
	"github.com/ashureev/nudge/internal/store"
)

var (
	// ErrDispatchFailed wraps transport errors. The trigger is not committed and
	// the conversation stays eligible for the next scan.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrUnknownConversation is returned when no state exists for a conversation.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Skip reasons for eligible triggers that still sent nothing.
const (
	SkipEmptyGeneration = "empty_generation"
	SkipDuplicate       = "duplicate"
)

// Composer produces the draft for a proactive message.
type Composer interface {
	Compose(ctx context.Context, state *domain.ConversationState, reason string) (domain.Draft, error)
}

// Generator turns a draft into message text.
type Generator interface {
	Generate(ctx context.Context, draft domain.Draft) (string, error)
}

// Sender delivers text to a conversation.
type Sender interface {
	Send(ctx context.Context, conversationID, content string) error
}

// Outcome describes what a Trigger call did.
type Outcome struct {
	ConversationID string            `json:"conversation_id"`
	Mode           string            `json:"mode"`
	Sent           bool              `json:"sent"`
	Reason         gate.Reason       `json:"reason,omitempty"`
	Skipped        string            `json:"skipped,omitempty"`
	Source         domain.SeedSource `json:"source,omitempty"`
	Content        string            `json:"content,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Policy          config.Policy
	SelfID          string
	DispatchTimeout time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// slot serializes all work on one conversation.
type slot struct {
	mu       sync.Mutex
	inFlight bool
}

// Engine owns conversation state transitions: observing messages, evaluating
// eligibility and dispatching proactive messages.
type Engine struct {
	repo      store.Repository
	composer  Composer
	generator Generator
	sender    Sender

	eval       *Evaluator
	limiter    gate.RateLimiter
	silence    gate.SilenceTracker
	unanswered gate.UnansweredGate

	policy          config.Policy
	selfID          string
	dispatchTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// NewEngine wires an engine.
func NewEngine(repo store.Repository, composer Composer, generator Generator, sender Sender, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = time.Minute
	}
	return &Engine{
		repo:            repo,
		composer:        composer,
		generator:       generator,
		sender:          sender,
		eval:            NewEvaluator(opts.Policy),
		limiter:         gate.RateLimiter{Limits: opts.Policy.Limits},
		silence:         gate.SilenceTracker{Threshold: opts.Policy.Silence.Threshold},
		unanswered:      gate.UnansweredGate{RequireReply: opts.Policy.Limits.RequireReplyBeforeNext},
		policy:          opts.Policy,
		selfID:          opts.SelfID,
		dispatchTimeout: opts.DispatchTimeout,
		now:             opts.Now,
		logger:          opts.Logger,
		slots:           make(map[string]*slot),
	}
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() config.Policy {
	return e.policy
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) slot(conversationID string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[conversationID]
	if !ok {
		s = &slot{}
		e.slots[conversationID] = s
	}
	return s
}

// ObserveInbound records a chat message. Only private conversations are tracked.
// Messages from the agent itself count as activity but not as a reply.
func (e *Engine) ObserveInbound(ctx context.Context, msg domain.InboundMessage) error {
	if !msg.IsPrivate {
		return nil
	}
	if msg.ConversationID == "" {
		return errors.New("observe message: missing conversation id")
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = e.now()
	}

	s := e.slot(msg.ConversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := e.repo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", msg.ConversationID, err)
	}
	if state == nil {
		state = &domain.ConversationState{ConversationID: msg.ConversationID}
	}

	e.silence.RecordActivity(state, at)
	if msg.SenderID != e.selfID || e.selfID == "" {
		e.unanswered.RecordReply(state)
		state.UserID = msg.SenderID
		if msg.SenderName != "" {
			state.UserName = msg.SenderName
		}
	}
	state.UpdatedAt = e.now()

	if err := e.repo.UpsertConversation(ctx, state); err != nil {
		return fmt.Errorf("save conversation %s: %w", msg.ConversationID, err)
	}
	return nil
}

// Evaluate reports the current decision for a conversation without side effects.
func (e *Engine) Evaluate(ctx context.Context, conversationID string, mode Mode) (Decision, error) {
	s := e.slot(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := e.load(ctx, conversationID)
	if err != nil {
		return Decision{}, err
	}
	if s.inFlight {
		return ineligible(gate.ReasonDispatchInFlight), nil
	}
	return e.eval.Evaluate(state, e.now(), mode), nil
}

// State returns a copy of the persisted state for a conversation.
func (e *Engine) State(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	return e.load(ctx, conversationID)
}

func (e *Engine) load(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	state, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	return state, nil
}

// Trigger evaluates a conversation and, when eligible, composes, generates and
// sends one proactive message. The slot is reserved for the duration of the
// dispatch so concurrent calls for the same conversation report dispatch_in_flight.
// State is committed only after the transport accepted the message.
func (e *Engine) Trigger(ctx context.Context, conversationID string, mode Mode, reason string) (Outcome, error) {
	out := Outcome{ConversationID: conversationID, Mode: mode.String()}

	s := e.slot(conversationID)
	s.mu.Lock()
	state, err := e.load(ctx, conversationID)
	if err != nil {
		s.mu.Unlock()
		return out, err
	}
	if s.inFlight {
		s.mu.Unlock()
		out.Reason = gate.ReasonDispatchInFlight
		return out, nil
	}
	if d := e.eval.Evaluate(state, e.now(), mode); !d.Eligible {
		s.mu.Unlock()
		out.Reason = d.Reason
		return out, nil
	}
	s.inFlight = true
	s.mu.Unlock()

	committed := false
	defer func() {
		if committed {
			return
		}
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// The send must not be torn down halfway by a scheduler shutdown.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.dispatchTimeout)
	defer cancel()

	log := e.logger.With("conversation_id", conversationID, "mode", mode.String())

	draft, err := e.composer.Compose(dctx, state, reason)
	if err != nil {
		return out, fmt.Errorf("compose draft for %s: %w", conversationID, err)
	}
	out.Source = draft.Source

	text, err := e.generator.Generate(dctx, draft)
	if err != nil {
		return out, fmt.Errorf("generate message for %s: %w", conversationID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("Generated message is empty, skipping send")
		out.Skipped = SkipEmptyGeneration
		return out, nil
	}

	recent, err := e.repo.RecentSent(dctx, conversationID, store.RecentSentKeep)
	if err != nil {
		log.Warn("Loading recent sent messages failed, skipping duplicate check", "error", err)
	}
	if isDuplicate(text, recent) {
		log.Info("Generated message duplicates a recent send, skipping")
		out.Skipped = SkipDuplicate
		return out, nil
	}

	if err := e.sender.Send(dctx, conversationID, text); err != nil {
		return out, fmt.Errorf("%w: conversation %s: %w", ErrDispatchFailed, conversationID, err)
	}
	out.Sent = true
	out.Content = text

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	committed = true

	if err := e.commit(dctx, state, text); err != nil {
		return out, err
	}
	log.Info("Proactive message sent", "source", draft.Source, "reason", reason)
	return out, nil
}

// commit records a delivered message. The caller holds the slot lock.
func (e *Engine) commit(ctx context.Context, snapshot *domain.ConversationState, text string) error {
	id := snapshot.ConversationID

	// Reload: messages observed during the dispatch must not be lost.
	state, err := e.repo.GetConversation(ctx, id)
	if err != nil || state == nil {
		if err != nil {
			e.logger.Warn("Reloading state before commit failed, using snapshot", "conversation_id", id, "error", err)
		}
		state = snapshot
	}

	sentAt := e.now()
	e.limiter.Commit(state, sentAt)
	e.silence.RecordActivity(state, sentAt)
	state.UpdatedAt = sentAt

	if err := e.repo.UpsertConversation(ctx, state); err != nil {
		return fmt.Errorf("commit trigger for %s: %w", id, err)
	}
	if err := e.repo.RecordSent(ctx, domain.SentMessage{ConversationID: id, Content: text, SentAt: sentAt}, store.RecentSentKeep); err != nil {
		return fmt.Errorf("record sent message for %s: %w", id, err)
	}
	return nil
}
