// Package trigger decides when to start a conversation and carries the send through.
package trigger

import (
	"time"

	"github.com/ashureev/nudge/internal/config"
	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/gate"
)

// Mode distinguishes periodic scans from operator-initiated triggers.
type Mode int

const (
	// ModeScheduled applies every gate, including silence.
	ModeScheduled Mode = iota
	// ModeManual skips the silence check.
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "scheduled"
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Eligible bool        `json:"eligible"`
	Reason   gate.Reason `json:"reason,omitempty"`
}

func ineligible(r gate.Reason) Decision { return Decision{Reason: r} }

// Evaluator combines the gates in a fixed order. It never mutates state.
type Evaluator struct {
	policy     config.Policy
	limiter    gate.RateLimiter
	unanswered gate.UnansweredGate
	silence    gate.SilenceTracker
}

// NewEvaluator builds an evaluator for policy.
func NewEvaluator(policy config.Policy) *Evaluator {
	return &Evaluator{
		policy:     policy,
		limiter:    gate.RateLimiter{Limits: policy.Limits},
		unanswered: gate.UnansweredGate{RequireReply: policy.Limits.RequireReplyBeforeNext},
		silence:    gate.SilenceTracker{Threshold: policy.Silence.Threshold},
	}
}

// Evaluate checks, in order: enabled, filter, quiet hours, unanswered,
// rate limits, and (scheduled mode only) silence.
func (e *Evaluator) Evaluate(state *domain.ConversationState, now time.Time, mode Mode) Decision {
	if !e.policy.Enabled {
		return ineligible(gate.ReasonDisabled)
	}
	if !e.policy.Filter.Permits(state.UserID) {
		return ineligible(gate.ReasonFiltered)
	}
	if e.policy.QuietHours.IsQuiet(now) {
		return ineligible(gate.ReasonQuietHours)
	}
	if !e.unanswered.CanTrigger(state, now) {
		return ineligible(gate.ReasonAwaitingReply)
	}
	if ok, reason := e.limiter.CanTrigger(state, now); !ok {
		return ineligible(reason)
	}

	if mode == ModeScheduled {
		if !e.policy.Silence.Enabled {
			return ineligible(gate.ReasonSilenceDetectionDisabled)
		}
		if ok, reason := e.silence.Reached(state, now); !ok {
			return ineligible(reason)
		}
	}
	return Decision{Eligible: true}
}
