package gate

import (
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// Limits bounds how often a conversation can be triggered.
type Limits struct {
	MinInterval            time.Duration
	DailyMax               int // <= 0 disables the daily cap
	RequireReplyBeforeNext bool
}

// RateLimiter enforces the minimum interval and the daily cap.
type RateLimiter struct {
	Limits Limits
}

// TriggersOn returns the trigger count that applies to now's calendar day.
// A stale day anchor reads as zero; the state itself is not modified.
func TriggersOn(state *domain.ConversationState, now time.Time) int {
	if state.DayAnchor != DayKey(now) {
		return 0
	}
	return state.TriggersToday
}

// CanTrigger evaluates the limits without mutating state.
func (r RateLimiter) CanTrigger(state *domain.ConversationState, now time.Time) (bool, Reason) {
	if r.Limits.DailyMax > 0 && TriggersOn(state, now) >= r.Limits.DailyMax {
		return false, ReasonDailyCap
	}
	if state.LastTriggerAt != nil && now.Sub(*state.LastTriggerAt) < r.Limits.MinInterval {
		return false, ReasonMinInterval
	}
	return true, ReasonNone
}

// Commit records a successful proactive send at now.
func (r RateLimiter) Commit(state *domain.ConversationState, now time.Time) {
	today := DayKey(now)
	if state.DayAnchor != today {
		state.DayAnchor = today
		state.TriggersToday = 0
	}
	state.TriggersToday++

	if state.LastTriggerAt == nil || now.After(*state.LastTriggerAt) {
		ts := now
		state.LastTriggerAt = &ts
	}
	if r.Limits.RequireReplyBeforeNext {
		state.AwaitingReply = true
	}
}
