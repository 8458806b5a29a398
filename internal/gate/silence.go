package gate

import (
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// SilenceTracker measures how long a conversation has been quiet.
type SilenceTracker struct {
	Threshold time.Duration
}

// Elapsed returns now - last activity. ok is false when no activity was ever recorded.
func (SilenceTracker) Elapsed(state *domain.ConversationState, now time.Time) (time.Duration, bool) {
	if state == nil || !state.HasActivity() {
		return 0, false
	}
	return now.Sub(state.LastActivityAt), true
}

// Reached checks the silence threshold.
func (t SilenceTracker) Reached(state *domain.ConversationState, now time.Time) (bool, Reason) {
	elapsed, ok := t.Elapsed(state, now)
	if !ok {
		return false, ReasonNoActivity
	}
	if elapsed < t.Threshold {
		return false, ReasonSilenceNotReached
	}
	return true, ReasonNone
}

// RecordActivity moves the last-activity mark forward to at. Older readings are ignored.
func (SilenceTracker) RecordActivity(state *domain.ConversationState, at time.Time) {
	if at.After(state.LastActivityAt) {
		state.LastActivityAt = at
	}
}
