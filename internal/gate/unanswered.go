package gate

import (
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

// UnansweredGate suppresses triggers while the previous proactive message is unanswered.
type UnansweredGate struct {
	RequireReply bool
}

// CanTrigger returns false while a reply is awaited for a trigger sent on now's calendar day.
// A day rollover lifts the block even if no reply arrived.
func (g UnansweredGate) CanTrigger(state *domain.ConversationState, now time.Time) bool {
	if !g.RequireReply || !state.AwaitingReply {
		return true
	}
	if state.LastTriggerAt == nil {
		return true
	}
	return dayKeyIn(*state.LastTriggerAt, now.Location()) != DayKey(now)
}

// RecordReply clears the awaiting flag.
func (UnansweredGate) RecordReply(state *domain.ConversationState) {
	state.AwaitingReply = false
}
