package gate

import (
	"testing"
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

func TestSilenceTracker_Reached(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	tracker := SilenceTracker{Threshold: 2 * time.Hour}

	tests := []struct {
		name       string
		state      *domain.ConversationState
		wantOK     bool
		wantReason Reason
	}{
		{"nil state", nil, false, ReasonNoActivity},
		{"no activity", &domain.ConversationState{}, false, ReasonNoActivity},
		{"recent", &domain.ConversationState{LastActivityAt: now.Add(-time.Hour)}, false, ReasonSilenceNotReached},
		{"exactly threshold", &domain.ConversationState{LastActivityAt: now.Add(-2 * time.Hour)}, true, ReasonNone},
		{"long silence", &domain.ConversationState{LastActivityAt: now.Add(-26 * time.Hour)}, true, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, reason := tracker.Reached(tt.state, now)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Errorf("Expected (%v, %q), got (%v, %q)", tt.wantOK, tt.wantReason, ok, reason)
			}
		})
	}
}

func TestSilenceTracker_RecordActivityIsMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	var tracker SilenceTracker
	state := &domain.ConversationState{}

	tracker.RecordActivity(state, now)
	tracker.RecordActivity(state, now.Add(-time.Hour))
	if !state.LastActivityAt.Equal(now) {
		t.Errorf("Expected out-of-order message to be ignored, got %v", state.LastActivityAt)
	}

	elapsed, ok := tracker.Elapsed(state, now.Add(90*time.Minute))
	if !ok || elapsed != 90*time.Minute {
		t.Errorf("Expected 90m elapsed, got %v (ok=%v)", elapsed, ok)
	}
}
