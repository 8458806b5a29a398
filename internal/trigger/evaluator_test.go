package trigger

import (
	"testing"
	"time"

	"github.com/ashureev/nudge/internal/config"
	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/gate"
)

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	trigger := func(ago time.Duration) *time.Time {
		ts := testNow.Add(-ago)
		return &ts
	}

	tests := []struct {
		name   string
		policy func(p *config.Policy)
		state  func(s *domain.ConversationState)
		now    time.Time
		mode   Mode
		want   gate.Reason
	}{
		{name: "eligible", want: gate.ReasonNone},
		{name: "disabled", policy: func(p *config.Policy) { p.Enabled = false }, want: gate.ReasonDisabled},
		{
			name:   "filtered",
			policy: func(p *config.Policy) { p.Filter = gate.NewFilterPolicy(gate.FilterBlocklist, []string{"u-c1"}) },
			want:   gate.ReasonFiltered,
		},
		{
			name:   "allowlist excludes",
			policy: func(p *config.Policy) { p.Filter = gate.NewFilterPolicy(gate.FilterAllowlist, []string{"someone-else"}) },
			want:   gate.ReasonFiltered,
		},
		{name: "quiet hours", now: time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC), want: gate.ReasonQuietHours},
		{
			name:  "awaiting reply",
			state: func(s *domain.ConversationState) { s.AwaitingReply = true; s.LastTriggerAt = trigger(7 * time.Hour) },
			want:  gate.ReasonAwaitingReply,
		},
		{
			name: "daily cap",
			state: func(s *domain.ConversationState) {
				s.TriggersToday = 1
				s.DayAnchor = gate.DayKey(testNow)
				s.LastTriggerAt = trigger(time.Hour)
			},
			want: gate.ReasonDailyCap,
		},
		{
			name: "min interval after rollover",
			state: func(s *domain.ConversationState) {
				s.TriggersToday = 1
				s.DayAnchor = gate.DayKey(testNow.AddDate(0, 0, -1))
				s.LastTriggerAt = trigger(2 * time.Hour)
			},
			want: gate.ReasonMinInterval,
		},
		{name: "silence detection disabled", policy: func(p *config.Policy) { p.Silence.Enabled = false }, want: gate.ReasonSilenceDetectionDisabled},
		{name: "no activity", state: func(s *domain.ConversationState) { s.LastActivityAt = time.Time{} }, want: gate.ReasonNoActivity},
		{
			name:  "silence not reached",
			state: func(s *domain.ConversationState) { s.LastActivityAt = testNow.Add(-30 * time.Minute) },
			want:  gate.ReasonSilenceNotReached,
		},
		{
			name:  "manual skips silence",
			state: func(s *domain.ConversationState) { s.LastActivityAt = testNow.Add(-time.Minute) },
			mode:  ModeManual,
			want:  gate.ReasonNone,
		},
		{
			name:   "manual still honors the filter",
			policy: func(p *config.Policy) { p.Filter = gate.NewFilterPolicy(gate.FilterBlocklist, []string{"u-c1"}) },
			mode:   ModeManual,
			want:   gate.ReasonFiltered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			policy := testPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			state := silentState("c1")
			if tt.state != nil {
				tt.state(state)
			}
			now := testNow
			if !tt.now.IsZero() {
				now = tt.now
			}

			got := NewEvaluator(policy).Evaluate(state, now, tt.mode)
			if got.Reason != tt.want {
				t.Errorf("Evaluate() reason = %q, want %q", got.Reason, tt.want)
			}
			if got.Eligible != (tt.want == gate.ReasonNone) {
				t.Errorf("Evaluate() eligible = %v for reason %q", got.Eligible, got.Reason)
			}
		})
	}
}

func TestEvaluator_Idempotent(t *testing.T) {
	t.Parallel()

	eval := NewEvaluator(testPolicy())
	state := silentState("c1")
	before := *state.Clone()

	first := eval.Evaluate(state, testNow, ModeScheduled)
	second := eval.Evaluate(state, testNow, ModeScheduled)
	if first != second {
		t.Errorf("Expected identical decisions, got %+v and %+v", first, second)
	}
	if state.LastActivityAt != before.LastActivityAt || state.TriggersToday != before.TriggersToday ||
		state.DayAnchor != before.DayAnchor || state.AwaitingReply != before.AwaitingReply || state.LastTriggerAt != nil {
		t.Errorf("Expected no mutation, before %+v after %+v", before, *state)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct{ a, b string }{
		{"Hello, World!", "helloworld"},
		{"最近 怎么样？", "最近怎么样"},
		{"see you~ — soon", "seeyousoon"},
	}
	for _, tt := range tests {
		if got := normalize(tt.a); got != tt.b {
			t.Errorf("normalize(%q) = %q, want %q", tt.a, got, tt.b)
		}
	}
}
