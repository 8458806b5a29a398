package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/nudge/internal/gate"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadPolicy_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Enabled {
		t.Error("Expected plugin disabled by default")
	}
	if p.Schedule.ScanInterval != 30*time.Minute {
		t.Errorf("Expected scan interval 30m, got %v", p.Schedule.ScanInterval)
	}
	if p.Silence.Threshold != 2*time.Hour {
		t.Errorf("Expected silence threshold 2h, got %v", p.Silence.Threshold)
	}
	if p.QuietHours.Start.String() != "01:00" || p.QuietHours.End.String() != "06:00" {
		t.Errorf("Expected quiet hours 01:00-06:00, got %s-%s", p.QuietHours.Start, p.QuietHours.End)
	}
	if p.Limits.MinInterval != 6*time.Hour || p.Limits.DailyMax != 1 || !p.Limits.RequireReplyBeforeNext {
		t.Errorf("Unexpected default limits: %+v", p.Limits)
	}
	if p.Context.HistoryCount != 18 {
		t.Errorf("Expected history count 18, got %d", p.Context.HistoryCount)
	}
	if !p.Memory.Enabled || p.Memory.QuestionTemplate != DefaultQuestionTemplate {
		t.Errorf("Unexpected memory defaults: %+v", p.Memory)
	}
	if p.State.Retention != 30*24*time.Hour {
		t.Errorf("Expected 30 day retention, got %v", p.State.Retention)
	}
}

func TestLoadPolicy_OverridesLayerOnDefaults(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, `
plugin:
  enabled: true
filtering:
  mode: whitelist
  users: ["123", " ", "456"]
quiet_hours:
  quiet_hours_start: "23:00"
  quiet_hours_end: "7"
limits:
  daily_max: 0
state:
  retention_days: 0
`)

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if !p.Enabled {
		t.Error("Expected plugin enabled")
	}
	if p.Filter.Mode != gate.FilterAllowlist {
		t.Errorf("Expected allowlist, got %s", p.Filter.Mode)
	}
	if len(p.Filter.Users) != 2 {
		t.Errorf("Expected 2 users after dropping blanks, got %d", len(p.Filter.Users))
	}
	if p.QuietHours.End.String() != "07:00" {
		t.Errorf("Expected bare hour to parse as 07:00, got %s", p.QuietHours.End)
	}
	if p.Limits.DailyMax != 0 {
		t.Errorf("Expected daily max 0, got %d", p.Limits.DailyMax)
	}
	if p.Limits.MinInterval != 6*time.Hour {
		t.Errorf("Expected untouched min interval to keep default, got %v", p.Limits.MinInterval)
	}
	if p.State.Retention != 0 {
		t.Errorf("Expected retention disabled, got %v", p.State.Retention)
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"unknown filter mode", "filtering:\n  mode: greylist\n"},
		{"bad quiet start", "quiet_hours:\n  quiet_hours_start: \"25:00\"\n"},
		{"bad quiet end", "quiet_hours:\n  quiet_hours_end: dusk\n"},
		{"zero scan interval", "schedule:\n  scan_interval_minutes: 0\n"},
		{"negative history", "context:\n  history_messages: -1\n"},
		{"malformed yaml", "limits: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePolicy([]byte(tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestPolicy_FileRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy([]byte("filtering:\n  mode: allowlist\n  users: [b, a]\n"))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	f := p.File()
	if f.Filtering.Mode != "allowlist" {
		t.Errorf("Expected allowlist, got %s", f.Filtering.Mode)
	}
	if len(f.Filtering.Users) != 2 || f.Filtering.Users[0] != "a" {
		t.Errorf("Expected sorted users [a b], got %v", f.Filtering.Users)
	}

	again, err := f.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if again.QuietHours != p.QuietHours || again.Limits != p.Limits {
		t.Errorf("Expected round trip to preserve policy, got %+v", again)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := writePolicy(t, "plugin:\n  enabled: false\n")
	t.Setenv("POLICY_FILE", path)
	t.Setenv("NUDGE_ENABLED", "true")
	t.Setenv("TIMEZONE", "Asia/Shanghai")
	t.Setenv("TRANSPORT", "Redis")
	t.Setenv("MAX_CONCURRENT_DISPATCH", "8")
	t.Setenv("DISPATCH_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Policy.Enabled {
		t.Error("Expected NUDGE_ENABLED to override the policy file")
	}
	if cfg.Location.String() != "Asia/Shanghai" {
		t.Errorf("Expected Asia/Shanghai, got %s", cfg.Location)
	}
	if cfg.Transport.Kind != TransportRedis {
		t.Errorf("Expected redis transport, got %s", cfg.Transport.Kind)
	}
	if cfg.MaxConcurrentDispatch != 8 {
		t.Errorf("Expected 8, got %d", cfg.MaxConcurrentDispatch)
	}
	if cfg.DispatchTimeout != 90*time.Second {
		t.Errorf("Expected 90s, got %v", cfg.DispatchTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("POLICY_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	t.Run("timezone", func(t *testing.T) {
		t.Setenv("TIMEZONE", "Mars/Olympus")
		if _, err := Load(); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got %v", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		t.Setenv("TRANSPORT", "carrier-pigeon")
		if _, err := Load(); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got %v", err)
		}
	})

	t.Run("concurrency", func(t *testing.T) {
		t.Setenv("MAX_CONCURRENT_DISPATCH", "0")
		if _, err := Load(); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got %v", err)
		}
	})
}
