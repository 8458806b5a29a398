package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/nudge/internal/gate"
)

// DefaultQuestionTemplate is the memory question used when the policy file sets none.
const DefaultQuestionTemplate = "和{user_name}最近聊过什么？有哪些未完成的话题？"

// Policy is the compiled trigger policy.
type Policy struct {
	Enabled    bool
	Filter     gate.FilterPolicy
	Schedule   ScheduleConfig
	Silence    SilenceConfig
	QuietHours gate.QuietHours
	Limits     gate.Limits
	Context    ContextConfig
	Memory     MemoryConfig
	State      StateConfig
}

// ScheduleConfig controls the periodic scan.
type ScheduleConfig struct {
	Enabled      bool
	ScanInterval time.Duration
}

// SilenceConfig controls silence-based triggering.
type SilenceConfig struct {
	Enabled   bool
	Threshold time.Duration
}

// ContextConfig controls the recent-history fallback.
type ContextConfig struct {
	HistoryCount int
}

// MemoryConfig controls long-term memory retrieval.
type MemoryConfig struct {
	Enabled          bool
	QuestionTemplate string
}

// StateConfig controls retention of persisted conversation state.
type StateConfig struct {
	Retention time.Duration // 0 keeps state forever
}

// PolicyFile is the on-disk YAML layout of the policy.
type PolicyFile struct {
	Plugin struct {
		ConfigVersion string `yaml:"config_version"`
		Enabled       bool   `yaml:"enabled"`
	} `yaml:"plugin"`
	Filtering struct {
		Mode  string   `yaml:"mode"`
		Users []string `yaml:"users"`
	} `yaml:"filtering"`
	Schedule struct {
		EnableSchedule      bool `yaml:"enable_schedule"`
		ScanIntervalMinutes int  `yaml:"scan_interval_minutes"`
	} `yaml:"schedule"`
	SilenceDetection struct {
		EnableSilenceDetection  bool `yaml:"enable_silence_detection"`
		SilenceThresholdMinutes int  `yaml:"silence_threshold_minutes"`
	} `yaml:"silence_detection"`
	QuietHours struct {
		Start string `yaml:"quiet_hours_start"`
		End   string `yaml:"quiet_hours_end"`
	} `yaml:"quiet_hours"`
	Limits struct {
		MinIntervalHours       int  `yaml:"min_interval_hours"`
		DailyMax               int  `yaml:"daily_max"`
		RequireReplyBeforeNext bool `yaml:"require_reply_before_next"`
	} `yaml:"limits"`
	Context struct {
		HistoryMessages int `yaml:"history_messages"`
	} `yaml:"context"`
	Memory struct {
		EnableMemory     bool   `yaml:"enable_memory"`
		QuestionTemplate string `yaml:"question_template"`
	} `yaml:"memory"`
	State struct {
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"state"`
}

// DefaultPolicyFile returns the policy used when no file exists.
func DefaultPolicyFile() PolicyFile {
	var f PolicyFile
	f.Plugin.ConfigVersion = "1.0.0"
	f.Plugin.Enabled = false
	f.Filtering.Mode = string(gate.FilterBlocklist)
	f.Schedule.EnableSchedule = true
	f.Schedule.ScanIntervalMinutes = 30
	f.SilenceDetection.EnableSilenceDetection = true
	f.SilenceDetection.SilenceThresholdMinutes = 120
	f.QuietHours.Start = "01:00"
	f.QuietHours.End = "06:00"
	f.Limits.MinIntervalHours = 6
	f.Limits.DailyMax = 1
	f.Limits.RequireReplyBeforeNext = true
	f.Context.HistoryMessages = 18
	f.Memory.EnableMemory = true
	f.Memory.QuestionTemplate = DefaultQuestionTemplate
	f.State.RetentionDays = 30
	return f
}

// LoadPolicy reads and compiles the policy file at path. A missing file yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	raw := DefaultPolicyFile()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Policy{}, fmt.Errorf("%w: parse policy file %s: %v", ErrInvalid, path, err)
		}
	}
	return raw.Compile()
}

// ParsePolicy compiles policy YAML layered over the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	raw := DefaultPolicyFile()
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("%w: parse policy: %v", ErrInvalid, err)
	}
	return raw.Compile()
}

// Compile converts the file layout into a validated Policy.
func (f PolicyFile) Compile() (Policy, error) {
	mode, err := gate.ParseFilterMode(f.Filtering.Mode)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: filtering.mode: %v", ErrInvalid, err)
	}
	start, err := gate.ParseTimeOfDay(f.QuietHours.Start)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: quiet_hours.quiet_hours_start: %v", ErrInvalid, err)
	}
	end, err := gate.ParseTimeOfDay(f.QuietHours.End)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: quiet_hours.quiet_hours_end: %v", ErrInvalid, err)
	}

	p := Policy{
		Enabled: f.Plugin.Enabled,
		Filter:  gate.NewFilterPolicy(mode, f.Filtering.Users),
		Schedule: ScheduleConfig{
			Enabled:      f.Schedule.EnableSchedule,
			ScanInterval: time.Duration(f.Schedule.ScanIntervalMinutes) * time.Minute,
		},
		Silence: SilenceConfig{
			Enabled:   f.SilenceDetection.EnableSilenceDetection,
			Threshold: time.Duration(f.SilenceDetection.SilenceThresholdMinutes) * time.Minute,
		},
		QuietHours: gate.QuietHours{Start: start, End: end},
		Limits: gate.Limits{
			MinInterval:            time.Duration(f.Limits.MinIntervalHours) * time.Hour,
			DailyMax:               f.Limits.DailyMax,
			RequireReplyBeforeNext: f.Limits.RequireReplyBeforeNext,
		},
		Context: ContextConfig{HistoryCount: f.Context.HistoryMessages},
		Memory: MemoryConfig{
			Enabled:          f.Memory.EnableMemory,
			QuestionTemplate: strings.TrimSpace(f.Memory.QuestionTemplate),
		},
	}
	if f.State.RetentionDays > 0 {
		p.State.Retention = time.Duration(f.State.RetentionDays) * 24 * time.Hour
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks ranges that the file layout cannot express.
func (p Policy) Validate() error {
	if p.Schedule.ScanInterval <= 0 {
		return fmt.Errorf("%w: schedule.scan_interval_minutes must be > 0", ErrInvalid)
	}
	if p.Silence.Threshold < 0 {
		return fmt.Errorf("%w: silence_detection.silence_threshold_minutes must be >= 0", ErrInvalid)
	}
	if p.Limits.MinInterval < 0 {
		return fmt.Errorf("%w: limits.min_interval_hours must be >= 0", ErrInvalid)
	}
	if p.Context.HistoryCount < 0 {
		return fmt.Errorf("%w: context.history_messages must be >= 0", ErrInvalid)
	}
	return nil
}

// File renders the compiled policy back into its file layout.
func (p Policy) File() PolicyFile {
	f := DefaultPolicyFile()
	f.Plugin.Enabled = p.Enabled
	f.Filtering.Mode = string(p.Filter.Mode)
	f.Filtering.Users = slices.Sorted(maps.Keys(p.Filter.Users))
	f.Schedule.EnableSchedule = p.Schedule.Enabled
	f.Schedule.ScanIntervalMinutes = int(p.Schedule.ScanInterval / time.Minute)
	f.SilenceDetection.EnableSilenceDetection = p.Silence.Enabled
	f.SilenceDetection.SilenceThresholdMinutes = int(p.Silence.Threshold / time.Minute)
	f.QuietHours.Start = p.QuietHours.Start.String()
	f.QuietHours.End = p.QuietHours.End.String()
	f.Limits.MinIntervalHours = int(p.Limits.MinInterval / time.Hour)
	f.Limits.DailyMax = p.Limits.DailyMax
	f.Limits.RequireReplyBeforeNext = p.Limits.RequireReplyBeforeNext
	f.Context.HistoryMessages = p.Context.HistoryCount
	f.Memory.EnableMemory = p.Memory.Enabled
	f.Memory.QuestionTemplate = p.Memory.QuestionTemplate
	f.State.RetentionDays = int(p.State.Retention / (24 * time.Hour))
	return f
}
