package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/nudge/internal/store"
)

// ErrSchedulerRunning is returned by Start when the loop is already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

const scanReason = "scheduled scan"

// SchedulerConfig configures the periodic scan.
type SchedulerConfig struct {
	Enabled       bool
	Interval      time.Duration
	MaxConcurrent int
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Scanned  int `json:"scanned"`
	Eligible int `json:"eligible"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Scheduler periodically scans every tracked conversation and triggers the eligible ones.
type Scheduler struct {
	engine *Engine
	repo   store.Repository
	cfg    SchedulerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(engine *Engine, repo store.Repository, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{engine: engine, repo: repo, cfg: cfg, logger: logger}
}

// Start launches the scan loop. The first scan happens one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.logger.Info("Scheduler started", "interval", s.cfg.Interval, "enabled", s.cfg.Enabled)

		for {
			select {
			case <-ticker.C:
				s.ScanOnce(loopCtx)
			case <-loopCtx.Done():
				s.logger.Info("Scheduler shutting down", "reason", loopCtx.Err())
				return
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for any in-flight scan, including its sends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// ScanOnce evaluates every conversation and dispatches the eligible ones with
// bounded parallelism. No new dispatch starts once ctx is done.
func (s *Scheduler) ScanOnce(ctx context.Context) ScanResult {
	var res ScanResult
	if !s.cfg.Enabled {
		return res
	}

	states, err := s.repo.ListConversations(ctx)
	if err != nil {
		s.logger.Error("Scan failed to list conversations", "error", err)
		return res
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, st := range states {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++

		id := st.ConversationID
		if d := s.engine.eval.Evaluate(st, s.engine.Now(), ModeScheduled); !d.Eligible {
			s.logger.Debug("Conversation not eligible", "conversation_id", id, "reason", d.Reason)
			continue
		}
		res.Eligible++

		g.Go(func() error {
			out, err := s.engine.Trigger(ctx, id, ModeScheduled, scanReason)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				s.logger.Warn("Scheduled trigger failed", "conversation_id", id, "error", err)
			case out.Sent:
				res.Sent++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Scan completed", "scanned", res.Scanned, "eligible", res.Eligible, "sent", res.Sent, "failed", res.Failed)
	return res
}
