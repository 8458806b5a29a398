package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes conversation state older than the retention window.
type Sweeper struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper creates a sweeper. A zero retention disables sweeping.
func NewSweeper(repo Repository, retention, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{repo: repo, retention: retention, interval: interval, now: now}
}

// Start runs the sweep loop in a background goroutine until ctx is done.
// The returned channel is closed once the loop has exited.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.retention <= 0 {
		slog.Info("Retention sweeper disabled")
		close(done)
		return done
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention sweeper started", "interval", s.interval, "retention", s.retention)

		s.SweepOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(ctx)
			case <-ctx.Done():
				slog.Info("Retention sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// SweepOnce deletes stale conversations and reports how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	if s.retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.repo.CleanupStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep canceled", "error", err)
			return 0
		}
		slog.Error("Retention sweep failed", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention sweep removed stale conversations", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
