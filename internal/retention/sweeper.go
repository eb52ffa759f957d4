// Package retention deletes chat sessions that have been idle longer than
// the configured retention window.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/codetutor/internal/store"
)

// Sweeper periodically removes idle chat sessions.
type Sweeper struct {
	repo     store.Repository
	maxIdle  time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A maxIdle of zero disables it.
func NewSweeper(repo store.Repository, maxIdle, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		repo:     repo,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether sessions are ever deleted.
func (s *Sweeper) Enabled() bool {
	return s.maxIdle > 0
}

// Start runs the sweep loop in a goroutine until ctx is done. It is a no-op
// when retention is disabled.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("Chat session retention disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Retention sweeper started", "interval", s.interval, "max_idle", s.maxIdle)

		for {
			select {
			case <-ticker.C:
				_, _ = s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.Info("Retention sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep deletes sessions last updated before now minus maxIdle.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.maxIdle)
	deleted, err := s.repo.DeleteChatSessionsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Retention sweep removed idle chat sessions", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
