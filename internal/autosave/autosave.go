// Package autosave periodically flushes dirty in-memory state to the
// store. Chats, groups, profiles and chats lists all mutate in memory and
// mark themselves dirty; losing a flush loses at most one interval of
// activity.
package autosave

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"flock/pkg/config"
	"flock/pkg/logger"
)

// Flusher is implemented by every registry that buffers dirty state.
type Flusher interface {
	SaveDirty()
}

// FlusherFunc adapts plain functions (peer records, session sweeps).
type FlusherFunc func()

func (f FlusherFunc) SaveDirty() { f() }

// Saver drives the flush schedule. Cron wins over the interval when both
// are configured.
type Saver struct {
	flushers []Flusher
	interval time.Duration
	cron     string
}

func New(cfg config.AutosaveConfig, flushers ...Flusher) (*Saver, error) {
	s := &Saver{flushers: flushers, cron: cfg.Cron}
	if cfg.IntervalSeconds > 0 {
		s.interval = time.Duration(cfg.IntervalSeconds) * time.Second
	}
	if s.cron != "" && !gronx.IsValid(s.cron) {
		return nil, fmt.Errorf("invalid autosave cron expression: %s", s.cron)
	}
	if s.cron == "" && s.interval <= 0 {
		s.interval = 5 * time.Minute
	}
	return s, nil
}

// Flush runs every registered flusher once. Safe to call concurrently
// with the scheduler; registries serialize their own saves.
func (s *Saver) Flush() {
	start := time.Now()
	for _, f := range s.flushers {
		f.SaveDirty()
	}
	logger.Debug("autosave_flush", zap.Duration("took", time.Since(start)))
}

// Start runs the scheduler until ctx is cancelled. The final flush on
// shutdown is the caller's job; Start only covers the steady state.
func (s *Saver) Start(ctx context.Context) {
	if s.cron != "" {
		logger.Info("autosave_scheduler_started", zap.String("cron", s.cron))
		go s.runCron(ctx)
		return
	}
	logger.Info("autosave_scheduler_started", zap.Duration("interval", s.interval))
	go s.runInterval(ctx)
}

func (s *Saver) runInterval(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Flush()
		case <-ctx.Done():
			logger.Info("autosave_scheduler_stopping")
			return
		}
	}
}

func (s *Saver) runCron(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now().UTC(), false)
		if err != nil {
			logger.Error("autosave_nexttick_failed", zap.String("cron", s.cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("autosave_scheduler_stopping")
				return
			}
			continue
		}
		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			s.Flush()
		case <-ctx.Done():
			logger.Info("autosave_scheduler_stopping")
			return
		}
	}
}
