// Package scheduler runs periodic maintenance and calibration flushes.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/micro-ha/follower-watch/internal/calibration"
	"github.com/micro-ha/follower-watch/internal/domain/detection"
)

// Maintainer runs retention and throttle cleanup.
type Maintainer interface {
	Maintain(ctx context.Context) (detection.MaintenanceReport, error)
	State() detection.State
}

// Flusher persists pending calibration samples.
type Flusher interface {
	FlushDue() <-chan struct{}
	FlushPendingSamples(ctx context.Context) (calibration.FlushResult, error)
}

type Scheduler struct {
	maintainer Maintainer
	flusher    Flusher
	interval   time.Duration
	triggerCh  chan struct{}
	logger     *slog.Logger
}

func New(maintainer Maintainer, flusher Flusher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		maintainer: maintainer,
		flusher:    flusher,
		interval:   interval,
		triggerCh:  make(chan struct{}, 1),
		logger:     logger,
	}
}

// TriggerMaintenance requests a maintenance pass without waiting for the
// next tick.
func (s *Scheduler) TriggerMaintenance() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var flushDue <-chan struct{}
	if s.flusher != nil {
		flushDue = s.flusher.FlushDue()
	}
	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx))
			return
		case <-flushDue:
			s.flush(ctx)
		case <-s.triggerCh:
			s.maintain(ctx)
		case <-ticker.C:
			s.maintain(ctx)
			s.flush(ctx)
		}
	}
}

func (s *Scheduler) maintain(ctx context.Context) {
	if !s.maintainer.State().Running {
		s.logger.Debug("maintenance skipped; pipeline stopped")
		return
	}
	if _, err := s.maintainer.Maintain(ctx); err != nil {
		s.logger.Error("maintenance failed", "err", err)
	}
}

func (s *Scheduler) flush(ctx context.Context) {
	if s.flusher == nil {
		return
	}
	result, err := s.flusher.FlushPendingSamples(ctx)
	if err != nil {
		s.logger.Error("calibration flush failed", "err", err)
		return
	}
	if result.Stored > 0 {
		s.logger.Debug("calibration flushed", "stored", result.Stored, "tuned", result.Tuned)
	}
}
