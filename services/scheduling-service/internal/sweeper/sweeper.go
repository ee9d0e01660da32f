// Package sweeper runs the missed-appointment sweep on a fixed interval.
// The sweep itself is idempotent, so the trigger mechanism is a deployment
// choice: this worker, the admin endpoint, or both.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

type Engine interface {
	SweepMissed(ctx context.Context, now time.Time) (int, error)
}

type Sweeper struct {
	engine   Engine
	logger   *slog.Logger
	interval time.Duration
	nowFn    func() time.Time
}

func New(engine Engine, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		logger:   logger,
		interval: interval,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.engine.SweepMissed(ctx, s.nowFn()); err != nil {
				s.logger.Error("missed appointment sweep failed", "err", err)
			}
		}
	}
}
