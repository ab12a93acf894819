package game

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// TickLoop runs World.Tick at a fixed cadence.
type TickLoop struct {
	World  *World
	Rate   time.Duration
	Logger *logrus.Logger
}

// Run ticks until ctx is cancelled. The next tick starts Rate after the previous
// one started, or immediately if the previous one overran. Overruns are not caught up.
func (l *TickLoop) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		l.World.Tick()
		elapsed := time.Since(start)

		timer.Reset(l.delay(elapsed))
	}
}

func (l *TickLoop) delay(elapsed time.Duration) time.Duration {
	delay := l.Rate - elapsed
	if delay < 0 {
		l.Logger.WithFields(logrus.Fields{
			"elapsed": elapsed,
			"rate":    l.Rate,
		}).Warn("tick overran")
		return 0
	}
	return delay
}
