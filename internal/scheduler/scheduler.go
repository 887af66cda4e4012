package scheduler

import (
	"context"
	"log/slog"
	"time"

	"roboai/internal/logger"
)

// Sleep waits for d or until ctx is done. It reports false on cancellation.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Periodic runs a task every Interval until the context passed to Run is
// cancelled. A panicking task is logged and the loop continues.
type Periodic struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	Log            *slog.Logger
}

func NewPeriodic(name string, interval time.Duration, log *slog.Logger) *Periodic {
	return &Periodic{Name: name, Interval: interval, Log: log}
}

// Run blocks until ctx is done. The only suspension point is the wait
// between ticks.
func (p *Periodic) Run(ctx context.Context, task func(context.Context)) {
	if p == nil || task == nil {
		return
	}
	log := p.Log
	if log == nil {
		log = logger.L()
	}
	log = log.With("loop", p.Name)
	if p.Interval <= 0 {
		log.Warn("periodic loop has invalid interval, exit", "interval", p.Interval)
		return
	}
	if p.RunImmediately && ctx.Err() == nil {
		p.safeRun(ctx, log, task)
	}
	for {
		if !Sleep(ctx, p.Interval) {
			log.Debug("periodic loop stopped")
			return
		}
		p.safeRun(ctx, log, task)
	}
}

func (p *Periodic) safeRun(ctx context.Context, log *slog.Logger, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("periodic task panic", "panic", r)
		}
	}()
	task(ctx)
}
