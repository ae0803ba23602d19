// Package schedule runs the agent's periodic work: the fixed-delay update
// tick and the continuation timer.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTick     = 300 * time.Millisecond
	DefaultContinue = 10 * time.Second
)

// FixedDelay calls fn repeatedly until ctx is done. A call never overlaps
// the previous one; the next call starts interval after the previous one
// started, or immediately if the previous call overran. fn receives the
// time since the previous call started.
func FixedDelay(ctx context.Context, interval time.Duration, fn func(ctx context.Context, delta time.Duration)) error {
	if interval <= 0 {
		interval = DefaultTick
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		fn(ctx, start.Sub(last))
		last = start

		remaining := interval - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		timer.Reset(remaining)
	}
}

// Continuation nudges an idle agent on a timer while enabled.
type Continuation struct {
	idle   func() bool
	fire   func(ctx context.Context)
	logger *zap.Logger

	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	reset    chan struct{}
}

func NewContinuation(enabled bool, interval time.Duration, idle func() bool, fire func(ctx context.Context), logger *zap.Logger) *Continuation {
	if interval <= 0 {
		interval = DefaultContinue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Continuation{
		idle:     idle,
		fire:     fire,
		logger:   logger,
		enabled:  enabled,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// Run ticks until ctx is done.
func (c *Continuation) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.reset:
			ticker.Reset(c.Interval())
		case <-ticker.C:
			if !c.Enabled() {
				continue
			}
			if !c.idle() {
				c.logger.Debug("continuation skipped, agent busy")
				continue
			}
			c.fire(ctx)
		}
	}
}

// Set changes the mode. A zero interval keeps the current one. The timer
// restarts immediately when the interval changes.
func (c *Continuation) Set(enabled bool, interval time.Duration) string {
	c.mu.Lock()
	c.enabled = enabled
	if interval > 0 {
		c.interval = interval
	}
	c.mu.Unlock()

	if interval > 0 {
		select {
		case c.reset <- struct{}{}:
		default:
		}
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	msg := fmt.Sprintf("Continue mode %s", state)
	if interval > 0 {
		msg += fmt.Sprintf(" with timer set to %d seconds", int(interval/time.Second))
	}
	msg += "."
	c.logger.Info("continue mode changed", zap.Bool("enabled", enabled), zap.Duration("interval", c.Interval()))
	return msg
}

func (c *Continuation) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Continuation) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}
