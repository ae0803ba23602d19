// Package selfprompt drives the agent toward a standing goal without user
// input, and yields to users when they speak up.
package selfprompt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCooldown     = 2 * time.Second
	DefaultMaxNoCommand = 3
)

var ErrNoGoal = errors.New("selfprompt: no goal specified")

// Host is the agent as seen by the controller.
type Host interface {
	// SelfPrompt runs one system-originated turn and reports whether it
	// executed a command.
	SelfPrompt(ctx context.Context, prompt string) (bool, error)
	// RecordGoal notes a newly adopted goal in the conversation.
	RecordGoal(goal string)
	Chat(ctx context.Context, text string)
	StopActions(ctx context.Context)
}

type loopKey struct{}

// InLoop reports whether ctx belongs to a turn started by the self-prompt
// loop.
func InLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopKey{}).(bool)
	return v
}

// LoopPrompt is the system message sent on every loop iteration.
func LoopPrompt(goal string) string {
	return fmt.Sprintf("You are self-prompting with the goal: '%s'. Your next response MUST contain a command !withThisSyntax. Respond:", goal)
}

// Controller holds the self-prompting state machine. It is idle until
// Start and active(goal) until Stop or until the loop gives up.
type Controller struct {
	host         Host
	logger       *zap.Logger
	cooldown     time.Duration
	maxNoCommand int

	mu         sync.Mutex
	parent     context.Context
	on         bool
	goal       string
	interrupt  bool
	loopActive bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	idleTime   time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

func WithCooldown(d time.Duration) Option { return func(c *Controller) { c.cooldown = d } }

func WithMaxNoCommand(n int) Option { return func(c *Controller) { c.maxNoCommand = n } }

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

func New(host Host, opts ...Option) *Controller {
	c := &Controller{
		host:         host,
		logger:       zap.NewNop(),
		cooldown:     DefaultCooldown,
		maxNoCommand: DefaultMaxNoCommand,
		parent:       context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind sets the context that loops run under. Cancelling it ends any loop.
func (c *Controller) Bind(ctx context.Context) {
	c.mu.Lock()
	c.parent = ctx
	c.mu.Unlock()
}

// Start adopts goal and begins looping. Starting again with the active goal
// only makes sure the loop runs.
func (c *Controller) Start(ctx context.Context, goal string) error {
	if goal == "" {
		return ErrNoGoal
	}
	c.mu.Lock()
	same := c.on && c.goal == goal
	c.on = true
	c.goal = goal
	c.mu.Unlock()

	if !same {
		c.logger.Info("self-prompting started", zap.String("goal", goal))
		c.host.RecordGoal(goal)
	}
	c.startLoop()
	return nil
}

// Stop ends self-prompting and waits for the loop to wind down, unless
// called from within the loop's own turn.
func (c *Controller) Stop(ctx context.Context, stopActions bool) {
	c.mu.Lock()
	c.interrupt = true
	c.mu.Unlock()

	if stopActions {
		c.host.StopActions(ctx)
	}
	c.stopLoop(ctx, true)

	c.mu.Lock()
	c.on = false
	c.goal = ""
	c.idleTime = 0
	if !c.loopActive {
		c.interrupt = false
	}
	c.mu.Unlock()
	c.logger.Info("self-prompting stopped")
}

// Pause ends the loop and waits for it, keeping the goal. Update or Start
// brings it back.
func (c *Controller) Pause(ctx context.Context) {
	c.stopLoop(ctx, true)
}

// Interrupt asks a running loop to yield after its current step. It has no
// effect when no loop is running.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopActive {
		c.interrupt = true
	}
}

// ShouldInterrupt reports whether a self-prompted turn must stop now.
func (c *Controller) ShouldInterrupt(selfPrompt bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return selfPrompt && c.on && c.interrupt
}

// HandleUserPromptedCmd pauses the loop when a user-driven turn performs an
// action. The goal is kept; Update restarts the loop later.
func (c *Controller) HandleUserPromptedCmd(ctx context.Context, selfPrompt, isAction bool) {
	if !selfPrompt && isAction {
		c.stopLoop(ctx, false)
	}
}

// Update advances the idle clock by delta and restarts a paused loop once
// the agent has been idle for the cooldown.
func (c *Controller) Update(delta time.Duration, idle bool) {
	c.mu.Lock()
	if !c.on || c.loopActive || c.interrupt {
		c.idleTime = 0
		c.mu.Unlock()
		return
	}
	if idle {
		c.idleTime += delta
	} else {
		c.idleTime = 0
	}
	restart := c.idleTime >= c.cooldown
	if restart {
		c.idleTime = 0
	}
	c.mu.Unlock()

	if restart {
		c.logger.Info("restarting self-prompting")
		c.startLoop()
	}
}

// On reports whether a goal is active.
func (c *Controller) On() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

// Goal returns the active goal, or "" when idle.
func (c *Controller) Goal() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.on {
		return ""
	}
	return c.goal
}

// LoopActive reports whether the loop goroutine is running.
func (c *Controller) LoopActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopActive
}

func (c *Controller) startLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopActive {
		c.logger.Debug("self-prompt loop already active")
		return
	}
	ctx, cancel := context.WithCancel(context.WithValue(c.parent, loopKey{}, true))
	done := make(chan struct{})
	c.loopActive = true
	c.loopCancel = cancel
	c.loopDone = done
	go c.loop(ctx, done)
}

func (c *Controller) stopLoop(ctx context.Context, wait bool) {
	c.mu.Lock()
	if !c.loopActive {
		c.mu.Unlock()
		return
	}
	c.interrupt = true
	cancel, done := c.loopCancel, c.loopDone
	c.mu.Unlock()

	c.logger.Debug("stopping self-prompt loop")
	cancel()
	if wait && !InLoop(ctx) {
		<-done
	}
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.loopActive = false
		c.interrupt = false
		c.loopCancel = nil
		c.mu.Unlock()
		close(done)
		c.logger.Debug("self-prompt loop stopped")
	}()

	noCommand := 0
	for {
		c.mu.Lock()
		stop := c.interrupt || !c.on
		goal := c.goal
		c.mu.Unlock()
		if stop || ctx.Err() != nil {
			return
		}

		used, err := c.host.SelfPrompt(ctx, LoopPrompt(goal))
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("self-prompt turn failed", zap.Error(err))
		}

		if !used {
			noCommand++
			if noCommand >= c.maxNoCommand {
				msg := fmt.Sprintf("Agent did not use command in the last %d auto-prompts. Stopping auto-prompting.", c.maxNoCommand)
				c.logger.Warn(msg)
				c.host.Chat(ctx, msg)
				c.mu.Lock()
				c.on = false
				c.goal = ""
				c.mu.Unlock()
				return
			}
			continue
		}

		noCommand = 0
		c.mu.Lock()
		stop = c.interrupt
		c.mu.Unlock()
		if stop {
			return
		}
		timer := time.NewTimer(c.cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
