package agentloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/schedule"
)

const (
	initBudget   Budget = 2
	deathPrompt         = "You died with the final message: '%s'. Previous actions were stopped and you have respawned. Notify the user and perform any necessary actions."
	disconnected        = "Bot disconnected! Killing agent process."
	kicked              = "Bot kicked! Killing agent process."
)

type inbound struct {
	source string
	text   string
	budget Budget
	resume bool // restart the suspended action instead of running a turn
}

// Restore loads the saved conversation into the agent and returns the goal
// that was active when it was saved. It must be called before any turn.
func (a *Agent) Restore(ctx context.Context) (string, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	a.log = history.NewLog(snap.Turns)
	a.logger.Info("history restored", zap.Int("turns", len(snap.Turns)), zap.String("goal", snap.SelfPromptGoal))
	return snap.SelfPromptGoal, nil
}

// Run drives the agent until ctx is cancelled or the environment goes away.
// It restores history when configured, greets, then pumps world events into
// turns while the tick and continuation timers run. On disconnect the
// history is flushed and an error wrapping ErrEnvironmentDisconnect is
// returned; a cancelled ctx returns nil.
func (a *Agent) Run(ctx context.Context) error {
	defer a.emitter.Close()

	var goal string
	if a.opts.LoadMemory {
		var err error
		if goal, err = a.Restore(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.selfPrompter.Bind(gctx)
	a.emitter.Emit(EventAgentStart, map[string]any{"name": a.name})
	a.logger.Info("agent started")

	g.Go(func() error { return a.work(gctx) })
	g.Go(func() error { return a.pump(gctx) })
	g.Go(func() error {
		return schedule.FixedDelay(gctx, a.opts.Tick, func(ctx context.Context, delta time.Duration) {
			a.selfPrompter.Update(delta, a.Idle())
		})
	})
	g.Go(func() error { return a.continuation.Run(gctx) })
	g.Go(func() error {
		a.greet(gctx, goal)
		return nil
	})

	err := g.Wait()

	// Let the loop and any in-flight turn finish before the final save.
	a.selfPrompter.Pause(context.Background())
	if err := a.acquire(context.Background()); err == nil {
		defer a.release()
	}

	a.emitter.Emit(EventAgentEnd, map[string]any{"error": fmt.Sprint(err)})
	if errors.Is(err, ErrEnvironmentDisconnect) {
		a.cleanKill(a.killMsg)
		return err
	}
	a.persist(context.Background())
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		a.logger.Info("agent stopped")
		return nil
	}
	return err
}

// greet restores self-prompting, or sends the init message, or says hello.
func (a *Agent) greet(ctx context.Context, goal string) {
	switch {
	case goal != "":
		if err := a.StartSelfPrompt(ctx, goal); err != nil {
			a.logger.Warn("failed to restore self-prompting", zap.Error(err))
		}
	case a.opts.InitMessage != "":
		if _, err := a.HandleMessage(ctx, history.SourceSystem, a.opts.InitMessage, initBudget); err != nil && ctx.Err() == nil {
			a.logger.Warn("init message failed", zap.Error(err))
		}
	default:
		a.Chat(ctx, "Hello world! I am "+a.name)
	}
}

// cleanKill records msg, says goodbye and flushes history.
func (a *Agent) cleanKill(msg string) {
	ctx := context.Background()
	if msg == "" {
		msg = "Killing agent process..."
	}
	a.logger.Error(msg)
	a.note(msg)
	a.Chat(ctx, "Goodbye world.")
	a.persist(ctx)
}

// work runs queued messages one at a time, in arrival order.
func (a *Agent) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-a.inbox:
			if in.resume {
				a.resumeAction(ctx)
				continue
			}
			if _, err := a.HandleMessage(ctx, in.source, in.text, in.budget); err != nil && ctx.Err() == nil {
				a.logger.Info("turn ended with error", zap.String("source", in.source), zap.Error(err))
			}
		}
	}
}

func (a *Agent) enqueue(ctx context.Context, in inbound) error {
	select {
	case a.inbox <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump turns world events into agent state changes and queued turns.
func (a *Agent) pump(ctx context.Context) error {
	events := a.env.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				a.killMsg = disconnected
				return fmt.Errorf("%w: event stream closed", ErrEnvironmentDisconnect)
			}
			if err := a.dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case ChatEvent:
		metricWorldEvents.WithLabelValues("chat").Inc()
		return a.onChat(ctx, e)

	case DeathEvent:
		metricWorldEvents.WithLabelValues("death").Inc()
		a.logger.Info("agent died", zap.String("message", e.Message))
		a.worldMu.Lock()
		a.world.Deaths++
		a.worldMu.Unlock()
		if a.actions != nil {
			a.actions.CancelResume()
			a.actions.Stop()
		}
		a.emitter.Emit(EventWorld, map[string]any{"event": "death", "message": e.Message})
		return a.enqueue(ctx, inbound{source: history.SourceSystem, text: fmt.Sprintf(deathPrompt, e.Message)})

	case HealthEvent:
		metricWorldEvents.WithLabelValues("health").Inc()
		a.worldMu.Lock()
		a.world.Health, a.world.Food, a.world.Known = e.Health, e.Food, true
		a.worldMu.Unlock()

	case TimeEvent:
		metricWorldEvents.WithLabelValues("time").Inc()
		a.worldMu.Lock()
		a.world.TimeOfDay, a.world.Known = e.TimeOfDay, true
		a.worldMu.Unlock()
		if phase := e.Phase(); phase != "" {
			a.emitter.Emit(EventWorld, map[string]any{"event": phase})
		}

	case IdleEvent:
		metricWorldEvents.WithLabelValues("idle").Inc()
		if a.actions == nil {
			return nil
		}
		if _, ok := a.actions.Pending(); ok && a.resumeQueued.CompareAndSwap(false, true) {
			return a.enqueue(ctx, inbound{resume: true})
		}

	case DisconnectEvent:
		metricWorldEvents.WithLabelValues("disconnect").Inc()
		a.logger.Error(disconnected, zap.String("reason", e.Reason))
		a.killMsg = disconnected
		return fmt.Errorf("%w: %s", ErrEnvironmentDisconnect, e.Reason)

	case KickedEvent:
		metricWorldEvents.WithLabelValues("kicked").Inc()
		a.logger.Error("Bot kicked!", zap.String("reason", e.Reason))
		a.killMsg = kicked
		return fmt.Errorf("%w: kicked: %s", ErrEnvironmentDisconnect, e.Reason)

	case ErrorEvent:
		metricWorldEvents.WithLabelValues("error").Inc()
		a.logger.Warn("environment error", zap.Error(e.Err))
		a.emitter.Emit(EventWarning, map[string]any{"error": fmt.Sprint(e.Err)})
	}
	return nil
}

// onChat applies a chat message's immediate effects, then queues its turn.
// A user speaking interrupts the self-prompt loop, and !stop reaches a
// running action, without waiting in the queue.
func (a *Agent) onChat(ctx context.Context, e ChatEvent) error {
	if !a.filter.Accept(e.Username, e.Message) {
		a.logger.Debug("ignored message", zap.String("from", e.Username), zap.String("message", e.Message))
		return nil
	}
	a.logger.Info("received message", zap.String("from", e.Username), zap.String("message", e.Message))

	a.shutUp.Store(false)
	a.selfPrompter.Interrupt()
	if name, ok := commands.ContainsCommand(e.Message); ok && name == "!stop" && a.actions != nil {
		a.actions.Stop()
	}
	return a.enqueue(ctx, inbound{source: e.Username, text: e.Message, budget: DefaultBudget})
}

// resumeAction restarts a suspended resumable action as a turn of its own.
// The invocation is vetted again first; a denial discards it.
func (a *Agent) resumeAction(ctx context.Context) {
	a.resumeQueued.Store(false)
	if err := a.acquire(ctx); err != nil {
		return
	}
	defer a.release()

	text, ok := a.actions.Pending()
	if !ok {
		return
	}
	name, _ := commands.ContainsCommand(text)
	verdict := a.gate.Evaluate(context.WithoutCancel(ctx), text)
	if !verdict.Permitted {
		a.actions.CancelResume()
		a.note(fmt.Sprintf("Command %s was deemed unsafe and will not be resumed. %s", name, verdict.Rationale))
		metricCommands.WithLabelValues("resume", "denied").Inc()
		a.emitter.Emit(EventCommandDenied, map[string]any{"command": name, "rationale": verdict.Rationale})
		a.persist(context.WithoutCancel(ctx))
		return
	}

	ok, res, err := a.actions.Resume(ctx)
	if !ok {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		a.logger.Debug("resumed action stopped again", zap.String("command", name))
		metricCommands.WithLabelValues("resume", "stopped").Inc()
	case err != nil:
		a.logger.Warn("resumed action failed", zap.String("command", name), zap.Error(err))
		metricCommands.WithLabelValues("resume", "failed").Inc()
		a.note(err.Error())
	default:
		metricCommands.WithLabelValues("resume", "executed").Inc()
		a.emitter.Emit(EventCommandExecuted, map[string]any{"command": name, "source": "resume"})
		if res.Output != "" {
			a.note(TruncateCommandOutput(res.Output, a.opts.MaxOutputChars, DefaultMaxOutputLines))
		}
	}
	a.persist(context.WithoutCancel(ctx))
}
