package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/stray"
)

const (
	newActionCommand      = "!newAction"
	stopSelfPromptCommand = "!stopSelfPrompt"
)

// HandleMessage runs one turn for text from source and reports whether an
// action was executed.
//
// Messages from "system" or from the agent itself are self-prompted. A
// command typed by anyone else is vetted and executed directly. Everything
// else enters the bounded loop: the model answers with the full history,
// each command it issues is vetted and executed and its result fed back,
// until it answers in plain conversation, the budget runs out, or the turn
// is interrupted.
//
// Only one turn runs at a time; ctx bounds the wait for the turn slot.
// Once a turn starts it runs to completion with ctx's values but not its
// cancellation.
func (a *Agent) HandleMessage(ctx context.Context, source, text string, budget Budget) (bool, error) {
	selfPrompt := source == history.SourceSystem || source == a.name
	limit, err := a.resolveBudget(selfPrompt, budget)
	if err != nil {
		return false, err
	}
	if err := a.acquire(ctx); err != nil {
		return false, err
	}
	defer a.release()

	start := time.Now()
	callCtx := context.WithoutCancel(ctx)
	a.emitter.Emit(EventTurnStarted, map[string]any{
		"source": source,
		"budget": limit.String(),
	})

	var used bool
	if name, ok := commands.ContainsCommand(text); ok && !selfPrompt {
		used, err = a.runUserCommand(callCtx, source, text, name)
	} else {
		used = a.converse(callCtx, source, text, selfPrompt, limit)
	}

	metricTurns.WithLabelValues(origin(selfPrompt)).Inc()
	metricTurnSeconds.WithLabelValues(origin(selfPrompt)).Observe(time.Since(start).Seconds())
	a.emitter.Emit(EventTurnFinished, map[string]any{
		"source":       source,
		"used_command": used,
	})
	return used, err
}

func (a *Agent) resolveBudget(selfPrompt bool, b Budget) (Budget, error) {
	switch {
	case b == DefaultBudget:
		return BudgetFromConfig(a.opts.MaxCommands), nil
	case b == Unbounded:
		if !selfPrompt {
			return 0, fmt.Errorf("%w: unbounded budget is reserved for system turns", ErrInvalidBudget)
		}
		return Unbounded, nil
	case b < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidBudget, b)
	}
	return b, nil
}

func (a *Agent) acquire(ctx context.Context) error {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		<-a.sem
		return err
	}
	a.inFlight.Add(1)
	return nil
}

func (a *Agent) release() {
	a.inFlight.Add(-1)
	<-a.sem
}

// runUserCommand handles a command typed by a user. Only the invocation
// itself is vetted and run. Apart from !newAction, which needs the request
// as context, the message stays out of history.
func (a *Agent) runUserCommand(ctx context.Context, source, text, name string) (bool, error) {
	if !a.exec.Exists(name) {
		a.Chat(ctx, fmt.Sprintf("Command '%s' does not exist.", name))
		metricCommands.WithLabelValues("user", "unknown").Inc()
		a.emitter.Emit(EventCommandUnknown, map[string]any{"command": name, "source": source})
		return false, &CommandError{Name: name, Err: ErrUnknownCommand}
	}
	a.Chat(ctx, fmt.Sprintf("*%s used %s*", source, strings.TrimPrefix(name, commands.Prefix)))
	if name == newActionCommand {
		a.log.Append(source, text)
		a.persist(ctx)
	}

	invocation := commands.TruncateAtCommand(text)
	verdict := a.gate.Evaluate(ctx, invocation)
	if !verdict.Permitted {
		a.Chat(ctx, fmt.Sprintf("Command '%s' was deemed unsafe and will not be executed.", name))
		metricCommands.WithLabelValues("user", "denied").Inc()
		a.emitter.Emit(EventCommandDenied, map[string]any{"command": name, "rationale": verdict.Rationale})
		return false, &CommandError{Name: name, Rationale: verdict.Rationale, Err: ErrUnsafeCommand}
	}

	res, err := a.exec.Execute(ctx, source, invocation)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("user command stopped", zap.String("command", name))
			return true, nil
		}
		metricCommands.WithLabelValues("user", "failed").Inc()
		a.Chat(ctx, err.Error())
		return false, fmt.Errorf("%s: %w", name, err)
	}
	metricCommands.WithLabelValues("user", "executed").Inc()
	a.emitter.Emit(EventCommandExecuted, map[string]any{"command": name, "source": source})
	a.Chat(ctx, res.Output)
	return true, nil
}

// converse runs the bounded response loop.
func (a *Agent) converse(ctx context.Context, source, text string, selfPrompt bool, limit Budget) bool {
	a.log.Append(source, text)
	a.persist(ctx)

	if !selfPrompt && a.selfPrompter.On() {
		// Answer the user once, then let the loop take over again.
		limit = 1
	}

	interrupted := func() bool {
		return a.selfPrompter.ShouldInterrupt(selfPrompt) || a.shutUp.Load()
	}

	used := false
	for i := 0; limit.allows(i); i++ {
		if interrupted() {
			a.logger.Debug("turn interrupted before model call", zap.Int("iteration", i))
			break
		}
		s := a.step(ctx, selfPrompt, interrupted)
		a.persist(ctx)
		used = used || s.executed
		if s.done {
			break
		}
	}
	return used
}

type stepResult struct {
	executed bool
	done     bool
}

// step makes one model call and acts on the reply.
func (a *Agent) step(ctx context.Context, selfPrompt bool, interrupted func() bool) stepResult {
	org := origin(selfPrompt)
	reply := a.ask(ctx)

	name, ok := commands.ContainsCommand(reply)
	if !ok {
		a.log.Append(a.name, reply)
		a.logger.Debug("purely conversational response", zap.String("reply", reply))
		a.Chat(ctx, reply)
		if a.stray != nil && reply != Apology {
			a.runStray(ctx, reply)
		}
		return stepResult{done: true}
	}

	reply = commands.TruncateAtCommand(reply)
	a.log.Append(a.name, reply)

	if !a.exec.Exists(name) {
		a.logger.Warn("agent hallucinated command", zap.String("command", name))
		a.note(fmt.Sprintf("Command %s does not exist.", name))
		metricCommands.WithLabelValues(org, "unknown").Inc()
		a.emitter.Emit(EventCommandUnknown, map[string]any{"command": name, "source": a.name})
		return stepResult{}
	}
	if name == stopSelfPromptCommand && selfPrompt {
		a.note("Cannot stopSelfPrompt unless requested by user.")
		metricCommands.WithLabelValues(org, "rejected").Inc()
		return stepResult{}
	}

	if interrupted() {
		return stepResult{done: true}
	}
	a.selfPrompter.HandleUserPromptedCmd(ctx, selfPrompt, a.exec.IsAction(name))

	verdict := a.gate.Evaluate(ctx, reply)
	if interrupted() {
		return stepResult{done: true}
	}
	if !verdict.Permitted {
		a.note(fmt.Sprintf("Command %s was deemed unsafe and will not be executed. %s", name, verdict.Rationale))
		metricCommands.WithLabelValues(org, "denied").Inc()
		a.emitter.Emit(EventCommandDenied, map[string]any{"command": name, "rationale": verdict.Rationale})
		return stepResult{}
	}

	a.surface(ctx, reply, name)
	res, err := a.exec.Execute(ctx, a.name, reply)
	a.logger.Info("agent executed command", zap.String("command", name), zap.String("output", res.Output), zap.Error(err))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			metricCommands.WithLabelValues(org, "stopped").Inc()
			return stepResult{executed: true, done: true}
		}
		// Let the model see what went wrong and try again.
		metricCommands.WithLabelValues(org, "failed").Inc()
		res = commands.ReplyWith(err.Error())
	} else {
		metricCommands.WithLabelValues(org, "executed").Inc()
	}
	a.emitter.Emit(EventCommandExecuted, map[string]any{"command": name, "source": a.name, "reply": res.Reply})

	if !res.Reply {
		return stepResult{executed: true, done: true}
	}
	a.note(TruncateCommandOutput(res.HistoryText(), a.opts.MaxOutputChars, DefaultMaxOutputLines))
	a.checkLoop()
	return stepResult{executed: true}
}

// runStray dispatches raw commands left in a conversational reply. Denials
// are noted so the model learns why nothing happened.
func (a *Agent) runStray(ctx context.Context, reply string) {
	for _, o := range a.stray.Run(ctx, reply) {
		switch o.Status {
		case stray.Executed:
			a.emitter.Emit(EventStrayDispatched, map[string]any{"command": o.Command})
		case stray.Denied:
			a.note(fmt.Sprintf("Command '%s' was deemed unsafe and will not be executed. %s", o.Command, o.Rationale))
			metricCommands.WithLabelValues("stray", "denied").Inc()
			a.emitter.Emit(EventCommandDenied, map[string]any{"command": o.Command, "rationale": o.Rationale})
		}
	}
}

// ask calls the model, degrading failures to Apology.
func (a *Agent) ask(ctx context.Context) string {
	reply, err := a.model.Converse(ctx, a.log.Turns())
	if err != nil {
		a.logger.Error("model call failed", zap.Error(err))
		metricModelErrors.Inc()
		a.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		return Apology
	}
	a.emitter.Emit(EventModelReply, map[string]any{"text": reply})
	return reply
}

// surface shows an approved command in chat: the whole utterance when
// verbose, otherwise only the prose before it and the command's name.
func (a *Agent) surface(ctx context.Context, reply, name string) {
	if a.opts.VerboseCommands {
		a.Chat(ctx, reply)
		return
	}
	msg := fmt.Sprintf("*used %s*", strings.TrimPrefix(name, commands.Prefix))
	if i := strings.Index(reply, name); i > 0 {
		if pre := strings.TrimSpace(reply[:i]); pre != "" {
			msg = pre + "  " + msg
		}
	}
	a.Chat(ctx, msg)
}

// checkLoop warns the model when its recent commands repeat.
func (a *Agent) checkLoop() {
	window := a.opts.LoopWindow
	if window <= 0 || !DetectLoop(a.log.Turns(), a.name, window) {
		return
	}
	warning := fmt.Sprintf("Loop detected: your last %d commands follow a repeating pattern. Try a different approach.", window)
	a.note(warning)
	a.emitter.Emit(EventLoopDetection, map[string]any{"message": warning})
}
