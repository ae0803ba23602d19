package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Controls is the slice of the agent that control commands drive.
type Controls interface {
	StopActions(ctx context.Context)
	ShutUp(ctx context.Context)
	SelfPrompting() bool
	StartSelfPrompt(ctx context.Context, goal string) error
	StopSelfPrompt(ctx context.Context)
	SetContinueMode(enabled bool, interval time.Duration) string
}

// Console sends raw slash commands to the environment.
type Console interface {
	RunCommand(ctx context.Context, raw string) (string, error)
}

// Planner turns free-form instructions into raw slash commands.
type Planner interface {
	Plan(ctx context.Context, instructions string) ([]string, error)
}

// Gate vets one raw command before it is sent.
type Gate interface {
	Allow(ctx context.Context, text string) (bool, string)
}

func requireSlash(a Args) error {
	if !strings.HasPrefix(strings.TrimSpace(a.String(0)), "/") {
		return errors.New("command must start with '/'")
	}
	return nil
}

// ControlCommands returns the commands that steer the agent itself.
func ControlCommands(c Controls) []Descriptor {
	return []Descriptor{
		{
			Name:        "!stop",
			Description: "Force stop all actions and commands that are currently executing.",
			Kind:        KindControl,
			Run: func(ctx context.Context, call Call) (Result, error) {
				c.StopActions(ctx)
				msg := "Agent stopped."
				if c.SelfPrompting() {
					msg += " Self-prompting still active."
				}
				return ReplyWith(msg), nil
			},
		},
		{
			Name:        "!stfu",
			Description: "Stop all chatting and self prompting, but continue current action.",
			Kind:        KindControl,
			Run: func(ctx context.Context, call Call) (Result, error) {
				c.ShutUp(ctx)
				return NoReply, nil
			},
		},
		{
			Name:        "!selfPrompt",
			Description: "Continously prompt yourself to continue acting without user input.",
			Kind:        KindControl,
			Params: []Param{
				{Name: "prompt", Type: ParamString, Description: "The goal prompt."},
			},
			Validate: func(a Args) error {
				if strings.TrimSpace(a.String(0)) == "" {
					return errors.New("goal must not be empty")
				}
				return nil
			},
			Run: func(ctx context.Context, call Call) (Result, error) {
				if err := c.StartSelfPrompt(ctx, call.Args.String(0)); err != nil {
					return NoReply, err
				}
				return NoReply, nil
			},
		},
		{
			Name:        "!stopSelfPrompt",
			Description: "Stop current action and self-prompting.",
			Kind:        KindControl,
			Run: func(ctx context.Context, call Call) (Result, error) {
				c.StopSelfPrompt(ctx)
				return NoReply, nil
			},
		},
		{
			Name:        "!setContinue",
			Description: "Enable or disable continue mode, optionally changing the timer in seconds.",
			Kind:        KindControl,
			Params: []Param{
				{Name: "enabled", Type: ParamBool, Description: "Whether continue mode is on."},
				{Name: "seconds", Type: ParamInt, Description: "Timer interval in seconds.", Optional: true},
			},
			Validate: func(a Args) error {
				if a.Has(1) && a.Int(1) <= 0 {
					return errors.New("seconds must be positive")
				}
				return nil
			},
			Run: func(ctx context.Context, call Call) (Result, error) {
				var interval time.Duration
				if call.Args.Has(1) {
					interval = time.Duration(call.Args.Int(1)) * time.Second
				}
				return ReplyWith(c.SetContinueMode(call.Args.Bool(0), interval)), nil
			},
		},
	}
}

// ActionCommands returns the commands that act on the environment.
func ActionCommands(console Console, planner Planner, gate Gate, logger *zap.Logger) []Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return []Descriptor{
		{
			Name:        "!runCommand",
			Description: "Run a single server command, e.g. !runCommand(\"/time set day\").",
			Kind:        KindAction,
			Params: []Param{
				{Name: "command", Type: ParamString, Description: "The slash command to run."},
			},
			Validate: requireSlash,
			Run: func(ctx context.Context, call Call) (Result, error) {
				out, err := console.RunCommand(ctx, strings.TrimSpace(call.Args.String(0)))
				if err != nil {
					return NoReply, err
				}
				return ReplyWith(out), nil
			},
		},
		{
			Name:        "!newAction",
			Description: "Perform new and unknown custom behaviors that are not available as a command by writing server commands.",
			Kind:        KindAction,
			Params: []Param{
				{Name: "prompt", Type: ParamString, Description: "A natural language description of what to do.", Optional: true},
			},
			Run: func(ctx context.Context, call Call) (Result, error) {
				instructions := call.Args.String(0)
				raws, err := planner.Plan(ctx, instructions)
				if err != nil {
					return NoReply, fmt.Errorf("plan: %w", err)
				}
				var lines []string
				for _, raw := range raws {
					if err := ctx.Err(); err != nil {
						return NoReply, err
					}
					raw = strings.TrimSpace(raw)
					if !strings.HasPrefix(raw, "/") {
						continue
					}
					if ok, rationale := gate.Allow(ctx, raw); !ok {
						logger.Info("generated command denied", zap.String("command", raw), zap.String("rationale", rationale))
						lines = append(lines, fmt.Sprintf("Command '%s' was deemed unsafe and will not be executed.", raw))
						continue
					}
					out, err := console.RunCommand(ctx, raw)
					if err != nil {
						lines = append(lines, fmt.Sprintf("%s failed: %v", raw, err))
						continue
					}
					lines = append(lines, fmt.Sprintf("%s -> %s", raw, out))
				}
				if len(lines) == 0 {
					return ReplyWith("No commands were generated."), nil
				}
				return ReplyWith(strings.Join(lines, "\n")), nil
			},
		},
		{
			Name:        "!repeatCommand",
			Description: "Run a server command several times in a row. Resumes if interrupted.",
			Kind:        KindResumable,
			Params: []Param{
				{Name: "command", Type: ParamString, Description: "The slash command to repeat."},
				{Name: "times", Type: ParamInt, Description: "How many times to run it."},
			},
			Validate: func(a Args) error {
				if err := requireSlash(a); err != nil {
					return err
				}
				if n := a.Int(1); n <= 0 || n > 64 {
					return errors.New("times must be between 1 and 64")
				}
				return nil
			},
			Run: func(ctx context.Context, call Call) (Result, error) {
				raw := strings.TrimSpace(call.Args.String(0))
				times := call.Args.Int(1)
				var last string
				for call.State.Step < times {
					if err := ctx.Err(); err != nil {
						return NoReply, err
					}
					out, err := console.RunCommand(ctx, raw)
					if err != nil {
						if ctx.Err() != nil {
							return NoReply, ctx.Err()
						}
						return NoReply, err
					}
					last = out
					call.State.Step++
				}
				return ReplyWith(fmt.Sprintf("Ran %s %d times. Last output: %s", raw, times, last)), nil
			},
		},
	}
}
