// Package stray recovers raw slash commands that the model wrote into a
// conversational reply instead of issuing a proper command. Every recovered
// command passes the safety gate on its own before it is dispatched.
package stray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrExtractionParse reports auxiliary model output that did not hold a
// JSON array inside <answer> tags.
var ErrExtractionParse = errors.New("stray: malformed extraction output")

var metricStray = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blockbot",
	Subsystem: "stray",
	Name:      "commands_total",
	Help:      "Stray commands found in conversational replies, by outcome.",
}, []string{"outcome"})

// Asker sends one prompt to the auxiliary model.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, prompt string) (string, error)

func (f AskerFunc) Ask(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Gate vets a candidate.
type Gate interface {
	Allow(ctx context.Context, text string) (bool, string)
}

// Dispatcher sends an approved raw command to the environment and returns
// its feedback.
type Dispatcher interface {
	ExecuteRaw(ctx context.Context, raw string) (string, error)
}

// Status is what happened to one recovered command.
type Status string

const (
	Executed Status = "executed"
	Denied   Status = "denied"
	Failed   Status = "failed"
)

// Outcome reports one recovered command. Rationale is set for Denied, Err
// for Failed.
type Outcome struct {
	Command   string
	Status    Status
	Rationale string
	Output    string
	Err       error
}

// Extractor finds and dispatches stray commands.
type Extractor struct {
	asker    Asker
	gate     Gate
	dispatch Dispatcher
	logger   *zap.Logger
}

func NewExtractor(asker Asker, gate Gate, dispatch Dispatcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{asker: asker, gate: gate, dispatch: dispatch, logger: logger}
}

// Run extracts candidates from message, gates each one and dispatches the
// ones the gate permits. It returns one Outcome per candidate, in order.
// Extraction and dispatch failures are logged, never fatal to the caller's
// turn.
func (e *Extractor) Run(ctx context.Context, message string) []Outcome {
	candidates, err := e.Extract(ctx, message)
	if err != nil {
		e.logger.Warn("stray extraction failed", zap.Error(err))
		metricStray.WithLabelValues("parse_error").Inc()
		return nil
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for _, raw := range candidates {
		out := Outcome{Command: raw}
		if ok, rationale := e.gate.Allow(ctx, raw); !ok {
			e.logger.Info("command deemed unsafe and not executed", zap.String("command", raw), zap.String("rationale", rationale))
			out.Status, out.Rationale = Denied, rationale
		} else if feedback, err := e.dispatch.ExecuteRaw(ctx, raw); err != nil {
			e.logger.Warn("stray command dispatch failed", zap.String("command", raw), zap.Error(err))
			out.Status, out.Err = Failed, err
		} else {
			e.logger.Info("executed command", zap.String("command", raw))
			out.Status, out.Output = Executed, feedback
		}
		metricStray.WithLabelValues(string(out.Status)).Inc()
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Sent returns the commands in outcomes that were dispatched.
func Sent(outcomes []Outcome) []string {
	var sent []string
	for _, o := range outcomes {
		if o.Status == Executed {
			sent = append(sent, o.Command)
		}
	}
	return sent
}

// Extract asks the model for candidates and keeps the ones that begin
// with "/".
func (e *Extractor) Extract(ctx context.Context, message string) ([]string, error) {
	reply, err := e.asker.Ask(ctx, Prompt(message))
	if err != nil {
		return nil, fmt.Errorf("stray: ask: %w", err)
	}
	list, err := ParseAnswer(reply)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range list {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "/") {
			out = append(out, c)
		}
	}
	return out, nil
}

// ParseAnswer decodes the JSON string array between <answer> tags.
func ParseAnswer(reply string) ([]string, error) {
	start := strings.Index(reply, "<answer>")
	end := strings.Index(reply, "</answer>")
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("%w: missing answer tags", ErrExtractionParse)
	}
	body := strings.TrimSpace(reply[start+len("<answer>") : end])

	var raw []any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Prompt renders the extraction instructions for message.
func Prompt(message string) string {
	return `You are tasked with extracting valid Minecraft commands from a given message. Here are your instructions:

1. You will be provided with a message enclosed in <message> tags. This message may contain text and potential Minecraft commands.

<message>
` + message + `
</message>

2. A valid Minecraft command must start with a forward slash ('/') character.

3. Your task is to identify and extract only the valid Minecraft commands from the message.

4. Follow these steps:
   a. Read through the entire message.
   b. Identify any text strings that begin with a '/' character.
   c. Extract these strings as potential Minecraft commands.
   d. Do not include any text before or after the command in your extraction.

5. Format your output as a JSON array of strings. Each valid command should be a separate string within the array.

6. If you find no valid commands in the message, return an empty JSON array.

7. Provide your answer within <answer> tags.

Here's an example of how your output should look if valid commands are found:
<answer>
["command1", "/command2", "/command3"]
</answer>

And if no valid commands are found:
<answer>
[]
</answer>

Remember, only include commands that start with a '/' character, and ensure your output is a valid JSON array.`
}
