package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("command not found")
	ErrInvalidArgs = errors.New("invalid command arguments")
	ErrNoConsole   = errors.New("no console attached")
)

var metricExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blockbot",
	Subsystem: "commands",
	Name:      "executed_total",
	Help:      "Command executions by command and outcome.",
}, []string{"command", "outcome"})

// Kind classifies a command. The set is closed.
type Kind int

const (
	// KindAction acts on the environment and runs to completion.
	KindAction Kind = iota
	// KindResumable acts on the environment and, if stopped part way,
	// picks up where it left off once the environment goes idle.
	KindResumable
	// KindControl changes agent state without touching the environment.
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindResumable:
		return "resumable"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State carries a resumable command's progress between runs.
type State struct {
	Step int
}

// Call is the input to a command's Run function.
type Call struct {
	Source string
	Args   Args
	State  *State // non-nil only for KindResumable
}

// Descriptor defines a command.
type Descriptor struct {
	Name        string // with prefix
	Description string
	Kind        Kind
	Params      []Param
	Validate    func(Args) error
	Run         func(ctx context.Context, call Call) (Result, error)
}

type running struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

type suspended struct {
	desc *Descriptor
	call Call
	text string // the invocation as it was vetted
}

// Registry holds command descriptors and runs them. At most one action
// (KindAction or KindResumable) runs at a time; starting another stops the
// current one first.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	commands map[string]*Descriptor
	console  Console
	current  *running
	resume   *suspended
}

// NewRegistry returns a registry holding only !help.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:   logger,
		commands: make(map[string]*Descriptor),
	}
	r.Register(Descriptor{
		Name:        "!help",
		Description: "Lists all available commands and their descriptions.",
		Kind:        KindControl,
		Run: func(ctx context.Context, call Call) (Result, error) {
			return ReplyWith(r.Docs()), nil
		},
	})
	return r
}

// Register adds or replaces descriptors.
func (r *Registry) Register(descs ...Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descs {
		if !strings.HasPrefix(d.Name, Prefix) {
			d.Name = Prefix + d.Name
		}
		r.commands[d.Name] = &d
	}
}

// SetConsole attaches the console that ExecuteRaw writes to.
func (r *Registry) SetConsole(c Console) {
	r.mu.Lock()
	r.console = c
	r.mu.Unlock()
}

// Get returns the descriptor for name, or nil.
func (r *Registry) Get(name string) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands[name]
}

func (r *Registry) Exists(name string) bool {
	return r.Get(name) != nil
}

// IsAction reports whether name is registered and touches the environment.
func (r *Registry) IsAction(name string) bool {
	d := r.Get(name)
	return d != nil && d.Kind != KindControl
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute parses the first invocation in text and runs it.
func (r *Registry) Execute(ctx context.Context, source, text string) (Result, error) {
	inv, err := Parse(text)
	if err != nil {
		return NoReply, err
	}
	d := r.Get(inv.Name)
	if d == nil {
		return NoReply, fmt.Errorf("%w: %s", ErrNotFound, inv.Name)
	}
	args, err := convertArgs(inv.Name, d.Params, inv.Args)
	if err != nil {
		metricExecuted.WithLabelValues(d.Name, "invalid").Inc()
		return NoReply, err
	}
	if d.Validate != nil {
		if err := d.Validate(args); err != nil {
			metricExecuted.WithLabelValues(d.Name, "invalid").Inc()
			return NoReply, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, d.Name, err)
		}
	}

	call := Call{Source: source, Args: args}
	if d.Kind == KindControl {
		return r.observe(d.Name, func() (Result, error) { return d.Run(ctx, call) })
	}
	if d.Kind == KindResumable {
		call.State = &State{}
		r.mu.Lock()
		r.resume = &suspended{desc: d, call: call, text: inv.Raw}
		r.mu.Unlock()
	}
	return r.runAction(ctx, d, call)
}

// ExecuteRaw sends an already vetted slash command to the console and
// returns its feedback. It bypasses the grammar and the action slot.
func (r *Registry) ExecuteRaw(ctx context.Context, raw string) (string, error) {
	r.mu.Lock()
	c := r.console
	r.mu.Unlock()
	if c == nil {
		return "", ErrNoConsole
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: raw command must start with '/'", ErrInvalidArgs)
	}
	out, err := c.RunCommand(ctx, raw)
	if err != nil {
		metricExecuted.WithLabelValues("raw", "error").Inc()
		return "", fmt.Errorf("raw %q: %w", raw, err)
	}
	metricExecuted.WithLabelValues("raw", "ok").Inc()
	return out, nil
}

// Pending returns the invocation of the action Resume would restart. It
// reports false while an action runs or when nothing is suspended. Callers
// vet the invocation again before resuming it.
func (r *Registry) Pending() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resume == nil || r.current != nil {
		return "", false
	}
	return r.resume.text, true
}

// Resume restarts a resumable action that was stopped before finishing. It
// reports whether anything was resumed.
func (r *Registry) Resume(ctx context.Context) (bool, Result, error) {
	r.mu.Lock()
	s := r.resume
	busy := r.current != nil
	r.mu.Unlock()
	if s == nil || busy {
		return false, NoReply, nil
	}
	r.logger.Info("resuming action", zap.String("command", s.desc.Name), zap.Int("step", s.call.State.Step))
	res, err := r.runAction(ctx, s.desc, s.call)
	return true, res, err
}

// CancelResume forgets any suspended resumable action.
func (r *Registry) CancelResume() {
	r.mu.Lock()
	r.resume = nil
	r.mu.Unlock()
}

// Stop cancels the running action and waits for it to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil {
		return
	}
	r.logger.Info("stopping action", zap.String("command", cur.name))
	cur.cancel()
	<-cur.done
}

// Busy reports whether an action is running.
func (r *Registry) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

func (r *Registry) runAction(ctx context.Context, d *Descriptor, call Call) (Result, error) {
	r.Stop()

	actionCtx, cancel := context.WithCancel(ctx)
	cur := &running{name: d.Name, cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.current = cur
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		if r.current == cur {
			r.current = nil
		}
		r.mu.Unlock()
		close(cur.done)
	}()

	res, err := r.observe(d.Name, func() (Result, error) { return d.Run(actionCtx, call) })
	if d.Kind == KindResumable && !errors.Is(err, context.Canceled) {
		// Ran to the end (or failed outright); nothing left to resume.
		r.mu.Lock()
		if r.resume != nil && r.resume.desc == d {
			r.resume = nil
		}
		r.mu.Unlock()
	}
	return res, err
}

func (r *Registry) observe(name string, fn func() (Result, error)) (Result, error) {
	res, err := fn()
	switch {
	case err == nil:
		metricExecuted.WithLabelValues(name, "ok").Inc()
	case errors.Is(err, context.Canceled):
		metricExecuted.WithLabelValues(name, "stopped").Inc()
	default:
		metricExecuted.WithLabelValues(name, "error").Inc()
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// Docs renders the command reference included in the system prompt.
func (r *Registry) Docs() string {
	var b strings.Builder
	b.WriteString("*COMMAND DOCS\n You can use the following commands to perform actions and get information about the world.\n")
	b.WriteString(" Use the commands with the syntax: !commandName or !commandName(\"arg1\", 1.2, ...) if the command takes arguments.\n")
	b.WriteString(" Do not use codeblocks. Only use one command in each response, trailing commands and comments will be ignored.\n")
	for _, name := range r.Names() {
		d := r.Get(name)
		fmt.Fprintf(&b, "%s: %s\n", d.Name, d.Description)
		if len(d.Params) == 0 {
			continue
		}
		b.WriteString("Params:\n")
		for _, p := range d.Params {
			opt := ""
			if p.Optional {
				opt = ", optional"
			}
			fmt.Fprintf(&b, "%s: (%s%s) %s\n", p.Name, p.Type, opt, p.Description)
		}
	}
	b.WriteString("*\n")
	return b.String()
}
