package agentloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/config"
	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/safety"
	"github.com/martinemde/blockbot/schedule"
	"github.com/martinemde/blockbot/selfprompt"
	"github.com/martinemde/blockbot/stray"
)

// Executor runs registered commands.
type Executor interface {
	Exists(name string) bool
	IsAction(name string) bool
	Execute(ctx context.Context, source, text string) (commands.Result, error)
	ExecuteRaw(ctx context.Context, raw string) (string, error)
}

// ActionRunner is implemented by executors that track running actions.
// Pending exposes the invocation of a suspended action so it can be vetted
// again before Resume restarts it.
type ActionRunner interface {
	Busy() bool
	Stop()
	Pending() (string, bool)
	CancelResume()
	Resume(ctx context.Context) (bool, commands.Result, error)
}

// Gate vets an action before it runs.
type Gate interface {
	Evaluate(ctx context.Context, action string) safety.Verdict
}

// StrayRunner dispatches raw commands found in conversational replies and
// reports what became of each.
type StrayRunner interface {
	Run(ctx context.Context, message string) []stray.Outcome
}

type docSource interface {
	Docs() string
}

// Options configures an Agent.
type Options struct {
	Name               string
	Profile            Profile
	MaxCommands        int // -1 = unbounded
	VerboseCommands    bool
	LoadMemory         bool
	InitMessage        string
	IgnoredUsers       []string
	IgnoredPrefixes    []string
	Tick               time.Duration
	ContinueEnabled    bool
	ContinueInterval   time.Duration
	ContinueMessage    string
	SelfPromptCooldown time.Duration
	MaxNoCommand       int
	MaxOutputChars     int
	LoopWindow         int
}

// OptionsFromConfig maps the agent section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, profile Profile) Options {
	name := profile.Name
	if name == "" {
		name = cfg.Agent.Name
	}
	return Options{
		Name:               name,
		Profile:            profile,
		MaxCommands:        cfg.Agent.MaxCommands,
		VerboseCommands:    cfg.Agent.VerboseCommands,
		LoadMemory:         cfg.Agent.LoadMemory,
		InitMessage:        cfg.Agent.InitMessage,
		IgnoredUsers:       cfg.Agent.IgnoredUsers,
		IgnoredPrefixes:    cfg.Agent.IgnoredPrefixes,
		Tick:               cfg.GetTick(),
		ContinueEnabled:    cfg.Agent.Continue.Enabled,
		ContinueInterval:   cfg.GetContinueInterval(),
		ContinueMessage:    cfg.Agent.Continue.Message,
		SelfPromptCooldown: cfg.GetSelfPromptCooldown(),
		MaxNoCommand:       cfg.Agent.SelfPrompt.MaxNoCommand,
		MaxOutputChars:     cfg.Agent.MaxOutputChars,
		LoopWindow:         cfg.Agent.LoopWindow,
	}
}

const defaultContinueMessage = "Continue working toward your standing goal."

// Deps are the collaborators an Agent drives.
type Deps struct {
	Env      Environment
	Executor Executor
	Gate     Gate
	Model    Model
	Stray    StrayRunner // nil disables stray extraction
	Store    history.Store
	Logger   *zap.Logger
}

// Agent is the turn controller. It owns the conversation history and
// serializes every turn through HandleMessage.
type Agent struct {
	opts    Options
	name    string
	logger  *zap.Logger
	filter  ChatFilter
	emitter *EventEmitter

	env     Environment
	exec    Executor
	actions ActionRunner
	gate    Gate
	model   Model
	stray   StrayRunner
	store   history.Store

	log          *history.Log
	selfPrompter *selfprompt.Controller
	continuation *schedule.Continuation

	sem       chan struct{}
	inFlight  atomic.Int32
	shutUp    atomic.Bool
	persistMu sync.Mutex

	worldMu sync.RWMutex
	world   WorldState

	inbox        chan inbound
	resumeQueued atomic.Bool
	killMsg      string
}

// New wires an agent. Env, Executor, Gate, Model and Store are required.
func New(opts Options, deps Deps) (*Agent, error) {
	var errs []error
	if deps.Env == nil {
		errs = append(errs, errors.New("agentloop: environment is required"))
	}
	if deps.Executor == nil {
		errs = append(errs, errors.New("agentloop: executor is required"))
	}
	if deps.Gate == nil {
		errs = append(errs, errors.New("agentloop: safety gate is required"))
	}
	if deps.Model == nil {
		errs = append(errs, errors.New("agentloop: model is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("agentloop: history store is required"))
	}
	if opts.Name == "" {
		errs = append(errs, errors.New("agentloop: agent name is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Profile.Name == "" {
		opts.Profile = DefaultProfile(opts.Name)
	}
	if opts.MaxOutputChars <= 0 {
		opts.MaxOutputChars = DefaultMaxOutputChars
	}
	if opts.Tick <= 0 {
		opts.Tick = schedule.DefaultTick
	}
	if opts.ContinueMessage == "" {
		opts.ContinueMessage = defaultContinueMessage
	}

	sessionID := uuid.New().String()
	a := &Agent{
		opts:    opts,
		name:    opts.Name,
		logger:  logger.With(zap.String("agent", opts.Name)),
		filter:  ChatFilter{Self: opts.Name, Users: opts.IgnoredUsers, Prefixes: opts.IgnoredPrefixes},
		emitter: NewEventEmitter(sessionID, 256),
		env:     deps.Env,
		exec:    deps.Executor,
		gate:    deps.Gate,
		model:   deps.Model,
		stray:   deps.Stray,
		store:   deps.Store,
		log:     history.NewLog(nil),
		sem:     make(chan struct{}, 1),
		inbox:   make(chan inbound, 64),
	}
	if runner, ok := deps.Executor.(ActionRunner); ok {
		a.actions = runner
	}

	spOpts := []selfprompt.Option{selfprompt.WithLogger(a.logger.Named("selfprompt"))}
	if opts.SelfPromptCooldown > 0 {
		spOpts = append(spOpts, selfprompt.WithCooldown(opts.SelfPromptCooldown))
	}
	if opts.MaxNoCommand > 0 {
		spOpts = append(spOpts, selfprompt.WithMaxNoCommand(opts.MaxNoCommand))
	}
	a.selfPrompter = selfprompt.New(a, spOpts...)
	a.continuation = schedule.NewContinuation(opts.ContinueEnabled, opts.ContinueInterval, a.Idle, a.continueTurn, a.logger.Named("continue"))
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Events returns the agent's event stream. It closes when Run returns.
func (a *Agent) Events() <-chan AgentEvent { return a.emitter.Events() }

// History returns a copy of the conversation.
func (a *Agent) History() []history.Turn { return a.log.Turns() }

// Idle reports whether no turn is in flight and no action is running.
func (a *Agent) Idle() bool {
	if a.inFlight.Load() > 0 {
		return false
	}
	return a.actions == nil || !a.actions.Busy()
}

// SystemPrompt renders the profile template with the current command docs,
// goal and world state.
func (a *Agent) SystemPrompt() string {
	pc := PromptContext{
		Goal:  a.selfPrompter.Goal(),
		World: a.World(),
	}
	if d, ok := a.exec.(docSource); ok {
		pc.CommandDocs = d.Docs()
	}
	return BuildSystemPrompt(a.opts.Profile, pc)
}

// World returns the last reported world state.
func (a *Agent) World() WorldState {
	a.worldMu.RLock()
	defer a.worldMu.RUnlock()
	return a.world
}

// Status is a point-in-time view of the agent for operators.
type Status struct {
	Name             string     `json:"name"`
	Idle             bool       `json:"idle"`
	SelfPrompting    bool       `json:"self_prompting"`
	Goal             string     `json:"goal,omitempty"`
	LoopActive       bool       `json:"loop_active"`
	ContinueEnabled  bool       `json:"continue_enabled"`
	ContinueInterval string     `json:"continue_interval"`
	Turns            int        `json:"turns"`
	World            WorldState `json:"world"`
}

func (a *Agent) Status() Status {
	return Status{
		Name:             a.name,
		Idle:             a.Idle(),
		SelfPrompting:    a.selfPrompter.On(),
		Goal:             a.selfPrompter.Goal(),
		LoopActive:       a.selfPrompter.LoopActive(),
		ContinueEnabled:  a.continuation.Enabled(),
		ContinueInterval: a.continuation.Interval().String(),
		Turns:            a.log.Len(),
		World:            a.World(),
	}
}

// StopActions stops the running action and forgets any resumable one.
func (a *Agent) StopActions(ctx context.Context) {
	if a.actions == nil {
		return
	}
	a.actions.Stop()
	a.actions.CancelResume()
}

// ShutUp silences the agent until the next user message and ends
// self-prompting. The current action keeps running.
func (a *Agent) ShutUp(ctx context.Context) {
	a.shutUp.Store(true)
	if a.selfPrompter.On() {
		a.selfPrompter.Stop(ctx, false)
	}
	a.persist(ctx)
}

// SelfPrompting reports whether a standing goal is active.
func (a *Agent) SelfPrompting() bool { return a.selfPrompter.On() }

// StartSelfPrompt adopts goal and starts the autonomous loop. Starting with
// the current goal again is harmless.
func (a *Agent) StartSelfPrompt(ctx context.Context, goal string) error {
	if err := a.selfPrompter.Start(ctx, goal); err != nil {
		return err
	}
	a.persist(ctx)
	return nil
}

// StopSelfPrompt ends self-prompting and stops the current action. It is a
// no-op when self-prompting is off.
func (a *Agent) StopSelfPrompt(ctx context.Context) {
	a.selfPrompter.Stop(ctx, true)
	a.persist(ctx)
}

// SetContinueMode switches the continuation timer. A zero interval keeps
// the current one.
func (a *Agent) SetContinueMode(enabled bool, interval time.Duration) string {
	return a.continuation.Set(enabled, interval)
}

// SelfPrompt runs one turn of the autonomous loop.
func (a *Agent) SelfPrompt(ctx context.Context, prompt string) (bool, error) {
	return a.HandleMessage(ctx, history.SourceSystem, prompt, 1)
}

// RecordGoal notes an adopted goal in the conversation.
func (a *Agent) RecordGoal(goal string) {
	a.log.Append(history.SourceSystem, goal)
}

// Chat posts text to in-game chat, one line.
func (a *Agent) Chat(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := a.env.Chat(ctx, FlattenChat(text)); err != nil {
		a.logger.Warn("chat failed", zap.Error(err))
	}
}

// note records a system message in history.
func (a *Agent) note(text string) {
	a.log.Append(history.SourceSystem, text)
}

// persist saves the conversation and the standing goal. Failures are logged;
// the in-memory history stays authoritative.
func (a *Agent) persist(ctx context.Context) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	snap := a.log.Snapshot(a.selfPrompter.Goal())
	if err := a.store.Save(ctx, snap); err != nil {
		a.logger.Error("failed to save history", zap.Error(err))
	}
}

func (a *Agent) continueTurn(ctx context.Context) {
	if _, err := a.HandleMessage(ctx, history.SourceSystem, a.opts.ContinueMessage, DefaultBudget); err != nil && ctx.Err() == nil {
		a.logger.Warn("continuation turn failed", zap.Error(err))
	}
}
