package agentloop

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/safety"
	"github.com/martinemde/blockbot/stray"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEnv struct {
	mu     sync.Mutex
	chats  []string
	events chan Event
}

func newFakeEnv() *fakeEnv { return &fakeEnv{events: make(chan Event, 16)} }

func (e *fakeEnv) Chat(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats = append(e.chats, text)
	return nil
}

func (e *fakeEnv) RunCommand(ctx context.Context, raw string) (string, error) { return "ok", nil }
func (e *fakeEnv) Events() <-chan Event                                      { return e.events }
func (e *fakeEnv) Close() error                                              { return nil }

func (e *fakeEnv) Chats() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.chats...)
}

// fakeExecutor knows a fixed set of commands. Every command returns the
// result registered for it, or a reply of "done".
type fakeExecutor struct {
	mu       sync.Mutex
	actions  map[string]bool // name -> is an action
	results  map[string]commands.Result
	executed []string
	stops    int
	cancels  int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		actions: map[string]bool{
			"!runCommand":     true,
			"!newAction":      true,
			"!stop":           false,
			"!stopSelfPrompt": false,
		},
		results: map[string]commands.Result{},
	}
}

func (f *fakeExecutor) Exists(name string) bool {
	_, ok := f.actions[name]
	return ok
}

func (f *fakeExecutor) IsAction(name string) bool { return f.actions[name] }

func (f *fakeExecutor) Execute(ctx context.Context, source, text string) (commands.Result, error) {
	name, _ := commands.ContainsCommand(text)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, text)
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return commands.ReplyWith("done"), nil
}

func (f *fakeExecutor) ExecuteRaw(ctx context.Context, raw string) (string, error) { return "ok", nil }
func (f *fakeExecutor) Busy() bool                                                 { return false }
func (f *fakeExecutor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeExecutor) CancelResume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeExecutor) Pending() (string, bool) { return "", false }

func (f *fakeExecutor) Resume(ctx context.Context) (bool, commands.Result, error) {
	return false, commands.NoReply, nil
}

func (f *fakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// fakeGate denies any action containing deny. hook, when set, runs during
// evaluation.
type fakeGate struct {
	mu    sync.Mutex
	deny  string
	hook  func()
	calls []string
}

func (g *fakeGate) Evaluate(ctx context.Context, action string) safety.Verdict {
	g.mu.Lock()
	g.calls = append(g.calls, action)
	hook, deny := g.hook, g.deny
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if deny != "" && strings.Contains(action, deny) {
		return safety.Verdict{Permitted: false, Rationale: "UNSAFE: touches " + deny}
	}
	return safety.Verdict{Permitted: true, Rationale: "SAFE"}
}

func (g *fakeGate) setDeny(deny string) {
	g.mu.Lock()
	g.deny = deny
	g.mu.Unlock()
}

func (g *fakeGate) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// scriptedModel replies from a script, then with "ok" forever.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	seen    [][]history.Turn
}

func (m *scriptedModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, turns)
	if len(m.replies) == 0 {
		return "ok", nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// repeatModel always gives the same reply.
type repeatModel string

func (m repeatModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	return string(m), nil
}

type memStore struct {
	mu    sync.Mutex
	snap  history.Snapshot
	saves int
}

func (s *memStore) Load(ctx context.Context) (history.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

func (s *memStore) Save(ctx context.Context, snap history.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.saves++
	return nil
}

func (s *memStore) Snapshot() history.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

type fakeStray struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeStray) Run(ctx context.Context, message string) []stray.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

type harness struct {
	agent *Agent
	env   *fakeEnv
	exec  *fakeExecutor
	gate  *fakeGate
	store *memStore
	stray *fakeStray
}

func newHarness(t *testing.T, model Model, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		env:   newFakeEnv(),
		exec:  newFakeExecutor(),
		gate:  &fakeGate{},
		store: &memStore{},
		stray: &fakeStray{},
	}
	opts := Options{
		Name:               "andy",
		MaxCommands:        -1,
		VerboseCommands:    true,
		Tick:               5 * time.Millisecond,
		SelfPromptCooldown: 10 * time.Millisecond,
		IgnoredUsers:       []string{"Admin"},
	}
	if tweak != nil {
		tweak(&opts)
	}
	a, err := New(opts, Deps{
		Env:      h.env,
		Executor: h.exec,
		Gate:     h.gate,
		Model:    model,
		Stray:    h.stray,
		Store:    h.store,
	})
	require.NoError(t, err)
	h.agent = a
	return h
}

func sources(turns []history.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Source + ": " + t.Text
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, Deps{})
	require.Error(t, err)
	for _, want := range []string{"environment", "executor", "safety gate", "model", "history store", "agent name"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestUserCommandUnknown(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "!fly(10)", DefaultBudget)
	assert.False(t, used)
	require.ErrorIs(t, err, ErrUnknownCommand)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "!fly", cmdErr.Name)
	assert.Equal(t, []string{"Command '!fly' does not exist."}, h.env.Chats())
	assert.Empty(t, h.agent.History())
	assert.Empty(t, h.gate.Calls())
}

func TestUserCommandDeniedIsNeverExecuted(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)
	h.gate.deny = "/give"

	used, err := h.agent.HandleMessage(context.Background(), "steve", `!runCommand("/give @p stone 64")`, DefaultBudget)
	assert.False(t, used)
	require.ErrorIs(t, err, ErrUnsafeCommand)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "UNSAFE: touches /give", cmdErr.Rationale)
	assert.Equal(t, []string{
		"*steve used runCommand*",
		"Command '!runCommand' was deemed unsafe and will not be executed.",
	}, h.env.Chats())
	assert.Empty(t, h.exec.Executed())
	assert.Empty(t, h.agent.History())
}

func TestUserCommandExecuted(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)
	h.exec.results["!runCommand"] = commands.ReplyWith("Set the time to 1000\nline two")

	used, err := h.agent.HandleMessage(context.Background(), "steve", `!runCommand("/time set day") thanks!`, DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, []string{`!runCommand("/time set day")`}, h.exec.Executed())
	assert.Equal(t, []string{"*steve used runCommand*", "Set the time to 1000  line two"}, h.env.Chats())
}

func TestUserCommandWithEmptyOutputStaysQuiet(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)
	h.exec.results["!stop"] = commands.NoReply

	used, err := h.agent.HandleMessage(context.Background(), "steve", "!stop", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, []string{"*steve used stop*"}, h.env.Chats())
}

func TestUserNewActionIsRecorded(t *testing.T) {
	model := &scriptedModel{}
	h := newHarness(t, model, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "!newAction do X", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, []string{"steve: !newAction do X"}, sources(h.agent.History()))
	assert.Equal(t, []string{"!newAction"}, h.exec.Executed(), "the executor sees only the invocation")
	assert.Equal(t, []string{"!newAction"}, h.gate.Calls())
	assert.Equal(t, 0, model.Calls())
}

func TestConversationalReplyRunsStrayOnce(t *testing.T) {
	h := newHarness(t, &scriptedModel{replies: []string{"Sure! /time set day"}}, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "make it day", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, []string{"steve: make it day", "andy: Sure! /time set day"}, sources(h.agent.History()))
	assert.Equal(t, []string{"Sure! /time set day"}, h.stray.messages)
	assert.Equal(t, []string{"Sure! /time set day"}, h.env.Chats())
	assert.Equal(t, h.agent.History(), h.store.Snapshot().Turns, "history is persisted before returning")
}

func TestCommandResultIsFedBack(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`On it. !runCommand("/time set day") and then I'll wave`,
		"Done!",
	}}
	h := newHarness(t, model, nil)
	h.exec.results["!runCommand"] = commands.ReplyWith("Set the time to 1000")

	used, err := h.agent.HandleMessage(context.Background(), "steve", "make it day", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, []string{
		"steve: make it day",
		`andy: On it. !runCommand("/time set day")`,
		"system: Set the time to 1000",
		"andy: Done!",
	}, sources(h.agent.History()))
	assert.Equal(t, []string{`On it. !runCommand("/time set day")`}, h.gate.Calls())
	assert.Equal(t, 2, model.Calls())
	assert.Len(t, model.seen[1], 3, "second call sees the command result")
	assert.Equal(t, []string{"Done!"}, h.stray.messages)
}

func TestEmptyResultStillContinues(t *testing.T) {
	model := &scriptedModel{replies: []string{`!runCommand("/time set day")`, "Done"}}
	h := newHarness(t, model, nil)
	h.exec.results["!runCommand"] = commands.ReplyWith("")

	_, err := h.agent.HandleMessage(context.Background(), "steve", "day please", DefaultBudget)
	require.NoError(t, err)
	assert.Contains(t, sources(h.agent.History()), "system: "+commands.NoOutput)
	assert.Equal(t, 2, model.Calls())
}

func TestFireAndForgetEndsLoop(t *testing.T) {
	model := &scriptedModel{replies: []string{`!runCommand("/time set day")`, "never asked"}}
	h := newHarness(t, model, nil)
	h.exec.results["!runCommand"] = commands.NoReply

	used, err := h.agent.HandleMessage(context.Background(), "steve", "day please", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, 1, model.Calls())
	assert.Empty(t, h.stray.messages)
}

func TestHallucinatedCommandIsNotedOnce(t *testing.T) {
	model := &scriptedModel{replies: []string{"!fly(3) whee", "Sorry, I can't fly."}}
	h := newHarness(t, model, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "fly", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, []string{
		"steve: fly",
		"andy: !fly(3)",
		"system: Command !fly does not exist.",
		"andy: Sorry, I can't fly.",
	}, sources(h.agent.History()))
	assert.Empty(t, h.gate.Calls())
	assert.Empty(t, h.exec.Executed())
}

func TestModelCommandDeniedContinuesWithNote(t *testing.T) {
	model := &scriptedModel{replies: []string{`!runCommand("/give @a diamond 64")`, "Fine."}}
	h := newHarness(t, model, nil)
	h.gate.deny = "@a"

	used, err := h.agent.HandleMessage(context.Background(), "steve", "gifts for all", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Empty(t, h.exec.Executed())
	turns := h.agent.History()
	require.Len(t, turns, 4)
	assert.Equal(t, history.SourceSystem, turns[2].Source)
	assert.Equal(t, "Command !runCommand was deemed unsafe and will not be executed. UNSAFE: touches @a", turns[2].Text)
}

func TestBudgetBoundsTheLoop(t *testing.T) {
	h := newHarness(t, repeatModel(`!runCommand("/say hi")`), nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "say hi a lot", 3)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Len(t, h.exec.Executed(), 3)
}

func TestConfiguredBudgetApplies(t *testing.T) {
	h := newHarness(t, repeatModel(`!runCommand("/say hi")`), func(o *Options) { o.MaxCommands = 2 })

	_, err := h.agent.HandleMessage(context.Background(), "steve", "say hi a lot", DefaultBudget)
	require.NoError(t, err)
	assert.Len(t, h.exec.Executed(), 2)
}

func TestInvalidBudgets(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)

	_, err := h.agent.HandleMessage(context.Background(), "steve", "hi", Unbounded)
	require.ErrorIs(t, err, ErrInvalidBudget)
	_, err = h.agent.HandleMessage(context.Background(), history.SourceSystem, "hi", Budget(-3))
	require.ErrorIs(t, err, ErrInvalidBudget)
	assert.Empty(t, h.agent.History())

	_, err = h.agent.HandleMessage(context.Background(), history.SourceSystem, "hi", Unbounded)
	require.NoError(t, err)
}

func TestSelfPromptCannotStopItself(t *testing.T) {
	model := funcModel(func(turns []history.Turn) string {
		if turns[len(turns)-1].Text == "check in" {
			return "!stopSelfPrompt"
		}
		return `!runCommand("/say digging")`
	})
	h := newHarness(t, model, nil)
	ctx := context.Background()

	require.NoError(t, h.agent.StartSelfPrompt(ctx, "dig"))
	h.agent.selfPrompter.Pause(ctx)
	require.True(t, h.agent.SelfPrompting())

	used, err := h.agent.HandleMessage(ctx, history.SourceSystem, "check in", 1)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Contains(t, sources(h.agent.History()), "system: Cannot stopSelfPrompt unless requested by user.")
	assert.NotContains(t, h.exec.Executed(), "!stopSelfPrompt")
	assert.True(t, h.agent.SelfPrompting(), "the goal survives the attempt")
	assert.Equal(t, "dig", h.agent.Status().Goal)

	h.agent.StopSelfPrompt(ctx)
}

func TestUserMessageDuringSelfPromptGetsOneResponse(t *testing.T) {
	h := newHarness(t, repeatModel(`!runCommand("/say hi")`), nil)
	ctx := context.Background()

	require.NoError(t, h.agent.StartSelfPrompt(ctx, "dig"))
	h.agent.selfPrompter.Pause(ctx)
	require.True(t, h.agent.SelfPrompting())
	before := len(h.exec.Executed())

	used, err := h.agent.HandleMessage(ctx, "steve", "what are you doing?", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Len(t, h.exec.Executed(), before+1, "an unbounded budget is cut to one response")

	h.agent.StopSelfPrompt(ctx)
}

func TestInterruptBeforeSafetySkipsGate(t *testing.T) {
	var h *harness
	calls := 0
	model := funcModel(func(turns []history.Turn) string {
		calls++
		if calls == 1 {
			// A user speaks up while the model is thinking.
			h.agent.selfPrompter.Interrupt()
		}
		return `!runCommand("/fill 0 0 0 9 9 9 stone")`
	})
	h = newHarness(t, model, nil)
	ctx := context.Background()

	require.NoError(t, h.agent.StartSelfPrompt(ctx, "build"))
	require.Eventually(t, func() bool { return !h.agent.selfPrompter.LoopActive() }, time.Second, time.Millisecond)

	assert.Empty(t, h.gate.Calls(), "no verdict is requested once interrupted")
	assert.Empty(t, h.exec.Executed())
	assert.Contains(t, sources(h.agent.History()), `andy: !runCommand("/fill 0 0 0 9 9 9 stone")`)
	assert.True(t, h.agent.SelfPrompting(), "an interrupt keeps the goal")

	h.agent.StopSelfPrompt(ctx)
}

func TestStrayDenialIsNoted(t *testing.T) {
	h := newHarness(t, &scriptedModel{replies: []string{"I will help. /give @p stone 64"}}, nil)
	evaluator := safety.NewEvaluator(safety.ArbiterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "UNSAFE: gives items outside the envelope", nil
	}))
	asker := stray.AskerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `<answer>["/give @p stone 64"]</answer>`, nil
	})
	h.agent.stray = stray.NewExtractor(asker, evaluator, h.exec, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "help me", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, []string{
		"steve: help me",
		"andy: I will help. /give @p stone 64",
		"system: Command '/give @p stone 64' was deemed unsafe and will not be executed. UNSAFE: gives items outside the envelope",
	}, sources(h.agent.History()))
	assert.Equal(t, h.agent.History(), h.store.Snapshot().Turns)
}

func TestUserMayStopSelfPromptThroughModel(t *testing.T) {
	model := &scriptedModel{replies: []string{"!stopSelfPrompt"}}
	h := newHarness(t, model, nil)
	h.exec.results["!stopSelfPrompt"] = commands.NoReply

	used, err := h.agent.HandleMessage(context.Background(), "steve", "please stop", DefaultBudget)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, []string{"!stopSelfPrompt"}, h.exec.Executed())
}

func TestInterruptAfterSafetySkipsExecution(t *testing.T) {
	model := &scriptedModel{replies: []string{`!runCommand("/time set day")`}}
	h := newHarness(t, model, nil)
	h.gate.hook = func() { h.agent.shutUp.Store(true) }

	used, err := h.agent.HandleMessage(context.Background(), "steve", "day", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Len(t, h.gate.Calls(), 1)
	assert.Empty(t, h.exec.Executed())
	assert.Equal(t, 1, model.Calls())
}

func TestShutUpSkipsModel(t *testing.T) {
	model := &scriptedModel{}
	h := newHarness(t, model, nil)
	h.agent.ShutUp(context.Background())

	_, err := h.agent.HandleMessage(context.Background(), history.SourceSystem, "continue", DefaultBudget)
	require.NoError(t, err)
	assert.Equal(t, 0, model.Calls())
	assert.Len(t, h.agent.History(), 1, "the message itself is still recorded")
}

func TestNonVerboseSurface(t *testing.T) {
	model := &scriptedModel{replies: []string{`Sure thing. !runCommand("/time set day")`}}
	h := newHarness(t, model, func(o *Options) { o.VerboseCommands = false })
	h.exec.results["!runCommand"] = commands.NoReply

	_, err := h.agent.HandleMessage(context.Background(), "steve", "day", DefaultBudget)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sure thing.  *used runCommand*"}, h.env.Chats())
}

func TestModelErrorDegradesToApology(t *testing.T) {
	h := newHarness(t, failingModel{}, nil)

	used, err := h.agent.HandleMessage(context.Background(), "steve", "hi", DefaultBudget)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, []string{Apology}, h.env.Chats())
	assert.Empty(t, h.stray.messages, "the apology is not mined for commands")
}

func TestLoopDetectionWarnsModel(t *testing.T) {
	h := newHarness(t, repeatModel(`!runCommand("/say hi")`), func(o *Options) { o.LoopWindow = 3 })

	_, err := h.agent.HandleMessage(context.Background(), "steve", "hi", 3)
	require.NoError(t, err)
	last := h.agent.History()[len(h.agent.History())-1]
	assert.Equal(t, history.SourceSystem, last.Source)
	assert.Contains(t, last.Text, "Loop detected")
}

func TestTurnsAreSerialized(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, blockingModel{release: release}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.agent.HandleMessage(context.Background(), "steve", "first", DefaultBudget)
	}()
	require.Eventually(t, func() bool { return !h.agent.Idle() }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.agent.HandleMessage(ctx, "alex", "second", DefaultBudget)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	assert.True(t, h.agent.Idle())
	assert.Equal(t, []string{"steve: first", "andy: released"}, sources(h.agent.History()))
}

func TestControlsDriveSelfPromptAndContinue(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)

	assert.Equal(t, "Continue mode enabled with timer set to 30 seconds.", h.agent.SetContinueMode(true, 30*time.Second))
	assert.True(t, h.agent.Status().ContinueEnabled)
	assert.Equal(t, "Continue mode disabled.", h.agent.SetContinueMode(false, 0))

	h.agent.StopSelfPrompt(context.Background())
	assert.False(t, h.agent.SelfPrompting())
	assert.Equal(t, 1, h.exec.stops, "stopping self-prompting stops actions too")
	h.agent.StopActions(context.Background())
	assert.Equal(t, 2, h.exec.stops)
	assert.Equal(t, 2, h.exec.cancels)
}

// funcModel answers with whatever its function returns for the turns.
type funcModel func(turns []history.Turn) string

func (m funcModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	return m(turns), nil
}

type failingModel struct{}

func (failingModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	return Apology, context.DeadlineExceeded
}

type blockingModel struct{ release chan struct{} }

func (m blockingModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	<-m.release
	return "released", nil
}
