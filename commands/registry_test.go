package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControls struct {
	mu          sync.Mutex
	stopped     int
	shutUp      int
	goal        string
	selfPrompt  bool
	continueOn  bool
	continueDur time.Duration
}

func (f *fakeControls) StopActions(ctx context.Context) { f.mu.Lock(); f.stopped++; f.mu.Unlock() }
func (f *fakeControls) ShutUp(ctx context.Context)      { f.mu.Lock(); f.shutUp++; f.mu.Unlock() }
func (f *fakeControls) SelfPrompting() bool             { return f.selfPrompt }
func (f *fakeControls) StartSelfPrompt(ctx context.Context, goal string) error {
	f.goal = goal
	f.selfPrompt = true
	return nil
}
func (f *fakeControls) StopSelfPrompt(ctx context.Context) { f.selfPrompt = false }
func (f *fakeControls) SetContinueMode(enabled bool, interval time.Duration) string {
	f.continueOn = enabled
	f.continueDur = interval
	return "Continue mode set."
}

type fakeConsole struct {
	mu    sync.Mutex
	sent  []string
	block chan struct{}
}

func (f *fakeConsole) RunCommand(ctx context.Context, raw string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, raw)
	return "ok: " + raw, nil
}

func (f *fakeConsole) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type planFunc func(ctx context.Context, instructions string) ([]string, error)

func (p planFunc) Plan(ctx context.Context, instructions string) ([]string, error) {
	return p(ctx, instructions)
}

type denyContaining string

func (d denyContaining) Allow(ctx context.Context, text string) (bool, string) {
	if strings.Contains(text, string(d)) {
		return false, "UNSAFE: matched " + string(d)
	}
	return true, "SAFE"
}

func newTestRegistry(console *fakeConsole, controls *fakeControls, planner Planner) *Registry {
	r := NewRegistry(nil)
	r.Register(ControlCommands(controls)...)
	r.Register(ActionCommands(console, planner, denyContaining("@a"), nil)...)
	return r
}

func TestRegistryExistsAndKinds(t *testing.T) {
	r := newTestRegistry(&fakeConsole{}, &fakeControls{}, nil)

	assert.True(t, r.Exists("!stop"))
	assert.False(t, r.Exists("!fly"))
	assert.False(t, r.IsAction("!stop"))
	assert.True(t, r.IsAction("!runCommand"))
	assert.True(t, r.IsAction("!repeatCommand"))
	assert.False(t, r.IsAction("!fly"))
}

func TestRegistryUnknownCommand(t *testing.T) {
	r := newTestRegistry(&fakeConsole{}, &fakeControls{}, nil)
	_, err := r.Execute(context.Background(), "steve", "!fly(10)")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryValidation(t *testing.T) {
	console := &fakeConsole{}
	r := newTestRegistry(console, &fakeControls{}, nil)

	_, err := r.Execute(context.Background(), "steve", `!runCommand("say hi")`)
	require.ErrorIs(t, err, ErrInvalidArgs)
	_, err = r.Execute(context.Background(), "steve", `!setContinue(true, -5)`)
	require.ErrorIs(t, err, ErrInvalidArgs)
	assert.Empty(t, console.Sent())
}

func TestRunCommand(t *testing.T) {
	console := &fakeConsole{}
	r := newTestRegistry(console, &fakeControls{}, nil)

	res, err := r.Execute(context.Background(), "bot", `!runCommand("/time set day")`)
	require.NoError(t, err)
	assert.True(t, res.Reply)
	assert.Equal(t, "ok: /time set day", res.Output)
	assert.Equal(t, []string{"/time set day"}, console.Sent())
	assert.False(t, r.Busy())
}

func TestControlCommands(t *testing.T) {
	controls := &fakeControls{}
	r := newTestRegistry(&fakeConsole{}, controls, nil)
	ctx := context.Background()

	res, err := r.Execute(ctx, "steve", "!selfPrompt('build a tower')")
	require.NoError(t, err)
	assert.False(t, res.Reply)
	assert.Equal(t, "build a tower", controls.goal)

	res, err = r.Execute(ctx, "steve", "!stop")
	require.NoError(t, err)
	assert.Equal(t, "Agent stopped. Self-prompting still active.", res.Output)

	res, err = r.Execute(ctx, "steve", "!setContinue(false, 20)")
	require.NoError(t, err)
	assert.True(t, res.Reply)
	assert.False(t, controls.continueOn)
	assert.Equal(t, 20*time.Second, controls.continueDur)

	res, err = r.Execute(ctx, "steve", "!stfu")
	require.NoError(t, err)
	assert.False(t, res.Reply)
	assert.Equal(t, 1, controls.shutUp)

	res, err = r.Execute(ctx, "steve", "!help")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "!repeatCommand: ")
	assert.Contains(t, res.Output, "times: (int) How many times to run it.")
}

func TestNewActionGatesEachGeneratedCommand(t *testing.T) {
	console := &fakeConsole{}
	var gotInstructions string
	planner := planFunc(func(ctx context.Context, instructions string) ([]string, error) {
		gotInstructions = instructions
		return []string{"/setblock 0 64 0 stone", "say not a command", "/effect give @a wither"}, nil
	})
	r := newTestRegistry(console, &fakeControls{}, planner)

	res, err := r.Execute(context.Background(), "steve", `!newAction("place a stone block")`)
	require.NoError(t, err)
	assert.Equal(t, "place a stone block", gotInstructions)
	assert.Equal(t, []string{"/setblock 0 64 0 stone"}, console.Sent())
	assert.Contains(t, res.Output, "Command '/effect give @a wither' was deemed unsafe")
}

func TestNewActionPlannerError(t *testing.T) {
	planner := planFunc(func(ctx context.Context, instructions string) ([]string, error) {
		return nil, errors.New("model offline")
	})
	r := newTestRegistry(&fakeConsole{}, &fakeControls{}, planner)
	_, err := r.Execute(context.Background(), "steve", `!newAction("x")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "!newAction")
}

func TestStopAndResume(t *testing.T) {
	console := &fakeConsole{block: make(chan struct{})}
	r := newTestRegistry(console, &fakeControls{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Execute(context.Background(), "bot", `!repeatCommand("/say hi", 3)`)
		done <- err
	}()

	// Let one iteration through, then stop mid-way.
	console.block <- struct{}{}
	require.Eventually(t, func() bool { return len(console.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, r.Busy())
	r.Stop()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Busy())

	pending, ok := r.Pending()
	require.True(t, ok)
	assert.Equal(t, `!repeatCommand("/say hi", 3)`, pending)

	// Resume finishes the remaining two runs.
	close(console.block)
	resumed, res, err := r.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Len(t, console.Sent(), 3)
	assert.Contains(t, res.Output, "Ran /say hi 3 times")

	resumed, _, _ = r.Resume(context.Background())
	assert.False(t, resumed, "completed actions are not resumed again")
	_, ok = r.Pending()
	assert.False(t, ok)
}

func TestCancelResume(t *testing.T) {
	console := &fakeConsole{block: make(chan struct{})}
	r := newTestRegistry(console, &fakeControls{}, nil)

	done := make(chan struct{})
	go func() {
		_, _ = r.Execute(context.Background(), "bot", `!repeatCommand("/say hi", 2)`)
		close(done)
	}()
	require.Eventually(t, r.Busy, time.Second, 5*time.Millisecond)
	_, ok := r.Pending()
	assert.False(t, ok, "nothing is pending while the action runs")
	r.Stop()
	<-done
	r.CancelResume()
	_, ok = r.Pending()
	assert.False(t, ok)

	resumed, _, err := r.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestResultHistoryText(t *testing.T) {
	assert.Equal(t, NoOutput, ReplyWith("").HistoryText())
	assert.Equal(t, "done", ReplyWith("done").HistoryText())
	assert.False(t, NoReply.Reply)
}

func TestExecuteRaw(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.ExecuteRaw(context.Background(), "/time set day")
	require.ErrorIs(t, err, ErrNoConsole)

	console := &fakeConsole{}
	r.SetConsole(console)
	out, err := r.ExecuteRaw(context.Background(), "  /time set day ")
	require.NoError(t, err)
	assert.Equal(t, "ok: /time set day", out)

	_, err = r.ExecuteRaw(context.Background(), "time set day")
	require.ErrorIs(t, err, ErrInvalidArgs)
	assert.Equal(t, []string{"/time set day"}, console.Sent())
}
