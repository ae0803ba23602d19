package agentloop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/blockbot/history"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := Profile{Name: "andy", Conversing: "I am $NAME.\n$SELF_PROMPT$STATS$COMMAND_DOCS"}

	got := BuildSystemPrompt(p, PromptContext{CommandDocs: "*COMMAND DOCS*"})
	assert.Equal(t, "I am andy.\n*COMMAND DOCS*", got)

	got = BuildSystemPrompt(p, PromptContext{
		Goal:  "build a house",
		World: WorldState{Health: 20, Food: 7.5, TimeOfDay: 6500, Known: true},
	})
	assert.Equal(t, "I am andy.\n"+
		"YOUR CURRENT ASSIGNED GOAL: 'build a house'\n"+
		"STATS\n- Health: 20 / 20\n- Hunger: 7.5 / 20\n- Time: Afternoon\n", got)
}

func TestBuildSystemPromptDefaultTemplate(t *testing.T) {
	got := BuildSystemPrompt(Profile{Name: "andy"}, PromptContext{})
	assert.Contains(t, got, "named andy")
	assert.NotContains(t, got, "$")
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "andy.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name": "andy", "model": "gpt-4o-mini", "conversing": "Hi $NAME"}`), 0o644))
	p, err := LoadProfile(jsonPath, "fallback")
	require.NoError(t, err)
	assert.Equal(t, Profile{Name: "andy", Model: "gpt-4o-mini", Conversing: "Hi $NAME"}, p)

	yamlPath := filepath.Join(dir, "bare.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("model: claude-3-haiku\n"), 0o644))
	p, err = LoadProfile(yamlPath, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.Name)
	assert.Equal(t, DefaultConversing, p.Conversing)

	_, err = LoadProfile(filepath.Join(dir, "missing.json"), "x")
	require.Error(t, err)
}

func TestDetectLoop(t *testing.T) {
	build := func(cmds ...string) []history.Turn {
		var turns []history.Turn
		for _, c := range cmds {
			turns = append(turns, history.NewTurn("andy", c), history.NewTurn(history.SourceSystem, "ok"))
		}
		return turns
	}

	tests := []struct {
		name   string
		turns  []history.Turn
		window int
		want   bool
	}{
		{"same command", build("!a", "!a", "!a", "!a"), 4, true},
		{"alternating", build("!a", "!b", "!a", "!b"), 4, true},
		{"varied", build("!a", "!b", "!c", "!d"), 4, false},
		{"too few", build("!a", "!a"), 4, false},
		{"window too small", build("!a", "!a"), 1, false},
		{"arguments differ", build(`!go(1)`, `!go(2)`, `!go(1)`), 3, false},
		{"other speakers ignored", append(build("!a", "!a"), history.NewTurn("steve", "!b"), history.NewTurn("andy", "!a")), 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLoop(tt.turns, "andy", tt.window))
		})
	}
}

func TestTruncateCommandOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateCommandOutput("short", 100, 10))

	long := strings.Repeat("x", 50) + strings.Repeat("y", 50)
	got := TruncateOutput(long, 20, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 10)))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("y", 10)))
	assert.Contains(t, got, "80 characters were removed")

	got = TruncateOutput(long, 20, TruncateTail)
	assert.True(t, strings.HasSuffix(got, strings.Repeat("y", 20)))

	lines := strings.Repeat("line\n", 9) + "last"
	got = TruncateLines(lines, 4)
	assert.Contains(t, got, "[... 6 lines omitted ...]")
	assert.True(t, strings.HasSuffix(got, "last"))
}

func TestChatFilter(t *testing.T) {
	f := ChatFilter{Self: "andy", Users: []string{"Admin"}, Prefixes: []string{"#"}}

	assert.True(t, f.Accept("steve", "hi"))
	assert.False(t, f.Accept("andy", "hi"))
	assert.False(t, f.Accept("Admin", "hi"))
	assert.False(t, f.Accept("steve", "# note to self"))
}

func TestFlattenChat(t *testing.T) {
	assert.Equal(t, "one  two  three", FlattenChat("one\ntwo\nthree"))
}

func TestTimePhase(t *testing.T) {
	assert.Equal(t, "sunrise", TimeEvent{TimeOfDay: 0}.Phase())
	assert.Equal(t, "noon", TimeEvent{TimeOfDay: 6000}.Phase())
	assert.Equal(t, "sunset", TimeEvent{TimeOfDay: 12000}.Phase())
	assert.Equal(t, "midnight", TimeEvent{TimeOfDay: 18000}.Phase())
	assert.Empty(t, TimeEvent{TimeOfDay: 6001}.Phase())
}

func TestSlashLines(t *testing.T) {
	assert.Nil(t, SlashLines("nothing to run"))
	assert.Equal(t, []string{"/a", "/b c"}, SlashLines("/a\n text\n /b c "))
}

func TestBudget(t *testing.T) {
	assert.Equal(t, Unbounded, BudgetFromConfig(-1))
	assert.Equal(t, Budget(5), BudgetFromConfig(5))
	assert.Equal(t, "unbounded", Unbounded.String())
	assert.Equal(t, "3", Budget(3).String())
	assert.True(t, Budget(2).allows(1))
	assert.False(t, Budget(2).allows(2))
	assert.True(t, Unbounded.allows(1000))
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Name: "!runCommand", Rationale: "UNSAFE", Err: ErrUnsafeCommand}
	assert.ErrorIs(t, err, ErrUnsafeCommand)
	assert.Equal(t, "!runCommand: command deemed unsafe (UNSAFE)", err.Error())
}
