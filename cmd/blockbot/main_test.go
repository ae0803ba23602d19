package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/blockbot/config"
	"github.com/martinemde/blockbot/history"
)

func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.History.Path = filepath.Join(dir, "memory.json")
	cfg.Logging.Dir = ""
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "blockbot.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck(t *testing.T) {
	path := writeConfig(t, nil)

	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
	assert.Contains(t, out, "agent:       andy")
	assert.Contains(t, out, "budget:      unbounded")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) {
		c.Agent.MaxCommands = 0
		c.History.Backend = "redis"
	})

	_, err := execute(t, "check", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.max_commands")
	assert.Contains(t, err.Error(), "history.backend")
}

func TestHistoryShow(t *testing.T) {
	var histPath string
	path := writeConfig(t, func(c *config.Config) { histPath = c.History.Path })

	out, err := execute(t, "history", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No saved conversation.")

	store := history.NewFileStore(histPath)
	require.NoError(t, store.Save(context.Background(), history.Snapshot{
		Turns: []history.Turn{
			history.NewTurn("steve", "build a house"),
			history.NewTurn("andy", "On it!"),
		},
		SelfPromptGoal: "build a house",
	}))

	out, err = execute(t, "history", "show", "--config", path, "--last", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "goal: build a house")
	assert.Contains(t, out, "andy: On it!")
	assert.NotContains(t, out, "steve: build a house")

	out, err = execute(t, "history", "show", "--config", path, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"self_prompt": "build a house"`)
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, "gpt-4o", modelFor("openai", "", "gpt-4o"))
	assert.Equal(t, "llama3", modelFor("ollama"))
}
