package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/unifiedllm"
)

// plannerContextTurns is how much conversation stands in for missing
// instructions.
const plannerContextTurns = 8

const plannerSystem = `You write Minecraft server commands. Given instructions, reply with the commands that carry them out, one per line, each starting with '/'. Reply with commands only, no commentary and no code blocks.`

// LLMPlanner turns free-form instructions into raw slash commands for
// !newAction.
type LLMPlanner struct {
	client   *unifiedllm.Client
	provider string
	model    string
	recent   func() []history.Turn
}

func NewLLMPlanner(client *unifiedllm.Client, provider, model string) *LLMPlanner {
	return &LLMPlanner{client: client, provider: provider, model: model}
}

// UseHistory lets Plan fall back to the recent conversation when called
// without instructions.
func (p *LLMPlanner) UseHistory(fn func() []history.Turn) {
	p.recent = fn
}

// Plan asks the model for commands and keeps the lines that start with "/".
func (p *LLMPlanner) Plan(ctx context.Context, instructions string) ([]string, error) {
	if strings.TrimSpace(instructions) == "" && p.recent != nil {
		instructions = recentConversation(p.recent(), plannerContextTurns)
	}
	if strings.TrimSpace(instructions) == "" {
		return nil, errors.New("planner: no instructions")
	}
	reply, err := unifiedllm.Ask(ctx, p.client, unifiedllm.AskOptions{
		Purpose:     unifiedllm.PurposePlanner,
		Provider:    p.provider,
		Model:       p.model,
		System:      plannerSystem,
		Prompt:      instructions,
		Temperature: unifiedllm.Float64(0),
		MaxTokens:   unifiedllm.Int(1000),
	})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return SlashLines(reply), nil
}

// SlashLines returns the trimmed lines of text that start with "/".
func SlashLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/") {
			out = append(out, line)
		}
	}
	return out
}

func recentConversation(turns []history.Turn, n int) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var sb strings.Builder
	sb.WriteString("Carry out what was asked in this conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Source, t.Text)
	}
	return sb.String()
}
