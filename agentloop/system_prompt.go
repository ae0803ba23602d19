package agentloop

import (
	"fmt"
	"strings"
)

// PromptContext is the live state substituted into a profile's template.
type PromptContext struct {
	CommandDocs string
	Goal        string
	World       WorldState
}

// BuildSystemPrompt fills the profile template. Recognized placeholders are
// $NAME, $SELF_PROMPT, $STATS and $COMMAND_DOCS.
func BuildSystemPrompt(p Profile, pc PromptContext) string {
	tmpl := p.Conversing
	if tmpl == "" {
		tmpl = DefaultConversing
	}

	selfPrompt := ""
	if pc.Goal != "" {
		selfPrompt = fmt.Sprintf("YOUR CURRENT ASSIGNED GOAL: '%s'\n", pc.Goal)
	}

	r := strings.NewReplacer(
		"$NAME", p.Name,
		"$SELF_PROMPT", selfPrompt,
		"$STATS", pc.World.Stats(),
		"$COMMAND_DOCS", pc.CommandDocs,
	)
	return r.Replace(tmpl)
}

// WorldState is what the agent knows about its body and the world clock.
type WorldState struct {
	Health    float64 `json:"health"`
	Food      float64 `json:"food"`
	TimeOfDay int     `json:"time_of_day"`
	Known     bool    `json:"known"`
	Deaths    int     `json:"deaths"`
}

// Stats renders the state for the system prompt. It is empty until the
// environment has reported anything.
func (w WorldState) Stats() string {
	if !w.Known {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("STATS\n")
	fmt.Fprintf(&sb, "- Health: %s / 20\n", trimFloat(w.Health))
	fmt.Fprintf(&sb, "- Hunger: %s / 20\n", trimFloat(w.Food))
	fmt.Fprintf(&sb, "- Time: %s\n", timeLabel(w.TimeOfDay))
	return sb.String()
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", f), "0"), ".")
}

func timeLabel(tick int) string {
	switch {
	case tick < 6000:
		return "Morning"
	case tick < 12000:
		return "Afternoon"
	default:
		return "Night"
	}
}
