package agentloop

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConversing is the system prompt template used when a profile does
// not provide one. See BuildSystemPrompt for the placeholders.
const DefaultConversing = `You are a playful Minecraft bot named $NAME that can converse with players, see, move, mine, build, and interact with the world by using commands. Act human-like as if you were a typical Minecraft player, rather than an AI. Be very brief in your responses, don't apologize constantly, don't give instructions or make lists unless asked, and don't refuse requests. Don't pretend to act, use commands immediately when requested. Do NOT say this: 'Sure, I've stopped.', instead say this: 'Sure, I'll stop. !stop'.
$SELF_PROMPT
$STATS
$COMMAND_DOCS
Conversation Begin:`

// Profile is the agent's persona. Profiles are JSON (or YAML) files with a
// name, an optional model and a conversing prompt template.
type Profile struct {
	Name       string `yaml:"name" json:"name"`
	Model      string `yaml:"model,omitempty" json:"model,omitempty"`
	Conversing string `yaml:"conversing,omitempty" json:"conversing,omitempty"`
}

// DefaultProfile returns the built-in persona for name.
func DefaultProfile(name string) Profile {
	return Profile{Name: name, Conversing: DefaultConversing}
}

// LoadProfile reads a profile file. Missing fields fall back to fallbackName
// and DefaultConversing.
func LoadProfile(path, fallbackName string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = fallbackName
	}
	if p.Conversing == "" {
		p.Conversing = DefaultConversing
	}
	return p, nil
}
