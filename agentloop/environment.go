package agentloop

import (
	"context"
	"strings"
)

// Environment is the agent's link to the game world.
type Environment interface {
	// Chat posts text to in-game chat.
	Chat(ctx context.Context, text string) error
	// RunCommand sends a raw slash command and returns its feedback.
	RunCommand(ctx context.Context, raw string) (string, error)
	// Events delivers world events. The channel closes when the link ends.
	Events() <-chan Event
	Close() error
}

// Event is a world event. The set of implementations is closed.
type Event interface {
	isEvent()
}

// ChatEvent is a message someone typed in chat.
type ChatEvent struct {
	Username string
	Message  string
}

// DeathEvent reports that the agent died.
type DeathEvent struct {
	Message string
}

// HealthEvent reports a health or food change.
type HealthEvent struct {
	Health float64
	Food   float64
}

// TimeEvent reports the world clock in ticks (0-23999).
type TimeEvent struct {
	TimeOfDay int
}

// IdleEvent reports that the agent's body has stopped moving.
type IdleEvent struct{}

// DisconnectEvent reports that the link to the world ended.
type DisconnectEvent struct {
	Reason string
}

// KickedEvent reports removal by the server.
type KickedEvent struct {
	Reason string
}

// ErrorEvent carries a non-fatal error from the environment.
type ErrorEvent struct {
	Err error
}

func (ChatEvent) isEvent()       {}
func (DeathEvent) isEvent()      {}
func (HealthEvent) isEvent()     {}
func (TimeEvent) isEvent()       {}
func (IdleEvent) isEvent()       {}
func (DisconnectEvent) isEvent() {}
func (KickedEvent) isEvent()     {}
func (ErrorEvent) isEvent()      {}

// Phase names a notable time of day, or "" for any other tick.
func (e TimeEvent) Phase() string {
	switch e.TimeOfDay {
	case 0:
		return "sunrise"
	case 6000:
		return "noon"
	case 12000:
		return "sunset"
	case 18000:
		return "midnight"
	default:
		return ""
	}
}

// ChatFilter drops chat the agent should not answer.
type ChatFilter struct {
	Self     string
	Users    []string
	Prefixes []string
}

// Accept reports whether a message from username should reach the agent.
func (f ChatFilter) Accept(username, message string) bool {
	if username == f.Self {
		return false
	}
	for _, u := range f.Users {
		if username == u {
			return false
		}
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(message, p) {
			return false
		}
	}
	return true
}

// FlattenChat replaces newlines, which chat would split into separate
// messages, with two spaces.
func FlattenChat(text string) string {
	return strings.ReplaceAll(text, "\n", "  ")
}
