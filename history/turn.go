// Package history holds the agent's ordered conversation log and the stores
// that persist it between runs.
package history

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// SourceSystem attributes turns produced by the agent runtime itself: command
// output, safety denials, and scheduler prompts.
const SourceSystem = "system"

// Turn is one utterance in the conversation. Turns are immutable once
// appended.
type Turn struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with a sortable ID and the current time.
func NewTurn(source, text string) Turn {
	return Turn{
		ID:        ulid.Make().String(),
		Source:    source,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// Snapshot is the persisted form of the conversation. SelfPromptGoal is set
// only while self-prompting is active.
type Snapshot struct {
	Turns          []Turn `json:"turns"`
	SelfPromptGoal string `json:"self_prompt,omitempty"`
}

// Store loads and saves snapshots. A store with nothing saved yet returns an
// empty snapshot and no error.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
