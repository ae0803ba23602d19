package history

import "sync"

// Log is the in-memory conversation. It only grows by Append.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog returns a log seeded with turns.
func NewLog(turns []Turn) *Log {
	l := &Log{}
	l.turns = append(l.turns, turns...)
	return l
}

// Append records a new turn and returns it.
func (l *Log) Append(source, text string) Turn {
	t := NewTurn(source, text)
	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
	return t
}

// Turns returns a copy of the log in insertion order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Snapshot captures the log together with the active self-prompt goal.
func (l *Log) Snapshot(goal string) Snapshot {
	return Snapshot{Turns: l.Turns(), SelfPromptGoal: goal}
}
