package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of agent event.
type EventKind string

const (
	EventAgentStart      EventKind = "agent_start"
	EventAgentEnd        EventKind = "agent_end"
	EventTurnStarted     EventKind = "turn_started"
	EventTurnFinished    EventKind = "turn_finished"
	EventModelReply      EventKind = "model_reply"
	EventCommandExecuted EventKind = "command_executed"
	EventCommandDenied   EventKind = "command_denied"
	EventCommandUnknown  EventKind = "command_unknown"
	EventStrayDispatched EventKind = "stray_dispatched"
	EventLoopDetection   EventKind = "loop_detection"
	EventWorld           EventKind = "world"
	EventWarning         EventKind = "warning"
	EventError           EventKind = "error"
)

// AgentEvent is a typed event emitted by the agent.
type AgentEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
type EventEmitter struct {
	sessionID string
	ch        chan AgentEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan AgentEvent, bufferSize),
	}
}

// Emit sends an event to the channel. Events are dropped when the emitter
// is closed or the channel is full.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := AgentEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan AgentEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
