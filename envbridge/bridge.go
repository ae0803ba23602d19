// Package envbridge links the agent to a game-side driver over a websocket.
// The driver owns the game client; the bridge exchanges JSON frames with it.
//
// Inbound frames (driver to agent):
//
//	{"type":"chat","username":"steve","message":"hi"}
//	{"type":"death","message":"andy was slain by Zombie"}
//	{"type":"health","health":18,"food":20}
//	{"type":"time","time_of_day":6000}
//	{"type":"idle"}
//	{"type":"kicked","reason":"..."}
//	{"type":"error","message":"..."}
//	{"type":"result","id":"...","output":"...","error":""}
//
// Outbound frames (agent to driver):
//
//	{"type":"chat","message":"..."}
//	{"type":"command","id":"...","command":"/time set day"}
package envbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/blockbot/agentloop"
)

// ErrClosed is returned for calls made after the link ended.
var ErrClosed = errors.New("envbridge: connection closed")

// Frame is the wire message in both directions.
type Frame struct {
	Type      string  `json:"type"`
	ID        string  `json:"id,omitempty"`
	Username  string  `json:"username,omitempty"`
	Message   string  `json:"message,omitempty"`
	Command   string  `json:"command,omitempty"`
	Output    string  `json:"output,omitempty"`
	Error     string  `json:"error,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Health    float64 `json:"health,omitempty"`
	Food      float64 `json:"food,omitempty"`
	TimeOfDay int     `json:"time_of_day,omitempty"`
}

// Bridge implements agentloop.Environment.
type Bridge struct {
	conn           *websocket.Conn
	logger         *zap.Logger
	commandTimeout time.Duration

	events chan agentloop.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]chan Frame
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l *zap.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithCommandTimeout bounds how long RunCommand waits for a result frame.
func WithCommandTimeout(d time.Duration) Option { return func(b *Bridge) { b.commandTimeout = d } }

// Dial connects to the driver at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Bridge, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection and starts reading from it.
func New(conn *websocket.Conn, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:           conn,
		logger:         zap.NewNop(),
		commandTimeout: 10 * time.Second,
		events:         make(chan agentloop.Event, 64),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		pending:        make(map[string]chan Frame),
	}
	for _, opt := range opts {
		opt(b)
	}
	conn.SetReadLimit(1 << 20)
	go b.readLoop()
	return b
}

func (b *Bridge) Events() <-chan agentloop.Event { return b.events }

func (b *Bridge) Chat(ctx context.Context, text string) error {
	return b.write(ctx, Frame{Type: "chat", Message: text})
}

// RunCommand sends raw and waits for the driver's result frame.
func (b *Bridge) RunCommand(ctx context.Context, raw string) (string, error) {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if b.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.commandTimeout)
		defer cancel()
	}
	if err := b.write(ctx, Frame{Type: "command", ID: id, Command: raw}); err != nil {
		return "", err
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return res.Output, fmt.Errorf("%s: %s", raw, res.Error)
		}
		return res.Output, nil
	case <-b.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", raw, ctx.Err())
	}
}

// Close ends the link. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.conn.Close(websocket.StatusNormalClosure, "agent shutting down")
	b.cancel()
	<-b.done
	var ce websocket.CloseError
	if err != nil && !errors.As(err, &ce) {
		return fmt.Errorf("close environment link: %w", err)
	}
	return nil
}

func (b *Bridge) write(ctx context.Context, f Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, b.conn, f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (b *Bridge) readLoop() {
	defer func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
		close(b.events)
	}()

	for {
		var f Frame
		if err := wsjson.Read(b.ctx, b.conn, &f); err != nil {
			b.mu.Lock()
			closing := b.closed
			b.mu.Unlock()
			if !closing {
				reason := err.Error()
				if status := websocket.CloseStatus(err); status != -1 {
					reason = fmt.Sprintf("closed by driver (%d)", status)
				}
				b.logger.Warn("environment link lost", zap.Error(err))
				b.emit(agentloop.DisconnectEvent{Reason: reason})
			}
			return
		}
		b.dispatch(f)
	}
}

func (b *Bridge) dispatch(f Frame) {
	switch f.Type {
	case "chat":
		b.emit(agentloop.ChatEvent{Username: f.Username, Message: f.Message})
	case "death":
		b.emit(agentloop.DeathEvent{Message: f.Message})
	case "health":
		b.emit(agentloop.HealthEvent{Health: f.Health, Food: f.Food})
	case "time":
		b.emit(agentloop.TimeEvent{TimeOfDay: f.TimeOfDay})
	case "idle":
		b.emit(agentloop.IdleEvent{})
	case "kicked":
		b.emit(agentloop.KickedEvent{Reason: f.Reason})
	case "error":
		b.emit(agentloop.ErrorEvent{Err: errors.New(f.Message)})
	case "result":
		b.mu.Lock()
		ch, ok := b.pending[f.ID]
		b.mu.Unlock()
		if !ok {
			b.logger.Debug("result for unknown command", zap.String("id", f.ID))
			return
		}
		select {
		case ch <- f:
		default:
		}
	default:
		b.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
}

func (b *Bridge) emit(ev agentloop.Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}
