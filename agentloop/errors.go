package agentloop

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand marks an invocation of a name nobody registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnsafeCommand marks an invocation the safety evaluator denied.
	ErrUnsafeCommand = errors.New("command deemed unsafe")
	// ErrEnvironmentDisconnect is returned by Run when the world link ends.
	ErrEnvironmentDisconnect = errors.New("environment disconnected")
	// ErrInvalidBudget rejects a turn budget the caller may not use.
	ErrInvalidBudget = errors.New("invalid turn budget")
)

// CommandError describes a user-issued command that was not executed.
type CommandError struct {
	Name      string
	Rationale string
	Err       error
}

func (e *CommandError) Error() string {
	if e.Rationale != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Name, e.Err, e.Rationale)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
