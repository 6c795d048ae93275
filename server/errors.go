package server

import (
	"fmt"

	types "github.com/i-am-bee/acp-go/types"
)

// EmptyInputError rejects run creation with no input messages. The handler
// contract guarantees a non-empty input sequence, so the boundary enforces it.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return "input must contain at least one message"
}

// NewEmptyInputError creates a new EmptyInputError
func NewEmptyInputError() error {
	return &EmptyInputError{}
}

// AgentNotFoundError reports a run request against an unregistered agent name
type AgentNotFoundError struct {
	Name string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent not found: %s", e.Name)
}

// NewAgentNotFoundError creates a new AgentNotFoundError
func NewAgentNotFoundError(name string) error {
	return &AgentNotFoundError{Name: name}
}

// RunNotFoundError reports an operation against an unknown run ID
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// NewRunNotFoundError creates a new RunNotFoundError
func NewRunNotFoundError(runID string) error {
	return &RunNotFoundError{RunID: runID}
}

// RunNotAwaitingError reports a resume against a run that is not awaiting input
type RunNotAwaitingError struct {
	RunID  string
	Status types.RunStatus
}

func (e *RunNotAwaitingError) Error() string {
	return fmt.Sprintf("run %s is not awaiting input (status: %s)", e.RunID, e.Status)
}

// NewRunNotAwaitingError creates a new RunNotAwaitingError
func NewRunNotAwaitingError(runID string, status types.RunStatus) error {
	return &RunNotAwaitingError{RunID: runID, Status: status}
}

// RunTerminalError reports a state change against a run that already finished
type RunTerminalError struct {
	RunID  string
	Status types.RunStatus
}

func (e *RunTerminalError) Error() string {
	return fmt.Sprintf("run %s already reached terminal status %s", e.RunID, e.Status)
}

// NewRunTerminalError creates a new RunTerminalError
func NewRunTerminalError(runID string, status types.RunStatus) error {
	return &RunTerminalError{RunID: runID, Status: status}
}
