package types

import "time"

// RunStatus represents the lifecycle state of an agent run.
// Based on the ACP specification: https://agentcommunicationprotocol.dev
type RunStatus string

// RunStatus enum values
const (
	RunStatusCreated    RunStatus = "created"
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusAwaiting   RunStatus = "awaiting"
	RunStatusCancelling RunStatus = "cancelling"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// String returns the string representation of the RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks if the RunStatus is one of the supported values
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusCreated, RunStatusInProgress, RunStatusAwaiting,
		RunStatusCancelling, RunStatusCancelled, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the run can no longer change state
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCancelled, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// RunMode selects how the caller consumes a run's results.
type RunMode string

// RunMode enum values
const (
	// RunModeSync blocks the request until the run reaches a resting state
	RunModeSync RunMode = "sync"

	// RunModeAsync returns immediately; the caller polls or attaches to the event stream
	RunModeAsync RunMode = "async"

	// RunModeStream keeps the connection open and streams events as SSE
	RunModeStream RunMode = "stream"
)

// IsValid checks if the RunMode is one of the supported values
func (m RunMode) IsValid() bool {
	switch m {
	case RunModeSync, RunModeAsync, RunModeStream:
		return true
	default:
		return false
	}
}

// Message role constants. Agent roles may carry the agent name as a suffix,
// e.g. "agent/helloworld".
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// MessagePart is a fragment of a message. Content is carried inline or, for
// oversized payloads, referenced through ContentURL.
type MessagePart struct {
	Name            *string       `json:"name,omitempty"`
	ContentType     string        `json:"content_type"`
	Content         *string       `json:"content,omitempty"`
	ContentEncoding *string       `json:"content_encoding,omitempty"`
	ContentURL      *string       `json:"content_url,omitempty"`
	Metadata        *PartMetadata `json:"metadata,omitempty"`
}

// Message represents one turn of a conversation. Immutable once completed.
type Message struct {
	Role        string        `json:"role"`
	Parts       []MessagePart `json:"parts"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// AwaitRequest describes what an awaiting run needs from its client before it
// can continue. Only the message kind is defined by the protocol today.
type AwaitRequest struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// AwaitResume carries the client's answer to an AwaitRequest.
type AwaitResume struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// AwaitTypeMessage is the only await kind defined by the protocol
const AwaitTypeMessage = "message"

// ErrorCode classifies protocol-level errors
type ErrorCode string

// ErrorCode enum values
const (
	ErrorCodeInvalidInput ErrorCode = "invalid_input"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeServerError  ErrorCode = "server_error"
)

// Error is the wire representation of a failure, embedded in failed runs and
// returned as the body of non-2xx responses.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Run is a single invocation of an agent against an input conversation.
type Run struct {
	RunID        string        `json:"run_id"`
	AgentName    string        `json:"agent_name"`
	SessionID    *string       `json:"session_id,omitempty"`
	Status       RunStatus     `json:"status"`
	AwaitRequest *AwaitRequest `json:"await_request,omitempty"`
	Output       []Message     `json:"output"`
	Error        *Error        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// EventType identifies a streaming event
type EventType string

// EventType enum values emitted over the run event stream, in order of a
// typical run: run.created, run.in-progress, message.created, message.part...,
// message.completed, then one terminal run.* event.
const (
	EventRunCreated       EventType = "run.created"
	EventRunInProgress    EventType = "run.in-progress"
	EventRunAwaiting      EventType = "run.awaiting"
	EventRunCompleted     EventType = "run.completed"
	EventRunFailed        EventType = "run.failed"
	EventRunCancelled     EventType = "run.cancelled"
	EventMessageCreated   EventType = "message.created"
	EventMessagePart      EventType = "message.part"
	EventMessageCompleted EventType = "message.completed"
)

// Event is one item of a run's event stream. Exactly one of Run, Message or
// Part is set, depending on Type.
type Event struct {
	Type    EventType    `json:"type"`
	Run     *Run         `json:"run,omitempty"`
	Message *Message     `json:"message,omitempty"`
	Part    *MessagePart `json:"part,omitempty"`
}

// UIType hints how a platform should render an agent
type UIType string

// UIType enum values
const (
	UITypeChat     UIType = "chat"
	UITypeHandsOff UIType = "hands-off"
)

// AgentToolInfo advertises a tool the agent uses, for platform display only
type AgentToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PlatformUIAnnotation carries platform rendering hints for an agent
type PlatformUIAnnotation struct {
	UIType       UIType          `json:"ui_type"`
	UserGreeting *string         `json:"user_greeting,omitempty"`
	DisplayName  *string         `json:"display_name,omitempty"`
	Tools        []AgentToolInfo `json:"tools,omitempty"`
}

// Annotations groups recognized annotation blocks on an agent manifest
type Annotations struct {
	BeeAIUI *PlatformUIAnnotation `json:"beeai_ui,omitempty"`
}

// Author identifies who wrote an agent
type Author struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

// AgentMetadata is the static metadata block attached to a registration
type AgentMetadata struct {
	Annotations         *Annotations `json:"annotations,omitempty"`
	Author              *Author      `json:"author,omitempty"`
	RecommendedModels   []string     `json:"recommended_models,omitempty"`
	Tags                []string     `json:"tags,omitempty"`
	Framework           *string      `json:"framework,omitempty"`
	ProgrammingLanguage *string      `json:"programming_language,omitempty"`
	License             *string      `json:"license,omitempty"`
}

// AgentManifest is the discoverable description of a registered agent
type AgentManifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    *AgentMetadata `json:"metadata,omitempty"`
}

// RunCreateRequest is the body of POST /runs
type RunCreateRequest struct {
	AgentName string    `json:"agent_name"`
	SessionID *string   `json:"session_id,omitempty"`
	Input     []Message `json:"input"`
	Mode      RunMode   `json:"mode,omitempty"`
}

// RunResumeRequest is the body of POST /runs/{run_id}
type RunResumeRequest struct {
	AwaitResume AwaitResume `json:"await_resume"`
	Mode        RunMode     `json:"mode,omitempty"`
}

// AgentsListResponse is the body of GET /agents
type AgentsListResponse struct {
	Agents []AgentManifest `json:"agents"`
}

// SessionResponse is the body of GET /sessions/{session_id}
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	History   []Message `json:"history"`
}
