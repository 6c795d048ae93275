package server

import (
	"context"
	"fmt"
	"time"

	types "github.com/i-am-bee/acp-go/types"
)

// RunContext is the handle a handler uses to produce output and reach
// session-scoped facilities. Output parts are pushed through Yield and
// consumed incrementally by the transport layer, preserving order; once the
// handler returns the sequence terminates and cannot be restarted.
//
// A RunContext is owned by a single handler invocation and is not safe for
// concurrent use from multiple goroutines.
type RunContext struct {
	runID     string
	agentName string
	sessionID string
	history   []types.Message

	emit  EmitFunc
	await AwaitFunc

	current      *types.Message
	output       []types.Message
	partsYielded int
}

// EmitFunc delivers one event to the run's event stream
type EmitFunc func(ctx context.Context, event types.Event) error

// AwaitFunc parks the run until the client resumes it with a payload
type AwaitFunc func(ctx context.Context, req types.AwaitRequest) (*types.AwaitResume, error)

// RunContextOptions configures a RunContext. Emit may be nil in handler unit
// tests; yielded output is still accumulated and observable through Output.
type RunContextOptions struct {
	RunID     string
	AgentName string
	SessionID string
	History   []types.Message
	Emit      EmitFunc
	Await     AwaitFunc
}

// NewRunContext creates a run context. The executor builds one per run; tests
// exercising a handler directly may build their own.
func NewRunContext(opts RunContextOptions) *RunContext {
	return &RunContext{
		runID:     opts.RunID,
		agentName: opts.AgentName,
		sessionID: opts.SessionID,
		history:   opts.History,
		emit:      opts.Emit,
		await:     opts.Await,
	}
}

// RunID returns the identifier of the current run
func (rc *RunContext) RunID() string {
	return rc.runID
}

// AgentName returns the name the run was addressed to
func (rc *RunContext) AgentName() string {
	return rc.agentName
}

// SessionID returns the session the run belongs to
func (rc *RunContext) SessionID() string {
	return rc.sessionID
}

// History returns a copy of the session's conversation history prior to this
// run's input
func (rc *RunContext) History() []types.Message {
	history := make([]types.Message, len(rc.history))
	copy(history, rc.history)
	return history
}

// Yield appends a part to the current output message, opening a new message
// when none is in progress, and streams it to the consumer.
func (rc *RunContext) Yield(ctx context.Context, part types.MessagePart) error {
	if rc.current == nil {
		now := time.Now().UTC()
		rc.current = &types.Message{
			Role:      types.RoleAgent + "/" + rc.agentName,
			Parts:     []types.MessagePart{},
			CreatedAt: &now,
		}

		if err := rc.emitEvent(ctx, types.Event{
			Type:    types.EventMessageCreated,
			Message: rc.snapshotCurrent(),
		}); err != nil {
			return err
		}
	}

	rc.current.Parts = append(rc.current.Parts, part)
	rc.partsYielded++

	return rc.emitEvent(ctx, types.Event{
		Type: types.EventMessagePart,
		Part: &part,
	})
}

// YieldMessage emits a complete message in one step, closing any message
// opened by prior Yield calls first.
func (rc *RunContext) YieldMessage(ctx context.Context, message types.Message) error {
	if err := rc.CompleteMessage(ctx); err != nil {
		return err
	}

	if message.CreatedAt == nil {
		now := time.Now().UTC()
		message.CreatedAt = &now
	}

	if err := rc.emitEvent(ctx, types.Event{
		Type:    types.EventMessageCreated,
		Message: &message,
	}); err != nil {
		return err
	}

	for i := range message.Parts {
		rc.partsYielded++
		if err := rc.emitEvent(ctx, types.Event{
			Type: types.EventMessagePart,
			Part: &message.Parts[i],
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	message.CompletedAt = &now
	rc.output = append(rc.output, message)

	return rc.emitEvent(ctx, types.Event{
		Type:    types.EventMessageCompleted,
		Message: &message,
	})
}

// CompleteMessage closes the message being accumulated by Yield, if any. The
// executor calls it when the handler returns; handlers only need it to force
// a message boundary mid-run.
func (rc *RunContext) CompleteMessage(ctx context.Context) error {
	if rc.current == nil {
		return nil
	}

	now := time.Now().UTC()
	rc.current.CompletedAt = &now

	completed := *rc.current
	rc.output = append(rc.output, completed)
	rc.current = nil

	return rc.emitEvent(ctx, types.Event{
		Type:    types.EventMessageCompleted,
		Message: &completed,
	})
}

// Await parks the run in the awaiting state until the client resumes it.
// Any message in progress is completed first so the client sees everything
// produced so far.
func (rc *RunContext) Await(ctx context.Context, req types.AwaitRequest) (*types.AwaitResume, error) {
	if rc.await == nil {
		return nil, fmt.Errorf("await is not supported in this run context")
	}

	if err := rc.CompleteMessage(ctx); err != nil {
		return nil, err
	}

	return rc.await(ctx, req)
}

// Output returns the completed output messages accumulated so far
func (rc *RunContext) Output() []types.Message {
	output := make([]types.Message, len(rc.output))
	copy(output, rc.output)
	return output
}

// PartsYielded returns how many parts the handler has produced
func (rc *RunContext) PartsYielded() int {
	return rc.partsYielded
}

func (rc *RunContext) emitEvent(ctx context.Context, event types.Event) error {
	if rc.emit == nil {
		return nil
	}
	return rc.emit(ctx, event)
}

func (rc *RunContext) snapshotCurrent() *types.Message {
	snapshot := *rc.current
	snapshot.Parts = make([]types.MessagePart, len(rc.current.Parts))
	copy(snapshot.Parts, rc.current.Parts)
	return &snapshot
}
