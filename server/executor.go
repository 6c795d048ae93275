package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	zap "go.uber.org/zap"

	otel "github.com/i-am-bee/acp-go/server/otel"
	types "github.com/i-am-bee/acp-go/types"
)

// RunExecutor drives a single run through its lifecycle: it invokes the
// agent handler, publishes events, persists state transitions and settles
// the run with a terminal status.
type RunExecutor interface {
	// Execute runs the agent handler to completion. It blocks until the run
	// settles; callers launch it in a goroutine and observe progress through
	// the event bus.
	Execute(agent *Agent, run *types.Run, input []types.Message)
}

// RunExecutorOptions configures a DefaultRunExecutor. ContentStore,
// Telemetry and Notifier are optional.
type RunExecutorOptions struct {
	Logger            *zap.Logger
	RunManager        RunManager
	Store             Store
	Bus               EventBus
	ContentStore      ContentStore
	Telemetry         otel.OpenTelemetry
	Notifier          RunNotificationSender
	SessionMaxHistory int
	MaxInlineBytes    int
}

// DefaultRunExecutor implements RunExecutor
type DefaultRunExecutor struct {
	logger            *zap.Logger
	runManager        RunManager
	store             Store
	bus               EventBus
	contentStore      ContentStore
	telemetry         otel.OpenTelemetry
	notifier          RunNotificationSender
	sessionMaxHistory int
	maxInlineBytes    int
}

var _ RunExecutor = (*DefaultRunExecutor)(nil)

// NewDefaultRunExecutor creates a run executor
func NewDefaultRunExecutor(opts RunExecutorOptions) *DefaultRunExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultRunExecutor{
		logger:            logger,
		runManager:        opts.RunManager,
		store:             opts.Store,
		bus:               opts.Bus,
		contentStore:      opts.ContentStore,
		telemetry:         opts.Telemetry,
		notifier:          opts.Notifier,
		sessionMaxHistory: opts.SessionMaxHistory,
		maxInlineBytes:    opts.MaxInlineBytes,
	}
}

// Execute runs the agent handler to completion
func (e *DefaultRunExecutor) Execute(agent *Agent, run *types.Run, input []types.Message) {
	runID := run.RunID
	started := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resumeCh := make(chan types.AwaitResume, 1)
	e.runManager.RegisterRunControl(runID, cancel, resumeCh)
	defer e.runManager.UnregisterRunControl(runID)
	defer e.bus.Finish(runID)

	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunCreated, Run: run})

	history := e.loadHistory(run)

	inProgress, err := e.runManager.MarkInProgress(runID)
	if err != nil {
		// cancelled before the handler ever started
		e.settleCancelled(ctx, runID, nil, started)
		return
	}
	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunInProgress, Run: inProgress})
	e.notify(ctx, inProgress)

	runCtx := NewRunContext(RunContextOptions{
		RunID:     runID,
		AgentName: run.AgentName,
		SessionID: derefSessionID(run.SessionID),
		History:   history,
		Emit: func(ctx context.Context, event types.Event) error {
			if event.Type == types.EventMessagePart && e.telemetry != nil {
				e.telemetry.RecordPartYielded(ctx, otel.TelemetryAttributes{AgentName: run.AgentName, RunID: runID})
			}
			e.bus.Publish(ctx, runID, event)
			return nil
		},
		Await: func(ctx context.Context, req types.AwaitRequest) (*types.AwaitResume, error) {
			return e.await(ctx, runID, req, resumeCh)
		},
	})

	handlerErr := e.invokeHandler(ctx, agent, append(history, input...), runCtx)

	// settling survives the handler context being cancelled
	settleCtx := context.WithoutCancel(ctx)

	if err := runCtx.CompleteMessage(settleCtx); err != nil {
		e.logger.Warn("failed to complete trailing message",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	output := e.externalizeOutput(settleCtx, runID, runCtx.Output())

	switch {
	case ctx.Err() != nil:
		// a cancelling run settles cancelled even when the handler ignored
		// its context and returned nil
		e.settleCancelled(settleCtx, runID, output, started)
	case handlerErr == nil:
		e.settleCompleted(settleCtx, runID, output, started)
	default:
		e.settleFailed(settleCtx, runID, handlerErr, started)
	}

	e.appendSessionHistory(run, input, output)
}

// invokeHandler calls the agent handler, converting panics into errors so a
// misbehaving handler fails its run instead of crashing the server
func (e *DefaultRunExecutor) invokeHandler(ctx context.Context, agent *Agent, input []types.Message, runCtx *RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("agent handler panicked",
				zap.String("agent_name", agent.Name),
				zap.Any("panic", r))
			err = fmt.Errorf("agent handler panicked: %v", r)
		}
	}()

	return agent.Handler.Run(ctx, input, runCtx)
}

// await parks the run in the awaiting state until a resume arrives or the
// run is cancelled
func (e *DefaultRunExecutor) await(ctx context.Context, runID string, req types.AwaitRequest, resumeCh <-chan types.AwaitResume) (*types.AwaitResume, error) {
	awaiting, err := e.runManager.MarkAwaiting(runID, &req)
	if err != nil {
		return nil, err
	}

	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunAwaiting, Run: awaiting})
	e.notify(ctx, awaiting)

	e.logger.Info("run awaiting input", zap.String("run_id", runID))

	select {
	case resume := <-resumeCh:
		resumed, err := e.runManager.MarkInProgress(runID)
		if err != nil {
			return nil, err
		}
		e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunInProgress, Run: resumed})
		return &resume, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *DefaultRunExecutor) settleCompleted(ctx context.Context, runID string, output []types.Message, started time.Time) {
	run, err := e.runManager.CompleteRun(runID, output)
	if err != nil {
		e.logger.Error("failed to complete run",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunCompleted, Run: run})
	e.notify(ctx, run)
	e.recordSettled(ctx, run, started)

	e.logger.Info("run completed",
		zap.String("run_id", runID),
		zap.Int("output_messages", len(output)))
}

func (e *DefaultRunExecutor) settleFailed(ctx context.Context, runID string, handlerErr error, started time.Time) {
	run, err := e.runManager.FailRun(runID, &types.Error{
		Code:    types.ErrorCodeServerError,
		Message: handlerErr.Error(),
	})
	if err != nil {
		e.logger.Error("failed to mark run as failed",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunFailed, Run: run})
	e.notify(ctx, run)
	e.recordSettled(ctx, run, started)

	e.logger.Error("run failed",
		zap.String("run_id", runID),
		zap.Error(handlerErr))
}

func (e *DefaultRunExecutor) settleCancelled(ctx context.Context, runID string, output []types.Message, started time.Time) {
	run, err := e.runManager.FinalizeCancellation(runID, output)
	if err != nil {
		e.logger.Error("failed to finalize cancellation",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	e.bus.Publish(ctx, runID, types.Event{Type: types.EventRunCancelled, Run: run})
	e.notify(ctx, run)
	e.recordSettled(ctx, run, started)

	e.logger.Info("run cancelled", zap.String("run_id", runID))
}

// loadHistory reads the session conversation history when the run belongs
// to a session
func (e *DefaultRunExecutor) loadHistory(run *types.Run) []types.Message {
	if run.SessionID == nil {
		return nil
	}

	history, exists := e.store.GetSessionHistory(*run.SessionID)
	if !exists {
		return nil
	}
	return history
}

// appendSessionHistory records the run's input and output in its session
func (e *DefaultRunExecutor) appendSessionHistory(run *types.Run, input, output []types.Message) {
	if run.SessionID == nil {
		return
	}

	messages := make([]types.Message, 0, len(input)+len(output))
	messages = append(messages, input...)
	messages = append(messages, output...)

	if err := e.store.AppendSessionHistory(*run.SessionID, messages, e.sessionMaxHistory); err != nil {
		e.logger.Error("failed to append session history",
			zap.String("run_id", run.RunID),
			zap.String("session_id", *run.SessionID),
			zap.Error(err))
	}
}

// externalizeOutput moves oversized inline part content to the content
// store, replacing it with a content URL
func (e *DefaultRunExecutor) externalizeOutput(ctx context.Context, runID string, output []types.Message) []types.Message {
	if e.contentStore == nil || e.maxInlineBytes <= 0 {
		return output
	}

	partIndex := 0
	for mi := range output {
		for pi := range output[mi].Parts {
			part := &output[mi].Parts[pi]
			partIndex++

			if part.Content == nil || len(*part.Content) <= e.maxInlineBytes {
				continue
			}

			partName := fmt.Sprintf("part-%d", partIndex)
			if part.Name != nil && *part.Name != "" {
				partName = *part.Name
			}

			url, err := e.contentStore.Store(ctx, runID, partName, strings.NewReader(*part.Content))
			if err != nil {
				e.logger.Error("failed to externalize part content",
					zap.String("run_id", runID),
					zap.String("part_name", partName),
					zap.Error(err))
				continue
			}

			part.Content = nil
			part.ContentURL = &url
		}
	}

	return output
}

// notify delivers a run status change to the configured webhook, if any
func (e *DefaultRunExecutor) notify(ctx context.Context, run *types.Run) {
	if e.notifier == nil {
		return
	}

	if err := e.notifier.SendRunUpdate(ctx, run); err != nil {
		e.logger.Warn("failed to send run notification",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}

// recordSettled emits terminal-state telemetry for a run
func (e *DefaultRunExecutor) recordSettled(ctx context.Context, run *types.Run, started time.Time) {
	if e.telemetry == nil {
		return
	}

	attrs := otel.TelemetryAttributes{AgentName: run.AgentName, RunID: run.RunID}
	e.telemetry.RecordRunCompleted(ctx, attrs, string(run.Status))
	e.telemetry.RecordRunDuration(ctx, attrs, float64(time.Since(started).Milliseconds()))
}

func derefSessionID(sessionID *string) string {
	if sessionID == nil {
		return ""
	}
	return *sessionID
}
