package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	types "github.com/i-am-bee/acp-go/types"
	zap "go.uber.org/zap"
)

// RunManager owns the run lifecycle: creation, state transitions, await and
// resume bookkeeping, cancellation and retention cleanup. All transitions are
// guarded so a run that reached a terminal status stays there.
type RunManager interface {
	// CreateRun creates a run in the created state
	CreateRun(agentName string, sessionID *string) (*types.Run, error)

	// GetRun retrieves a run by ID
	GetRun(runID string) (*types.Run, bool)

	// ListRuns retrieves runs matching the filter
	ListRuns(filter RunFilter) ([]*types.Run, error)

	// MarkInProgress transitions a run to in-progress
	MarkInProgress(runID string) (*types.Run, error)

	// MarkAwaiting transitions a run to awaiting and records what it waits for
	MarkAwaiting(runID string, req *types.AwaitRequest) (*types.Run, error)

	// CompleteRun transitions a run to completed and attaches its output
	CompleteRun(runID string, output []types.Message) (*types.Run, error)

	// FailRun transitions a run to failed and attaches the error
	FailRun(runID string, runErr *types.Error) (*types.Run, error)

	// RequestCancellation transitions a run to cancelling and signals the
	// executing handler's context
	RequestCancellation(runID string) (*types.Run, error)

	// FinalizeCancellation transitions a cancelling run to cancelled
	FinalizeCancellation(runID string, output []types.Message) (*types.Run, error)

	// Resume delivers an await resume payload to an awaiting run
	Resume(runID string, resume types.AwaitResume) error

	// RegisterRunControl attaches the cancel func and resume channel of an
	// executing run; UnregisterRunControl detaches them when it settles
	RegisterRunControl(runID string, cancel context.CancelFunc, resume chan<- types.AwaitResume)
	UnregisterRunControl(runID string)

	// CleanupFinishedRuns removes finished runs beyond the retention limit
	CleanupFinishedRuns() int
}

// runControl tracks the live handles of an executing run
type runControl struct {
	cancel context.CancelFunc
	resume chan<- types.AwaitResume
}

// DefaultRunManager implements RunManager on top of a Store
type DefaultRunManager struct {
	logger          *zap.Logger
	store           Store
	maxFinishedRuns int

	// stateMu serializes transitions so the terminal guard covers the whole
	// read-check-write sequence; mu only guards controls
	stateMu sync.Mutex

	mu       sync.Mutex
	controls map[string]runControl
}

var _ RunManager = (*DefaultRunManager)(nil)

// NewDefaultRunManager creates a run manager backed by the given store
func NewDefaultRunManager(logger *zap.Logger, store Store, maxFinishedRuns int) *DefaultRunManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultRunManager{
		logger:          logger,
		store:           store,
		maxFinishedRuns: maxFinishedRuns,
		controls:        make(map[string]runControl),
	}
}

// CreateRun creates a run in the created state
func (m *DefaultRunManager) CreateRun(agentName string, sessionID *string) (*types.Run, error) {
	run := &types.Run{
		RunID:     uuid.New().String(),
		AgentName: agentName,
		SessionID: sessionID,
		Status:    types.RunStatusCreated,
		Output:    []types.Message{},
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.StoreRun(run); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	m.logger.Info("run created",
		zap.String("run_id", run.RunID),
		zap.String("agent_name", agentName))

	return run, nil
}

// GetRun retrieves a run by ID
func (m *DefaultRunManager) GetRun(runID string) (*types.Run, bool) {
	return m.store.GetRun(runID)
}

// ListRuns retrieves runs matching the filter
func (m *DefaultRunManager) ListRuns(filter RunFilter) ([]*types.Run, error) {
	return m.store.ListRuns(filter)
}

// MarkInProgress transitions a run to in-progress
func (m *DefaultRunManager) MarkInProgress(runID string) (*types.Run, error) {
	return m.transition(runID, func(run *types.Run) error {
		run.Status = types.RunStatusInProgress
		run.AwaitRequest = nil
		return nil
	})
}

// MarkAwaiting transitions a run to awaiting and records what it waits for
func (m *DefaultRunManager) MarkAwaiting(runID string, req *types.AwaitRequest) (*types.Run, error) {
	return m.transition(runID, func(run *types.Run) error {
		run.Status = types.RunStatusAwaiting
		run.AwaitRequest = req
		return nil
	})
}

// CompleteRun transitions a run to completed and attaches its output
func (m *DefaultRunManager) CompleteRun(runID string, output []types.Message) (*types.Run, error) {
	return m.transition(runID, func(run *types.Run) error {
		now := time.Now().UTC()
		run.Status = types.RunStatusCompleted
		run.Output = output
		run.AwaitRequest = nil
		run.FinishedAt = &now
		return nil
	})
}

// FailRun transitions a run to failed and attaches the error
func (m *DefaultRunManager) FailRun(runID string, runErr *types.Error) (*types.Run, error) {
	return m.transition(runID, func(run *types.Run) error {
		now := time.Now().UTC()
		run.Status = types.RunStatusFailed
		run.Error = runErr
		run.AwaitRequest = nil
		run.FinishedAt = &now
		return nil
	})
}

// RequestCancellation transitions a run to cancelling and signals the
// executing handler's context. A run that never started executing is
// cancelled immediately.
func (m *DefaultRunManager) RequestCancellation(runID string) (*types.Run, error) {
	m.mu.Lock()
	control, executing := m.controls[runID]
	m.mu.Unlock()

	if !executing {
		return m.FinalizeCancellation(runID, nil)
	}

	run, err := m.transition(runID, func(run *types.Run) error {
		run.Status = types.RunStatusCancelling
		return nil
	})
	if err != nil {
		return nil, err
	}

	control.cancel()

	m.logger.Info("run cancellation requested", zap.String("run_id", runID))

	return run, nil
}

// FinalizeCancellation transitions a cancelling run to cancelled
func (m *DefaultRunManager) FinalizeCancellation(runID string, output []types.Message) (*types.Run, error) {
	return m.transition(runID, func(run *types.Run) error {
		now := time.Now().UTC()
		run.Status = types.RunStatusCancelled
		if output != nil {
			run.Output = output
		}
		run.AwaitRequest = nil
		run.FinishedAt = &now
		return nil
	})
}

// Resume delivers an await resume payload to an awaiting run
func (m *DefaultRunManager) Resume(runID string, resume types.AwaitResume) error {
	run, exists := m.store.GetRun(runID)
	if !exists {
		return NewRunNotFoundError(runID)
	}

	if run.Status != types.RunStatusAwaiting {
		return NewRunNotAwaitingError(runID, run.Status)
	}

	m.mu.Lock()
	control, executing := m.controls[runID]
	m.mu.Unlock()

	if !executing || control.resume == nil {
		return fmt.Errorf("run %s has no executing handler to resume", runID)
	}

	select {
	case control.resume <- resume:
	default:
		return fmt.Errorf("run %s is not ready to receive a resume", runID)
	}

	m.logger.Info("run resumed", zap.String("run_id", runID))

	return nil
}

// RegisterRunControl attaches the cancel func and resume channel of an executing run
func (m *DefaultRunManager) RegisterRunControl(runID string, cancel context.CancelFunc, resume chan<- types.AwaitResume) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls[runID] = runControl{cancel: cancel, resume: resume}
}

// UnregisterRunControl detaches an executing run's handles
func (m *DefaultRunManager) UnregisterRunControl(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controls, runID)
}

// CleanupFinishedRuns removes finished runs beyond the retention limit
func (m *DefaultRunManager) CleanupFinishedRuns() int {
	removed := m.store.CleanupFinishedRuns(m.maxFinishedRuns)
	if removed > 0 {
		m.logger.Info("cleaned up finished runs", zap.Int("count", removed))
	}
	return removed
}

// transition applies a guarded state mutation to a stored run
func (m *DefaultRunManager) transition(runID string, mutate func(run *types.Run) error) (*types.Run, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	run, exists := m.store.GetRun(runID)
	if !exists {
		return nil, NewRunNotFoundError(runID)
	}

	if run.Status.IsTerminal() {
		return nil, NewRunTerminalError(runID, run.Status)
	}

	if err := mutate(run); err != nil {
		return nil, err
	}

	if err := m.store.UpdateRun(run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	m.logger.Debug("run transitioned",
		zap.String("run_id", runID),
		zap.String("status", string(run.Status)))

	return run, nil
}
