package server

import (
	"sort"
	"sync"

	types "github.com/i-am-bee/acp-go/types"
	zap "go.uber.org/zap"
)

// RunFilter describes criteria for listing runs
type RunFilter struct {
	// AgentName filters runs by agent name, empty matches all
	AgentName string

	// Status filters runs by status, nil matches all
	Status *types.RunStatus
}

// Store persists runs and session conversation history. Implementations
// must return defensive copies so callers cannot mutate stored state.
type Store interface {
	// StoreRun persists a new run
	StoreRun(run *types.Run) error

	// GetRun retrieves a run by ID
	GetRun(runID string) (*types.Run, bool)

	// UpdateRun persists run mutations
	UpdateRun(run *types.Run) error

	// DeleteRun removes a run
	DeleteRun(runID string) error

	// ListRuns retrieves runs matching the filter, newest first
	ListRuns(filter RunFilter) ([]*types.Run, error)

	// CleanupFinishedRuns removes the oldest finished runs beyond maxFinished
	// and returns the number removed
	CleanupFinishedRuns(maxFinished int) int

	// AppendSessionHistory appends messages to a session's history, trimming
	// the oldest entries beyond maxHistory when maxHistory is positive
	AppendSessionHistory(sessionID string, messages []types.Message, maxHistory int) error

	// GetSessionHistory retrieves a session's conversation history
	GetSessionHistory(sessionID string) ([]types.Message, bool)

	// DeleteSession removes a session and its history
	DeleteSession(sessionID string) error

	// Stats returns storage statistics for monitoring
	Stats() map[string]any
}

// InMemoryStore keeps runs and sessions in process memory. Suitable for a
// single-instance deployment; use the redis provider when runs must survive
// restarts or be shared across replicas.
type InMemoryStore struct {
	logger *zap.Logger

	mu       sync.RWMutex
	runs     map[string]*types.Run
	sessions map[string][]types.Message
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory store
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryStore{
		logger:   logger,
		runs:     make(map[string]*types.Run),
		sessions: make(map[string][]types.Message),
	}
}

// StoreRun persists a new run
func (s *InMemoryStore) StoreRun(run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = copyRun(run)

	s.logger.Debug("run stored", zap.String("run_id", run.RunID))
	return nil
}

// GetRun retrieves a run by ID
func (s *InMemoryStore) GetRun(runID string) (*types.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, false
	}
	return copyRun(run), true
}

// UpdateRun persists run mutations
func (s *InMemoryStore) UpdateRun(run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.RunID]
	if !exists {
		return NewRunNotFoundError(run.RunID)
	}

	// a run that settled stays settled, even against a stale snapshot
	if existing.Status.IsTerminal() && run.Status != existing.Status {
		return NewRunTerminalError(run.RunID, existing.Status)
	}

	s.runs[run.RunID] = copyRun(run)
	return nil
}

// DeleteRun removes a run
func (s *InMemoryStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; !exists {
		return NewRunNotFoundError(runID)
	}

	delete(s.runs, runID)
	return nil
}

// ListRuns retrieves runs matching the filter, newest first
func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*types.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.AgentName != "" && run.AgentName != filter.AgentName {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		matched = append(matched, copyRun(run))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}

// CleanupFinishedRuns removes the oldest finished runs beyond maxFinished
func (s *InMemoryStore) CleanupFinishedRuns(maxFinished int) int {
	if maxFinished < 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	finished := make([]*types.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Status.IsTerminal() {
			finished = append(finished, run)
		}
	}

	if len(finished) <= maxFinished {
		return 0
	}

	// oldest first so the most recent runs survive
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	removed := 0
	for _, run := range finished[:len(finished)-maxFinished] {
		delete(s.runs, run.RunID)
		removed++
	}

	return removed
}

// AppendSessionHistory appends messages to a session's history
func (s *InMemoryStore) AppendSessionHistory(sessionID string, messages []types.Message, maxHistory int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.sessions[sessionID], copyMessages(messages)...)
	if maxHistory > 0 && len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	s.sessions[sessionID] = history

	return nil
}

// GetSessionHistory retrieves a session's conversation history
func (s *InMemoryStore) GetSessionHistory(sessionID string) ([]types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return copyMessages(history), true
}

// DeleteSession removes a session and its history
func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Stats returns storage statistics for monitoring
func (s *InMemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	finished := 0
	for _, run := range s.runs {
		if run.Status.IsTerminal() {
			finished++
		} else {
			active++
		}
	}

	return map[string]any{
		"provider":      "memory",
		"total_runs":    len(s.runs),
		"active_runs":   active,
		"finished_runs": finished,
		"sessions":      len(s.sessions),
	}
}

// copyRun deep-copies a run so stored state cannot be mutated by callers
func copyRun(run *types.Run) *types.Run {
	dup := *run

	if run.SessionID != nil {
		id := *run.SessionID
		dup.SessionID = &id
	}
	if run.AwaitRequest != nil {
		req := *run.AwaitRequest
		dup.AwaitRequest = &req
	}
	if run.Error != nil {
		runErr := *run.Error
		dup.Error = &runErr
	}
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		dup.FinishedAt = &finished
	}
	dup.Output = copyMessages(run.Output)

	return &dup
}

// copyMessages deep-copies messages including their parts
func copyMessages(messages []types.Message) []types.Message {
	if messages == nil {
		return nil
	}

	dup := make([]types.Message, len(messages))
	for i, msg := range messages {
		dup[i] = msg
		dup[i].Parts = make([]types.MessagePart, len(msg.Parts))
		copy(dup[i].Parts, msg.Parts)
	}
	return dup
}
