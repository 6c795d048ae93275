package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
	types "github.com/i-am-bee/acp-go/types"
)

const (
	runKeyPrefix     = "acp:run:"
	runIndexKey      = "acp:runs"
	sessionKeyPrefix = "acp:session:"
)

// RedisStore implements Store using Redis, letting runs and session history
// survive restarts and be shared across replicas.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis using the store configuration and verifies
// the connection with a ping
func NewRedisStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required for the redis store provider")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	if dbStr, exists := cfg.Options["db"]; exists {
		if db, err := strconv.Atoi(dbStr); err == nil {
			opt.DB = db
		}
	}

	if maxRetriesStr, exists := cfg.Options["max_retries"]; exists {
		if maxRetries, err := strconv.Atoi(maxRetriesStr); err == nil {
			opt.MaxRetries = maxRetries
		}
	}

	if timeoutStr, exists := cfg.Options["timeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			opt.DialTimeout = timeout
			opt.ReadTimeout = timeout
			opt.WriteTimeout = timeout
		}
	}

	if username, exists := cfg.Credentials["username"]; exists {
		opt.Username = username
	}
	if password, exists := cfg.Credentials["password"]; exists {
		opt.Password = password
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("connected to Redis",
		zap.String("addr", opt.Addr),
		zap.Int("db", opt.DB))

	return &RedisStore{client: client, logger: logger}, nil
}

// Close releases the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// StoreRun persists a new run
func (s *RedisStore) StoreRun(run *types.Run) error {
	ctx := context.Background()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, runKeyPrefix+run.RunID, data, 0)
	pipe.SAdd(ctx, runIndexKey, run.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store run in Redis: %w", err)
	}

	s.logger.Debug("run stored", zap.String("run_id", run.RunID))
	return nil
}

// GetRun retrieves a run by ID
func (s *RedisStore) GetRun(runID string) (*types.Run, bool) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, runKeyPrefix+runID).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Error("failed to get run from Redis",
				zap.String("run_id", runID),
				zap.Error(err))
		}
		return nil, false
	}

	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		s.logger.Error("failed to deserialize run",
			zap.String("run_id", runID),
			zap.Error(err))
		return nil, false
	}

	return &run, true
}

// UpdateRun persists run mutations
func (s *RedisStore) UpdateRun(run *types.Run) error {
	ctx := context.Background()

	existing, exists := s.GetRun(run.RunID)
	if !exists {
		return NewRunNotFoundError(run.RunID)
	}

	// a run that settled stays settled, even against a stale snapshot
	if existing.Status.IsTerminal() && run.Status != existing.Status {
		return NewRunTerminalError(run.RunID, existing.Status)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	if err := s.client.Set(ctx, runKeyPrefix+run.RunID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update run in Redis: %w", err)
	}

	return nil
}

// DeleteRun removes a run
func (s *RedisStore) DeleteRun(runID string) error {
	ctx := context.Background()

	pipe := s.client.Pipeline()
	del := pipe.Del(ctx, runKeyPrefix+runID)
	pipe.SRem(ctx, runIndexKey, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run from Redis: %w", err)
	}

	if del.Val() == 0 {
		return NewRunNotFoundError(runID)
	}

	return nil
}

// ListRuns retrieves runs matching the filter, newest first
func (s *RedisStore) ListRuns(filter RunFilter) ([]*types.Run, error) {
	runs, err := s.loadAllRuns()
	if err != nil {
		return nil, err
	}

	matched := make([]*types.Run, 0, len(runs))
	for _, run := range runs {
		if filter.AgentName != "" && run.AgentName != filter.AgentName {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		matched = append(matched, run)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}

// CleanupFinishedRuns removes the oldest finished runs beyond maxFinished
func (s *RedisStore) CleanupFinishedRuns(maxFinished int) int {
	if maxFinished < 0 {
		return 0
	}

	runs, err := s.loadAllRuns()
	if err != nil {
		s.logger.Error("failed to load runs for cleanup", zap.Error(err))
		return 0
	}

	finished := make([]*types.Run, 0, len(runs))
	for _, run := range runs {
		if run.Status.IsTerminal() {
			finished = append(finished, run)
		}
	}

	if len(finished) <= maxFinished {
		return 0
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	removed := 0
	for _, run := range finished[:len(finished)-maxFinished] {
		if err := s.DeleteRun(run.RunID); err != nil {
			s.logger.Error("failed to delete run during cleanup",
				zap.String("run_id", run.RunID),
				zap.Error(err))
			continue
		}
		removed++
	}

	return removed
}

// AppendSessionHistory appends messages to a session's history
func (s *RedisStore) AppendSessionHistory(sessionID string, messages []types.Message, maxHistory int) error {
	ctx := context.Background()

	key := sessionKeyPrefix + sessionID

	pipe := s.client.Pipeline()
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize message: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	if maxHistory > 0 {
		pipe.LTrim(ctx, key, int64(-maxHistory), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}

	return nil
}

// GetSessionHistory retrieves a session's conversation history
func (s *RedisStore) GetSessionHistory(sessionID string) ([]types.Message, bool) {
	ctx := context.Background()

	items, err := s.client.LRange(ctx, sessionKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		s.logger.Error("failed to get session history from Redis",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, false
	}
	if len(items) == 0 {
		return nil, false
	}

	history := make([]types.Message, 0, len(items))
	for _, item := range items {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Error("failed to deserialize session message",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		history = append(history, msg)
	}

	return history, true
}

// DeleteSession removes a session and its history
func (s *RedisStore) DeleteSession(sessionID string) error {
	ctx := context.Background()

	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}

	return nil
}

// Stats returns storage statistics for monitoring
func (s *RedisStore) Stats() map[string]any {
	stats := map[string]any{"provider": "redis"}

	runs, err := s.loadAllRuns()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}

	active := 0
	finished := 0
	for _, run := range runs {
		if run.Status.IsTerminal() {
			finished++
		} else {
			active++
		}
	}

	stats["total_runs"] = len(runs)
	stats["active_runs"] = active
	stats["finished_runs"] = finished

	return stats
}

// loadAllRuns reads every indexed run, skipping entries that fail to load
func (s *RedisStore) loadAllRuns() ([]*types.Run, error) {
	ctx := context.Background()

	runIDs, err := s.client.SMembers(ctx, runIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list run IDs from Redis: %w", err)
	}

	runs := make([]*types.Run, 0, len(runIDs))
	for _, runID := range runIDs {
		if run, exists := s.GetRun(runID); exists {
			runs = append(runs, run)
		}
	}

	return runs, nil
}
