package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	gin "github.com/gin-gonic/gin"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
	middlewares "github.com/i-am-bee/acp-go/server/middlewares"
	otel "github.com/i-am-bee/acp-go/server/otel"
	types "github.com/i-am-bee/acp-go/types"
)

// ACPServer defines the interface for an ACP-compatible agent server
type ACPServer interface {
	// Start starts the server on the configured address and blocks until it
	// stops listening
	Start(ctx context.Context) error

	// Stop gracefully stops the server
	Stop(ctx context.Context) error

	// RegisterAgent adds an agent to the server's registry
	RegisterAgent(agent *Agent) error

	// Registry returns the agent registry
	Registry() AgentRegistry

	// RunManager returns the run manager
	RunManager() RunManager

	// Store returns the underlying store
	Store() Store

	// LoadAgentManifestFromFile loads a manifest from a JSON file and serves
	// it for the named agent instead of the generated one. The optional
	// overrides map allows dynamic replacement of JSON attribute values.
	LoadAgentManifestFromFile(agentName, filePath string, overrides map[string]any) error
}

// ACPServerImpl implements ACPServer
type ACPServerImpl struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  AgentRegistry
	store     Store
	runs      RunManager
	bus       EventBus
	executor  RunExecutor
	telemetry otel.OpenTelemetry

	// Server state
	httpServer    *http.Server
	metricsServer *http.Server

	// Manifests loaded from file, keyed by agent name
	customManifests map[string]*types.AgentManifest
}

var _ ACPServer = (*ACPServerImpl)(nil)

// NewACPServer creates a server wired with defaults: in-memory store, agent
// registry and event bus. The builder replaces pieces before Start.
func NewACPServer(cfg *config.Config, logger *zap.Logger, telemetry otel.OpenTelemetry) *ACPServerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewInMemoryStore(logger)

	s := &ACPServerImpl{
		cfg:             cfg,
		logger:          logger,
		registry:        NewDefaultAgentRegistry(logger),
		store:           store,
		runs:            NewDefaultRunManager(logger, store, cfg.StoreConfig.MaxFinishedRuns),
		bus:             NewInMemoryEventBus(logger),
		telemetry:       telemetry,
		customManifests: make(map[string]*types.AgentManifest),
	}

	s.rebuildExecutor(nil, nil)

	return s
}

// SetStore replaces the store and rewires the run manager around it. Must be
// called before Start.
func (s *ACPServerImpl) SetStore(store Store) {
	s.store = store
	s.runs = NewDefaultRunManager(s.logger, store, s.cfg.StoreConfig.MaxFinishedRuns)
	s.rebuildExecutor(nil, nil)
}

// SetNotifier wires a run notification sender into the executor
func (s *ACPServerImpl) SetNotifier(notifier RunNotificationSender) {
	s.rebuildExecutor(notifier, nil)
}

// SetContentStore wires a content store into the executor
func (s *ACPServerImpl) SetContentStore(contentStore ContentStore) {
	s.rebuildExecutor(nil, contentStore)
}

func (s *ACPServerImpl) rebuildExecutor(notifier RunNotificationSender, contentStore ContentStore) {
	current, ok := s.executor.(*DefaultRunExecutor)
	if ok {
		if notifier == nil {
			notifier = current.notifier
		}
		if contentStore == nil {
			contentStore = current.contentStore
		}
	}

	s.executor = NewDefaultRunExecutor(RunExecutorOptions{
		Logger:            s.logger,
		RunManager:        s.runs,
		Store:             s.store,
		Bus:               s.bus,
		ContentStore:      contentStore,
		Telemetry:         s.telemetry,
		Notifier:          notifier,
		SessionMaxHistory: s.cfg.SessionConfig.MaxHistory,
		MaxInlineBytes:    s.cfg.ContentConfig.MaxInlineBytes,
	})
}

// RegisterAgent adds an agent to the server's registry
func (s *ACPServerImpl) RegisterAgent(agent *Agent) error {
	return s.registry.Register(agent)
}

// Registry returns the agent registry
func (s *ACPServerImpl) Registry() AgentRegistry {
	return s.registry
}

// RunManager returns the run manager
func (s *ACPServerImpl) RunManager() RunManager {
	return s.runs
}

// Store returns the underlying store
func (s *ACPServerImpl) Store() Store {
	return s.store
}

// LoadAgentManifestFromFile loads a manifest from a JSON file and serves it
// for the named agent instead of the generated one
func (s *ACPServerImpl) LoadAgentManifestFromFile(agentName, filePath string, overrides map[string]any) error {
	if filePath == "" {
		return nil
	}

	s.logger.Info("loading agent manifest from file",
		zap.String("agent_name", agentName),
		zap.String("file_path", filePath))

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read agent manifest file: %w", err)
	}

	var rawData map[string]any
	if err := json.Unmarshal(data, &rawData); err != nil {
		return fmt.Errorf("failed to parse agent manifest JSON: %w", err)
	}

	for key, value := range overrides {
		rawData[key] = value
	}

	modifiedData, err := json.Marshal(rawData)
	if err != nil {
		return fmt.Errorf("failed to marshal modified agent manifest data: %w", err)
	}

	var manifest types.AgentManifest
	if err := json.Unmarshal(modifiedData, &manifest); err != nil {
		return fmt.Errorf("failed to parse modified agent manifest JSON: %w", err)
	}

	if manifest.Name == "" {
		manifest.Name = agentName
	}

	s.customManifests[agentName] = &manifest

	s.logger.Info("agent manifest loaded",
		zap.String("agent_name", agentName),
		zap.Int("overrides_count", len(overrides)))

	return nil
}

// setupRouter configures the HTTP router with ACP endpoints
func (s *ACPServerImpl) setupRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.LoggingMiddleware(cfg.ServerConfig.DisablePingLog))

	r.GET("/ping", s.handlePing)

	protected := make([]gin.HandlerFunc, 0, 2)

	if s.cfg.TelemetryConfig.Enable && s.telemetry != nil {
		telemetryMw, err := middlewares.NewTelemetryMiddleware(*s.cfg, s.telemetry, s.logger)
		if err != nil {
			s.logger.Error("failed to create telemetry middleware", zap.Error(err))
		} else {
			protected = append(protected, telemetryMw.Middleware())
		}
	}

	if cfg.AuthConfig.Enable {
		oidcAuthenticator, err := middlewares.NewOIDCAuthenticatorMiddleware(s.logger, *s.cfg)
		if err != nil {
			s.logger.Error("failed to create OIDC authenticator", zap.Error(err))
		} else {
			protected = append(protected, oidcAuthenticator.Middleware())
		}
	} else {
		s.logger.Warn("authentication is disabled")
	}

	api := r.Group("/", protected...)
	api.GET("/agents", s.handleListAgents)
	api.GET("/agents/:name", s.handleGetAgent)
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs/:id", s.handleGetRun)
	api.POST("/runs/:id", s.handleResumeRun)
	api.POST("/runs/:id/cancel", s.handleCancelRun)
	api.GET("/runs/:id/events", s.handleRunEvents)
	api.GET("/sessions/:id", s.handleGetSession)

	return r
}

// Start starts the ACP server
func (s *ACPServerImpl) Start(ctx context.Context) error {
	if len(s.registry.List()) == 0 {
		return fmt.Errorf("at least one agent must be registered before starting the server")
	}

	router := s.setupRouter(s.cfg)

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress(),
		Handler:      router,
		ReadTimeout:  s.cfg.ServerConfig.ReadTimeout,
		WriteTimeout: s.cfg.ServerConfig.WriteTimeout,
		IdleTimeout:  s.cfg.ServerConfig.IdleTimeout,
	}

	s.logger.Info("starting ACP server",
		zap.String("address", s.cfg.ListenAddress()),
		zap.String("agent_name", s.cfg.AgentName),
		zap.String("agent_version", s.cfg.AgentVersion))

	if s.cfg.TelemetryConfig.Enable && s.telemetry != nil {
		go s.startMetricsServer()
	}

	go s.startRunCleanup(ctx)

	if s.cfg.ServerConfig.TLSConfig.Enable {
		return s.httpServer.ListenAndServeTLS(s.cfg.ServerConfig.TLSConfig.CertPath, s.cfg.ServerConfig.TLSConfig.KeyPath)
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the ACP server
func (s *ACPServerImpl) Stop(ctx context.Context) error {
	s.logger.Info("stopping ACP server")

	var err error

	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("error stopping HTTP server", zap.Error(shutdownErr))
			err = shutdownErr
		}
	}

	if s.metricsServer != nil {
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("error stopping metrics server", zap.Error(shutdownErr))
			if err == nil {
				err = shutdownErr
			}
		}
	}

	if s.telemetry != nil {
		if shutdownErr := s.telemetry.ShutDown(ctx); shutdownErr != nil {
			s.logger.Error("error shutting down telemetry", zap.Error(shutdownErr))
			if err == nil {
				err = shutdownErr
			}
		}
	}

	defer func() {
		_ = s.logger.Sync()
	}()

	return err
}

// startMetricsServer serves prometheus metrics on a dedicated port
func (s *ACPServerImpl) startMetricsServer() {
	metricsRouter := gin.New()
	metricsRouter.Use(gin.Recovery())
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	metricsAddr := s.cfg.TelemetryConfig.MetricsConfig.Host + ":" + s.cfg.TelemetryConfig.MetricsConfig.Port
	s.metricsServer = &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsRouter,
		ReadTimeout:  s.cfg.TelemetryConfig.MetricsConfig.ReadTimeout,
		WriteTimeout: s.cfg.TelemetryConfig.MetricsConfig.WriteTimeout,
		IdleTimeout:  s.cfg.TelemetryConfig.MetricsConfig.IdleTimeout,
	}

	s.logger.Info("starting metrics server", zap.String("address", metricsAddr))
	if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("metrics server failed", zap.Error(err))
	}
}

// startRunCleanup periodically removes finished runs beyond the retention
// limit
func (s *ACPServerImpl) startRunCleanup(ctx context.Context) {
	interval := s.cfg.StoreConfig.CleanupInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runs.CleanupFinishedRuns()
		}
	}
}

// handlePing responds to liveness probes
func (s *ACPServerImpl) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

// handleListAgents returns the manifests of all registered agents
func (s *ACPServerImpl) handleListAgents(c *gin.Context) {
	agents := s.registry.List()

	limit := parseQueryInt(c, "limit", len(agents))
	offset := parseQueryInt(c, "offset", 0)

	manifests := make([]types.AgentManifest, 0, len(agents))
	for i, agent := range agents {
		if i < offset {
			continue
		}
		if len(manifests) >= limit {
			break
		}
		manifests = append(manifests, s.manifestFor(agent))
	}

	c.JSON(http.StatusOK, types.AgentsListResponse{Agents: manifests})
}

// handleGetAgent returns the manifest of a single agent
func (s *ACPServerImpl) handleGetAgent(c *gin.Context) {
	name := c.Param("name")

	agent, err := s.registry.Get(name)
	if err != nil {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, err.Error())
		return
	}

	c.JSON(http.StatusOK, s.manifestFor(agent))
}

// handleCreateRun creates a run and serves it in the requested mode
func (s *ACPServerImpl) handleCreateRun(c *gin.Context) {
	var req types.RunCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, types.ErrorCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = types.RunModeSync
	}
	if !mode.IsValid() {
		s.sendError(c, http.StatusBadRequest, types.ErrorCodeInvalidInput, fmt.Sprintf("invalid run mode: %s", mode))
		return
	}

	if err := validateInput(req.Input); err != nil {
		s.sendError(c, http.StatusBadRequest, types.ErrorCodeInvalidInput, err.Error())
		return
	}

	agent, err := s.registry.Get(req.AgentName)
	if err != nil {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, err.Error())
		return
	}

	run, err := s.runs.CreateRun(req.AgentName, req.SessionID)
	if err != nil {
		s.sendError(c, http.StatusInternalServerError, types.ErrorCodeServerError, err.Error())
		return
	}

	if s.telemetry != nil {
		s.telemetry.RecordRunCreated(c.Request.Context(), otel.TelemetryAttributes{
			AgentName: req.AgentName,
			RunID:     run.RunID,
			Mode:      string(mode),
		})
	}

	// subscribe before the executor starts so no events are missed
	events, cancelSub := s.bus.Subscribe(run.RunID)

	go s.executor.Execute(agent, run, req.Input)

	s.serveRun(c, mode, run, events, cancelSub)
}

// handleGetRun returns the current state of a run
func (s *ACPServerImpl) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	run, exists := s.runs.GetRun(runID)
	if !exists {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, NewRunNotFoundError(runID).Error())
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleResumeRun resumes an awaiting run and serves it in the requested mode
func (s *ACPServerImpl) handleResumeRun(c *gin.Context) {
	runID := c.Param("id")

	var req types.RunResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, types.ErrorCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = types.RunModeSync
	}
	if !mode.IsValid() {
		s.sendError(c, http.StatusBadRequest, types.ErrorCodeInvalidInput, fmt.Sprintf("invalid run mode: %s", mode))
		return
	}

	run, exists := s.runs.GetRun(runID)
	if !exists {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, NewRunNotFoundError(runID).Error())
		return
	}

	events, cancelSub := s.bus.Subscribe(runID)

	if err := s.runs.Resume(runID, req.AwaitResume); err != nil {
		cancelSub()
		switch err.(type) {
		case *RunNotFoundError:
			s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, err.Error())
		case *RunNotAwaitingError:
			s.sendError(c, http.StatusConflict, types.ErrorCodeInvalidInput, err.Error())
		default:
			s.sendError(c, http.StatusInternalServerError, types.ErrorCodeServerError, err.Error())
		}
		return
	}

	s.serveRun(c, mode, run, events, cancelSub)
}

// handleCancelRun requests cancellation of a run
func (s *ACPServerImpl) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	run, err := s.runs.RequestCancellation(runID)
	if err != nil {
		switch err.(type) {
		case *RunNotFoundError:
			s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, err.Error())
		case *RunTerminalError:
			s.sendError(c, http.StatusConflict, types.ErrorCodeInvalidInput, err.Error())
		default:
			s.sendError(c, http.StatusInternalServerError, types.ErrorCodeServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// handleRunEvents re-attaches to a run's event stream as SSE
func (s *ACPServerImpl) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")

	run, exists := s.runs.GetRun(runID)
	if !exists {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, NewRunNotFoundError(runID).Error())
		return
	}

	events, cancelSub := s.bus.Subscribe(runID)
	defer cancelSub()

	if run.Status.IsTerminal() {
		// settled runs have nothing left to stream; send a final snapshot
		s.setSSEHeaders(c)
		_ = s.writeSSEEvent(c, types.Event{Type: runStatusEventType(run.Status), Run: run})
		return
	}

	s.streamEvents(c, events)
}

// handleGetSession returns a session's conversation history
func (s *ACPServerImpl) handleGetSession(c *gin.Context) {
	sessionID := c.Param("id")

	history, exists := s.store.GetSessionHistory(sessionID)
	if !exists {
		s.sendError(c, http.StatusNotFound, types.ErrorCodeNotFound, fmt.Sprintf("session not found: %s", sessionID))
		return
	}

	c.JSON(http.StatusOK, types.SessionResponse{
		SessionID: sessionID,
		History:   history,
	})
}

// serveRun answers a run creation or resumption in the requested mode
func (s *ACPServerImpl) serveRun(c *gin.Context, mode types.RunMode, run *types.Run, events <-chan types.Event, cancelSub func()) {
	switch mode {
	case types.RunModeAsync:
		cancelSub()
		c.JSON(http.StatusAccepted, run)
	case types.RunModeStream:
		defer cancelSub()
		s.streamEvents(c, events)
	default:
		defer cancelSub()
		final, err := s.waitForRestingState(c.Request.Context(), run, events)
		if err != nil {
			s.sendError(c, http.StatusInternalServerError, types.ErrorCodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, final)
	}
}

// waitForRestingState consumes events until the run settles or awaits input
func (s *ACPServerImpl) waitForRestingState(ctx context.Context, run *types.Run, events <-chan types.Event) (*types.Run, error) {
	latest := run

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if fresh, exists := s.runs.GetRun(latest.RunID); exists {
					return fresh, nil
				}
				return latest, nil
			}

			if event.Run != nil {
				latest = event.Run
			}

			if isRestingEvent(event.Type) {
				return latest, nil
			}
		}
	}
}

// streamEvents writes events as SSE until the run reaches a resting state
func (s *ACPServerImpl) streamEvents(c *gin.Context, events <-chan types.Event) {
	s.setSSEHeaders(c)

	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("streaming client disconnected")
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			if err := s.writeSSEEvent(c, event); err != nil {
				s.logger.Error("failed to write streaming event", zap.Error(err))
				return
			}

			if isRestingEvent(event.Type) {
				return
			}
		}
	}
}

func (s *ACPServerImpl) setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Cache-Control")
}

// writeSSEEvent writes a single event in SSE format: "data: <json>\n\n"
func (s *ACPServerImpl) writeSSEEvent(c *gin.Context, event types.Event) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write data prefix: %w", err)
	}

	if _, err := c.Writer.Write(eventBytes); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE terminator: %w", err)
	}

	c.Writer.Flush()
	return nil
}

func (s *ACPServerImpl) sendError(c *gin.Context, status int, code types.ErrorCode, message string) {
	c.JSON(status, types.Error{Code: code, Message: message})
}

// manifestFor returns the agent's manifest, preferring one loaded from file
func (s *ACPServerImpl) manifestFor(agent *Agent) types.AgentManifest {
	if manifest, exists := s.customManifests[agent.Name]; exists {
		return *manifest
	}
	return agent.Manifest()
}

// validateInput rejects empty input before a run is created
func validateInput(input []types.Message) error {
	if len(input) == 0 {
		return NewEmptyInputError()
	}

	for _, msg := range input {
		if len(msg.Parts) == 0 {
			return NewEmptyInputError()
		}
	}

	return nil
}

// isRestingEvent reports whether an event marks a state the server can
// answer a synchronous request with
func isRestingEvent(t types.EventType) bool {
	switch t {
	case types.EventRunCompleted, types.EventRunFailed, types.EventRunCancelled, types.EventRunAwaiting:
		return true
	default:
		return false
	}
}

// runStatusEventType maps a run status to its lifecycle event type
func runStatusEventType(status types.RunStatus) types.EventType {
	switch status {
	case types.RunStatusCompleted:
		return types.EventRunCompleted
	case types.RunStatusFailed:
		return types.EventRunFailed
	case types.RunStatusCancelled:
		return types.EventRunCancelled
	case types.RunStatusAwaiting:
		return types.EventRunAwaiting
	case types.RunStatusInProgress, types.RunStatusCancelling:
		return types.EventRunInProgress
	default:
		return types.EventRunCreated
	}
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
