package server

import (
	"context"
	"fmt"

	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
	otel "github.com/i-am-bee/acp-go/server/otel"
)

// ACPServerBuilder provides a fluent interface for building ACP servers with
// custom configurations.
//
// Example:
//
//	server, err := NewACPServerBuilder(cfg, logger).
//	  WithAgent(agent).
//	  Build()
type ACPServerBuilder interface {
	// WithAgent registers an agent with the server. May be called multiple
	// times to host several agents behind one server.
	WithAgent(agent *Agent) ACPServerBuilder

	// WithStore sets a custom store instead of the provider named in the
	// configuration
	WithStore(store Store) ACPServerBuilder

	// WithLogger sets a custom logger for the builder and resulting server
	WithLogger(logger *zap.Logger) ACPServerBuilder

	// WithManifestFile serves the given agent's manifest from a JSON file
	// instead of the generated one. The optional overrides map allows
	// dynamic replacement of JSON attribute values.
	WithManifestFile(agentName, filePath string, overrides map[string]any) ACPServerBuilder

	// Build creates and returns the configured ACP server
	Build() (ACPServer, error)
}

var _ ACPServerBuilder = (*ACPServerBuilderImpl)(nil)

// manifestFile records a deferred manifest load
type manifestFile struct {
	agentName string
	filePath  string
	overrides map[string]any
}

// ACPServerBuilderImpl is the concrete implementation of ACPServerBuilder
type ACPServerBuilderImpl struct {
	cfg           config.Config
	logger        *zap.Logger
	agents        []*Agent
	store         Store
	manifestFiles []manifestFile
}

// NewACPServerBuilder creates a new server builder. Any zero-valued nested
// configuration is populated with defaults when Build is called.
func NewACPServerBuilder(cfg config.Config, logger *zap.Logger) ACPServerBuilder {
	if cfg.ServerConfig.Host == "" && cfg.ServerConfig.Port == "" {
		defaultCfg, err := config.NewWithDefaults(context.Background(), nil)
		if err == nil {
			cfg.ServerConfig = defaultCfg.ServerConfig
			if cfg.StoreConfig.Provider == "" {
				cfg.StoreConfig = defaultCfg.StoreConfig
			}
			if cfg.SessionConfig.MaxHistory == 0 {
				cfg.SessionConfig = defaultCfg.SessionConfig
			}
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &ACPServerBuilderImpl{
		cfg:    cfg,
		logger: logger,
	}
}

// WithAgent registers an agent with the server
func (b *ACPServerBuilderImpl) WithAgent(agent *Agent) ACPServerBuilder {
	b.agents = append(b.agents, agent)
	return b
}

// WithStore sets a custom store
func (b *ACPServerBuilderImpl) WithStore(store Store) ACPServerBuilder {
	b.store = store
	return b
}

// WithLogger sets a custom logger for the builder and resulting server
func (b *ACPServerBuilderImpl) WithLogger(logger *zap.Logger) ACPServerBuilder {
	b.logger = logger
	return b
}

// WithManifestFile serves the given agent's manifest from a JSON file
func (b *ACPServerBuilderImpl) WithManifestFile(agentName, filePath string, overrides map[string]any) ACPServerBuilder {
	b.manifestFiles = append(b.manifestFiles, manifestFile{
		agentName: agentName,
		filePath:  filePath,
		overrides: overrides,
	})
	return b
}

// Build creates and returns the configured ACP server
func (b *ACPServerBuilderImpl) Build() (ACPServer, error) {
	if len(b.agents) == 0 {
		return nil, fmt.Errorf("at least one agent must be configured before building the server - use WithAgent()")
	}

	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var telemetryInstance otel.OpenTelemetry
	if b.cfg.TelemetryConfig.Enable {
		var err error
		telemetryInstance, err = otel.NewOpenTelemetry(&b.cfg, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		metricsAddr := b.cfg.TelemetryConfig.MetricsConfig.Host + ":" + b.cfg.TelemetryConfig.MetricsConfig.Port
		b.logger.Info("telemetry enabled - metrics will be available", zap.String("metrics_url", metricsAddr+"/metrics"))
	}

	server := NewACPServer(&b.cfg, b.logger, telemetryInstance)

	store := b.store
	if store == nil && b.cfg.StoreConfig.Provider != "" && b.cfg.StoreConfig.Provider != "memory" {
		created, err := CreateStore(context.Background(), b.cfg.StoreConfig, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		store = created
	}
	if store != nil {
		server.SetStore(store)
	}

	if b.cfg.NotificationsConfig.Enable {
		server.SetNotifier(NewHTTPRunNotificationSender(b.cfg.NotificationsConfig, b.logger))
	}

	if b.cfg.ContentConfig.Provider != "" && b.cfg.ContentConfig.Provider != "none" {
		contentStore, err := NewContentStore(b.cfg.ContentConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create content store: %w", err)
		}
		server.SetContentStore(contentStore)
	}

	for _, agent := range b.agents {
		if err := server.RegisterAgent(agent); err != nil {
			return nil, err
		}
	}

	if b.cfg.ManifestFilePath != "" {
		agentName := b.cfg.AgentName
		if agentName == "" && len(b.agents) == 1 {
			agentName = b.agents[0].Name
		}
		if agentName == "" {
			return nil, fmt.Errorf("MANIFEST_FILE_PATH requires AgentName to be set when hosting multiple agents")
		}
		if err := server.LoadAgentManifestFromFile(agentName, b.cfg.ManifestFilePath, nil); err != nil {
			return nil, err
		}
	}

	for _, mf := range b.manifestFiles {
		if err := server.LoadAgentManifestFromFile(mf.agentName, mf.filePath, mf.overrides); err != nil {
			return nil, err
		}
	}

	return server, nil
}

// SimpleACPServer creates a basic ACP server hosting a single agent.
// This is a convenience function for the common single-agent case.
func SimpleACPServer(cfg config.Config, logger *zap.Logger, agent *Agent) (ACPServer, error) {
	return NewACPServerBuilder(cfg, logger).
		WithAgent(agent).
		Build()
}
