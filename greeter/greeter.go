// Package greeter implements a minimal agent that formats the last input
// message into a greeting. It is the hello-world of this toolkit: one env
// variable, one yielded part.
package greeter

import (
	"context"
	"fmt"

	envconfig "github.com/sethvargo/go-envconfig"
	zap "go.uber.org/zap"

	server "github.com/i-am-bee/acp-go/server"
	types "github.com/i-am-bee/acp-go/types"
)

// AgentName is the name the greeter registers under
const AgentName = "helloworld"

// Config holds the greeter's configuration
type Config struct {
	Template string `env:"HELLO_TEMPLATE,default=Ciao %s!" description:"Greeting template, receives the caller's text"`
}

// LoadConfig loads the greeter configuration from environment variables
func LoadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process greeter config: %w", err)
	}
	return &cfg, nil
}

// Handler greets the caller using the configured template
type Handler struct {
	logger   *zap.Logger
	template string
}

var _ server.Handler = (*Handler)(nil)

// NewHandler creates a greeter handler
func NewHandler(logger *zap.Logger, cfg *Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		logger:   logger,
		template: cfg.Template,
	}
}

// Run formats the text of the last input message into the greeting template
// and yields it as a single text part
func (h *Handler) Run(ctx context.Context, input []types.Message, run *server.RunContext) error {
	last, ok := types.LastMessage(input)
	if !ok {
		return fmt.Errorf("input must contain at least one message")
	}

	greeting := fmt.Sprintf(h.template, last.Text())

	h.logger.Debug("greeting caller",
		zap.String("run_id", run.RunID()),
		zap.String("greeting", greeting))

	return run.Yield(ctx, types.NewTextPart(greeting))
}

// Agent builds the registerable greeter agent
func Agent(logger *zap.Logger, cfg *Config) *server.Agent {
	greeting := "Hello! Tell me your name and I will greet you."
	displayName := "Hello World"

	return &server.Agent{
		Name:        AgentName,
		Description: "Greets the caller using a configurable template.",
		Metadata: &types.AgentMetadata{
			Annotations: &types.Annotations{
				BeeAIUI: &types.PlatformUIAnnotation{
					UIType:       types.UITypeChat,
					UserGreeting: &greeting,
					DisplayName:  &displayName,
				},
			},
		},
		Handler: NewHandler(logger, cfg),
	}
}
