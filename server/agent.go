package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	types "github.com/i-am-bee/acp-go/types"
	zap "go.uber.org/zap"
)

// Handler is the contract every agent implements: given an ordered, non-empty
// input conversation and a run context, produce output parts through the run
// context's yield methods. The produced sequence is finite, ordered and
// non-restartable; returning ends the run.
//
// The server rejects empty input before a handler is invoked, so input always
// contains at least one message.
type Handler interface {
	Run(ctx context.Context, input []types.Message, run *RunContext) error
}

// HandlerFunc adapts a plain function to the Handler interface
type HandlerFunc func(ctx context.Context, input []types.Message, run *RunContext) error

// Run invokes the function
func (f HandlerFunc) Run(ctx context.Context, input []types.Message, run *RunContext) error {
	return f(ctx, input, run)
}

// Agent is a registration: a unique name, a human-readable description, a
// static metadata block and the handler that serves invocations.
type Agent struct {
	Name        string
	Description string
	Metadata    *types.AgentMetadata
	Handler     Handler
}

// Manifest returns the discoverable description of the agent
func (a Agent) Manifest() types.AgentManifest {
	return types.AgentManifest{
		Name:        a.Name,
		Description: a.Description,
		Metadata:    a.Metadata,
	}
}

// AgentRegistry maps agent names to registrations. Multiple agents may
// coexist in one process under distinct names.
type AgentRegistry interface {
	// Register adds an agent; duplicate names are rejected
	Register(agent *Agent) error

	// Get returns the agent registered under name
	Get(name string) (*Agent, error)

	// List returns all registered agents in name order
	List() []*Agent
}

// DefaultAgentRegistry implements AgentRegistry with an in-process map
type DefaultAgentRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	agents map[string]*Agent
}

var _ AgentRegistry = (*DefaultAgentRegistry)(nil)

// NewDefaultAgentRegistry creates a new empty registry
func NewDefaultAgentRegistry(logger *zap.Logger) *DefaultAgentRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultAgentRegistry{
		logger: logger,
		agents: make(map[string]*Agent),
	}
}

// Register adds an agent; duplicate names are rejected
func (r *DefaultAgentRegistry) Register(agent *Agent) error {
	if agent == nil {
		return fmt.Errorf("agent cannot be nil")
	}
	if agent.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if agent.Handler == nil {
		return fmt.Errorf("agent %q has no handler", agent.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.Name]; exists {
		return fmt.Errorf("agent already registered: %s", agent.Name)
	}

	r.agents[agent.Name] = agent

	r.logger.Info("agent registered",
		zap.String("agent_name", agent.Name),
		zap.String("description", agent.Description))

	return nil
}

// Get returns the agent registered under name
func (r *DefaultAgentRegistry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, NewAgentNotFoundError(name)
	}
	return agent, nil
}

// List returns all registered agents in name order
func (r *DefaultAgentRegistry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Name < agents[j].Name
	})

	return agents
}
