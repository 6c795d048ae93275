package server

import (
	"context"
	"fmt"
	"sync"

	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
)

// StoreFactory creates Store instances for a provider
type StoreFactory interface {
	// CreateStore creates a store instance with the given configuration
	CreateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error)

	// SupportedProvider returns the provider name this factory supports
	SupportedProvider() string

	// ValidateConfig validates the configuration for this provider
	ValidateConfig(cfg config.StoreConfig) error
}

// StoreFactoryRegistry manages registered store providers
type StoreFactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]StoreFactory
}

var globalStoreRegistry = &StoreFactoryRegistry{
	factories: make(map[string]StoreFactory),
}

// RegisterStoreProvider registers a store provider factory
func RegisterStoreProvider(provider string, factory StoreFactory) {
	globalStoreRegistry.Register(provider, factory)
}

// SupportedStoreProviders returns a list of all registered providers
func SupportedStoreProviders() []string {
	return globalStoreRegistry.Providers()
}

// CreateStore creates a store instance using the registered factories
func CreateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	return globalStoreRegistry.CreateStore(ctx, cfg, logger)
}

// Register registers a factory for a provider
func (r *StoreFactoryRegistry) Register(provider string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory.SupportedProvider() != provider {
		panic(fmt.Sprintf("factory provider mismatch: expected %s, got %s", provider, factory.SupportedProvider()))
	}

	r.factories[provider] = factory
}

// Factory retrieves a factory for a provider
func (r *StoreFactoryRegistry) Factory(provider string) (StoreFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[provider]
	if !exists {
		return nil, fmt.Errorf("unsupported store provider: %s (supported: %v)", provider, r.providerNames())
	}

	return factory, nil
}

// Providers returns a list of all registered provider names
func (r *StoreFactoryRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerNames()
}

// providerNames returns provider names (must be called with read lock held)
func (r *StoreFactoryRegistry) providerNames() []string {
	providers := make([]string, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	return providers
}

// CreateStore creates a store instance using the appropriate factory
func (r *StoreFactoryRegistry) CreateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	factory, err := r.Factory(cfg.Provider)
	if err != nil {
		return nil, err
	}

	if err := factory.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for provider %s: %w", cfg.Provider, err)
	}

	return factory.CreateStore(ctx, cfg, logger)
}

// InMemoryStoreFactory implements StoreFactory for in-memory storage
type InMemoryStoreFactory struct{}

// SupportedProvider returns the provider name
func (f *InMemoryStoreFactory) SupportedProvider() string {
	return "memory"
}

// ValidateConfig validates the configuration for in-memory storage
func (f *InMemoryStoreFactory) ValidateConfig(cfg config.StoreConfig) error {
	// In-memory storage doesn't require URL or credentials
	return nil
}

// CreateStore creates an in-memory store instance
func (f *InMemoryStoreFactory) CreateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	return NewInMemoryStore(logger), nil
}

// RedisStoreFactory implements StoreFactory for Redis storage
type RedisStoreFactory struct{}

// SupportedProvider returns the provider name
func (f *RedisStoreFactory) SupportedProvider() string {
	return "redis"
}

// ValidateConfig validates the configuration for Redis storage
func (f *RedisStoreFactory) ValidateConfig(cfg config.StoreConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("URL is required for the redis store provider")
	}
	return nil
}

// CreateStore creates a Redis store instance
func (f *RedisStoreFactory) CreateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	return NewRedisStore(ctx, cfg, logger)
}

func init() {
	RegisterStoreProvider("memory", &InMemoryStoreFactory{})
	RegisterStoreProvider("redis", &RedisStoreFactory{})
}
