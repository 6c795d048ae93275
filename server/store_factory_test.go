package server_test

import (
	"context"
	"testing"

	server "github.com/i-am-bee/acp-go/server"
	config "github.com/i-am-bee/acp-go/server/config"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"
)

func TestSupportedStoreProviders(t *testing.T) {
	providers := server.SupportedStoreProviders()
	assert.Contains(t, providers, "memory")
	assert.Contains(t, providers, "redis")
}

func TestCreateStore(t *testing.T) {
	logger := zap.NewNop()

	t.Run("memory provider", func(t *testing.T) {
		store, err := server.CreateStore(context.Background(), config.StoreConfig{
			Provider: "memory",
		}, logger)
		require.NoError(t, err)
		assert.IsType(t, &server.InMemoryStore{}, store)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := server.CreateStore(context.Background(), config.StoreConfig{
			Provider: "cassandra",
		}, logger)
		assert.Error(t, err)
	})

	t.Run("redis provider requires a URL", func(t *testing.T) {
		factory := &server.RedisStoreFactory{}
		err := factory.ValidateConfig(config.StoreConfig{Provider: "redis"})
		assert.Error(t, err)

		err = factory.ValidateConfig(config.StoreConfig{
			Provider: "redis",
			URL:      "redis://localhost:6379/0",
		})
		assert.NoError(t, err)
	})
}
