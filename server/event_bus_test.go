package server_test

import (
	"context"
	"testing"

	server "github.com/i-am-bee/acp-go/server"
	types "github.com/i-am-bee/acp-go/types"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"
)

func TestInMemoryEventBus_PublishAndSubscribe(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	events, cancel := bus.Subscribe("run-1")
	defer cancel()

	bus.Publish(ctx, "run-1", types.Event{Type: types.EventRunCreated})
	bus.Publish(ctx, "run-1", types.Event{Type: types.EventRunInProgress})

	first := <-events
	assert.Equal(t, types.EventRunCreated, first.Type)
	second := <-events
	assert.Equal(t, types.EventRunInProgress, second.Type)
}

func TestInMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	eventsA, cancelA := bus.Subscribe("run-1")
	defer cancelA()
	eventsB, cancelB := bus.Subscribe("run-1")
	defer cancelB()

	bus.Publish(ctx, "run-1", types.Event{Type: types.EventRunCompleted})

	assert.Equal(t, types.EventRunCompleted, (<-eventsA).Type)
	assert.Equal(t, types.EventRunCompleted, (<-eventsB).Type)
}

func TestInMemoryEventBus_RunIsolation(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	events, cancel := bus.Subscribe("run-1")
	defer cancel()

	bus.Publish(ctx, "run-2", types.Event{Type: types.EventRunCreated})

	select {
	case event := <-events:
		t.Fatalf("received event for a different run: %s", event.Type)
	default:
	}
}

func TestInMemoryEventBus_Finish(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	events, _ := bus.Subscribe("run-1")

	bus.Publish(ctx, "run-1", types.Event{Type: types.EventRunCompleted})
	bus.Finish("run-1")

	event, ok := <-events
	require.True(t, ok)
	assert.Equal(t, types.EventRunCompleted, event.Type)

	_, ok = <-events
	assert.False(t, ok, "channel should be closed after Finish")
}

func TestInMemoryEventBus_SubscribeAfterFinish(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())

	bus.Finish("run-1")

	events, cancel := bus.Subscribe("run-1")
	defer cancel()

	_, ok := <-events
	assert.False(t, ok, "late subscriptions to a finished run receive a closed channel")
}

func TestInMemoryEventBus_CancelDetaches(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	events, cancel := bus.Subscribe("run-1")
	cancel()

	// publishing after cancel must not panic or deliver
	bus.Publish(ctx, "run-1", types.Event{Type: types.EventRunCreated})

	_, ok := <-events
	assert.False(t, ok)

	// double cancel is safe
	cancel()
}

func TestInMemoryEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := server.NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	events, cancel := bus.Subscribe("run-1")
	defer cancel()

	// overflow the subscriber buffer; publish must not block
	for i := 0; i < 200; i++ {
		bus.Publish(ctx, "run-1", types.Event{Type: types.EventMessagePart})
	}

	received := 0
	for {
		select {
		case <-events:
			received++
		default:
			assert.Greater(t, received, 0)
			assert.Less(t, received, 200)
			return
		}
	}
}
