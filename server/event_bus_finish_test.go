package server

import (
	"fmt"
	"testing"

	assert "github.com/stretchr/testify/assert"
	zap "go.uber.org/zap"
)

func TestInMemoryEventBus_FinishedMarkerEviction(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	total := finishedMarkerLimit + 10
	for i := 0; i < total; i++ {
		bus.Finish(fmt.Sprintf("run-%d", i))
	}

	assert.Len(t, bus.finished, finishedMarkerLimit)
	assert.Len(t, bus.finishedOrder, finishedMarkerLimit)

	// the oldest markers were evicted, so a late subscriber gets a live
	// channel instead of a closed one
	evicted, cancelEvicted := bus.Subscribe("run-0")
	defer cancelEvicted()
	select {
	case _, open := <-evicted:
		t.Fatalf("expected a live subscription after marker eviction (channel open: %v)", open)
	default:
	}

	retained, _ := bus.Subscribe(fmt.Sprintf("run-%d", total-1))
	_, open := <-retained
	assert.False(t, open)

	// finishing the same run twice records a single marker
	before := len(bus.finishedOrder)
	bus.Finish(fmt.Sprintf("run-%d", total-1))
	assert.Len(t, bus.finishedOrder, before)
}
