package server

import (
	"context"
	"sync"

	types "github.com/i-am-bee/acp-go/types"
	zap "go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity; a subscriber that
// falls further behind than this starts losing events rather than stalling
// the run.
const subscriberBuffer = 64

// finishedMarkerLimit bounds how many finished-run markers are retained;
// beyond it the oldest markers are evicted so the map cannot grow with the
// total number of runs the process ever served.
const finishedMarkerLimit = 1024

// EventBus fans a run's event stream out to its subscribers: the streaming
// response that created the run, and any later attachments via the events
// endpoint.
type EventBus interface {
	// Publish delivers an event to all current subscribers of the run
	Publish(ctx context.Context, runID string, event types.Event)

	// Subscribe attaches to a run's event stream. The returned cancel func
	// detaches the subscriber; the channel closes when the run's stream ends.
	Subscribe(runID string) (<-chan types.Event, func())

	// Finish closes a run's stream; all subscriber channels are closed and
	// later subscriptions receive an already-closed channel.
	Finish(runID string)
}

// InMemoryEventBus implements EventBus for a single process
type InMemoryEventBus struct {
	logger        *zap.Logger
	mu            sync.Mutex
	subs          map[string]map[int]chan types.Event
	nextID        int
	finished      map[string]bool
	finishedOrder []string
}

var _ EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryEventBus{
		logger:   logger,
		subs:     make(map[string]map[int]chan types.Event),
		finished: make(map[string]bool),
	}
}

// Publish delivers an event to all current subscribers of the run
func (b *InMemoryEventBus) Publish(ctx context.Context, runID string, event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[runID] {
		select {
		case ch <- event:
		case <-ctx.Done():
			return
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("run_id", runID),
				zap.Int("subscriber_id", id),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// Subscribe attaches to a run's event stream
func (b *InMemoryEventBus) Subscribe(runID string) (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Event, subscriberBuffer)

	if b.finished[runID] {
		close(ch)
		return ch, func() {}
	}

	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan types.Event)
	}

	id := b.nextID
	b.nextID++
	b.subs[runID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, exists := b.subs[runID][id]; exists {
			delete(b.subs[runID], id)
			close(sub)
		}
	}

	return ch, cancel
}

// Finish closes a run's stream
func (b *InMemoryEventBus) Finish(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[runID] {
		close(ch)
	}
	delete(b.subs, runID)

	if b.finished[runID] {
		return
	}
	b.finished[runID] = true
	b.finishedOrder = append(b.finishedOrder, runID)
	if len(b.finishedOrder) > finishedMarkerLimit {
		oldest := b.finishedOrder[0]
		b.finishedOrder = b.finishedOrder[1:]
		delete(b.finished, oldest)
	}
}
