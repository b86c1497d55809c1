package events

import (
	"context"
	"encoding/json"
	"sync"

	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/logging"
)

const (
	EventCycle = "cycle"
	EventPing  = "ping"
)

// CyclePayload is the optional body of a cycle event. Fields are informational;
// invalidation does not depend on them.
type CyclePayload struct {
	CycleID    string `json:"cycleId,omitempty"`
	MaterialID string `json:"materialId,omitempty"`
	BatchID    string `json:"batchId,omitempty"`
	Stage      string `json:"stage,omitempty"`
}

// Listener is told which groups went stale.
type Listener func(groups []cache.Group, payload CyclePayload)

// Dispatcher applies live events to the cache and fans them out to listeners.
// Both the SSE subscriber and the Kafka consumer feed it.
type Dispatcher struct {
	store  cache.Store
	logger *logging.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func NewDispatcher(store cache.Store, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Handle processes one event. cycle invalidates materials, batches and cycles;
// ping and unknown events do nothing.
func (d *Dispatcher) Handle(ctx context.Context, name string, data []byte) {
	switch name {
	case EventCycle:
		var payload CyclePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				d.logger.Debugf("Cycle event with unreadable payload: %v", err)
			}
		}
		if err := d.store.Invalidate(ctx, cache.CycleGroups...); err != nil {
			d.logger.Warnf("Invalidate after cycle event failed: %v", err)
		}
		d.mu.RLock()
		listeners := append([]Listener(nil), d.listeners...)
		d.mu.RUnlock()
		for _, l := range listeners {
			l(cache.CycleGroups, payload)
		}
	case EventPing:
	default:
		d.logger.Debugf("Ignoring live event %q", name)
	}
}
