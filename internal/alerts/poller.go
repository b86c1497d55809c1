package alerts

import (
	"context"
	"sync"
	"time"

	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
)

// Source lists alerts; *backend.Client satisfies it.
type Source interface {
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error)
}

// Lease decides which replica polls the backend when several share a cache.
type Lease interface {
	Hold(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

const mapKey = "severity-map"

// Poller keeps the per-cycle maximum severity of open alerts up to date.
type Poller struct {
	source   Source
	interval time.Duration
	logger   *logging.Logger

	shared cache.Store
	lease  Lease

	mu      sync.RWMutex
	current map[string]models.Severity
	byCycle map[string][]models.Alert

	onChange   func(map[string]models.Severity)
	onEscalate func(Escalation, []models.Alert)
}

// Option configures a Poller.
type Option func(*Poller)

// WithShared publishes the map to store when this replica holds lease, and
// reads it from store otherwise.
func WithShared(store cache.Store, lease Lease) Option {
	return func(p *Poller) {
		p.shared = store
		p.lease = lease
	}
}

// OnChange is called with a copy of the map whenever it differs from the last one.
func OnChange(fn func(map[string]models.Severity)) Option {
	return func(p *Poller) { p.onChange = fn }
}

// OnEscalation is called for each cycle whose severity rose, with its open alerts.
func OnEscalation(fn func(Escalation, []models.Alert)) Option {
	return func(p *Poller) { p.onEscalate = fn }
}

func NewPoller(source Source, interval time.Duration, logger *logging.Logger, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		interval: interval,
		logger:   logger,
		current:  map[string]models.Severity{},
		byCycle:  map[string][]models.Alert{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Map returns a copy of the latest aggregated map.
func (p *Poller) Map() map[string]models.Severity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.Severity, len(p.current))
	for k, v := range p.current {
		out[k] = v
	}
	return out
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer func() {
		if p.lease != nil {
			// ctx is already cancelled here
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = p.lease.Release(releaseCtx)
		}
	}()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Alert poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one iteration. A failed fetch keeps the previous map.
func (p *Poller) Poll(ctx context.Context) {
	if p.lease != nil {
		leader, err := p.lease.Hold(ctx)
		if err != nil {
			p.logger.Warnf("Alert poller lease check failed: %v", err)
		}
		if !leader {
			p.follow(ctx)
			return
		}
	}

	list, err := p.source.ListAlerts(ctx, models.AlertFilter{Status: models.AlertOpen})
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Errorf("Poll open alerts failed: %v", err)
		}
		return
	}

	next := Aggregate(list)
	byCycle := make(map[string][]models.Alert)
	for _, a := range list {
		if a.CycleID != "" {
			byCycle[a.CycleID] = append(byCycle[a.CycleID], a)
		}
	}

	if p.shared != nil {
		if err := p.shared.Set(ctx, cache.AlertMap, mapKey, next, 3*p.interval); err != nil {
			p.logger.Warnf("Publish alert map failed: %v", err)
		}
	}

	prev := p.swap(next, byCycle)
	p.notify(prev, next)
}

// follow adopts the map published by the leader.
func (p *Poller) follow(ctx context.Context) {
	if p.shared == nil {
		return
	}
	var next map[string]models.Severity
	ok, err := p.shared.Get(ctx, cache.AlertMap, mapKey, &next)
	if err != nil {
		p.logger.Warnf("Read shared alert map failed: %v", err)
		return
	}
	if !ok {
		return
	}
	// a follower never sees alert lists; drop the ones from when it led
	prev := p.swap(next, map[string][]models.Alert{})
	// escalations are dispatched by the leader only
	if !Equal(prev, next) && p.onChange != nil {
		p.onChange(copyMap(next))
	}
}

func (p *Poller) swap(next map[string]models.Severity, byCycle map[string][]models.Alert) map[string]models.Severity {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.current
	p.current = next
	p.byCycle = byCycle
	return prev
}

// Open returns the open alerts of cycleID seen by the last poll this replica
// ran as leader. It is empty while following.
func (p *Poller) Open(cycleID string) []models.Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Alert(nil), p.byCycle[cycleID]...)
}

func (p *Poller) notify(prev, next map[string]models.Severity) {
	if p.onChange != nil && !Equal(prev, next) {
		p.onChange(copyMap(next))
	}
	if p.onEscalate == nil {
		return
	}
	for _, esc := range Diff(prev, next) {
		p.logger.Infof("Cycle %s escalated %s -> %s", esc.CycleID, esc.Previous, esc.Current)
		p.onEscalate(esc, p.Open(esc.CycleID))
	}
}

func copyMap(m map[string]models.Severity) map[string]models.Severity {
	out := make(map[string]models.Severity, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
