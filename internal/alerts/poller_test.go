package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu      sync.Mutex
	results [][]models.Alert
	err     error
	calls   int
}

func (f *fakeSource) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if filter.Status != models.AlertOpen {
		return nil, errors.New("poller must ask for open alerts")
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoller_PollComputesMapAndEscalations(t *testing.T) {
	src := &fakeSource{results: [][]models.Alert{
		{{ID: "a1", CycleID: "c1", Severity: models.SeverityWarning}},
		{
			{ID: "a1", CycleID: "c1", Severity: models.SeverityWarning},
			{ID: "a2", CycleID: "c1", Severity: models.SeverityCritical},
		},
	}}

	var changes []map[string]models.Severity
	var escalations []Escalation
	var escalated []models.Alert
	p := NewPoller(src, time.Minute, logging.NewNop(),
		OnChange(func(m map[string]models.Severity) { changes = append(changes, m) }),
		OnEscalation(func(e Escalation, list []models.Alert) {
			escalations = append(escalations, e)
			escalated = list
		}),
	)

	ctx := context.Background()
	p.Poll(ctx)
	assert.Equal(t, map[string]models.Severity{"c1": models.SeverityWarning}, p.Map())

	p.Poll(ctx)
	assert.Equal(t, map[string]models.Severity{"c1": models.SeverityCritical}, p.Map())

	require.Len(t, changes, 2)
	require.Len(t, escalations, 2)
	assert.Equal(t, Escalation{CycleID: "c1", Previous: models.SeverityWarning, Current: models.SeverityCritical}, escalations[1])
	assert.Len(t, escalated, 2)
}

func TestPoller_FailedPollKeepsPreviousMap(t *testing.T) {
	src := &fakeSource{results: [][]models.Alert{{{CycleID: "c1", Severity: models.SeverityInfo}}}}
	p := NewPoller(src, time.Minute, logging.NewNop())

	p.Poll(context.Background())
	src.mu.Lock()
	src.err = errors.New("backend down")
	src.mu.Unlock()
	p.Poll(context.Background())

	assert.Equal(t, map[string]models.Severity{"c1": models.SeverityInfo}, p.Map())
}

func TestPoller_UnchangedMapDoesNotNotify(t *testing.T) {
	src := &fakeSource{results: [][]models.Alert{{{CycleID: "c1", Severity: models.SeverityInfo}}}}
	changes := 0
	p := NewPoller(src, time.Minute, logging.NewNop(), OnChange(func(map[string]models.Severity) { changes++ }))

	p.Poll(context.Background())
	p.Poll(context.Background())
	assert.Equal(t, 1, changes)
}

func TestPoller_MapIsACopy(t *testing.T) {
	src := &fakeSource{results: [][]models.Alert{{{CycleID: "c1", Severity: models.SeverityInfo}}}}
	p := NewPoller(src, time.Minute, logging.NewNop())
	p.Poll(context.Background())

	m := p.Map()
	m["c1"] = models.SeverityCritical
	assert.Equal(t, models.SeverityInfo, p.Map()["c1"])
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{results: [][]models.Alert{{{CycleID: "c1", Severity: models.SeverityInfo}}}}
	p := NewPoller(src, 10*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_SharedLeaderAndFollower(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := cache.NewRedis(rdb, "test:")

	leaderSrc := &fakeSource{results: [][]models.Alert{{{CycleID: "c9", Severity: models.SeverityCritical}}}}
	followerSrc := &fakeSource{}

	leaderLease := NewRedisLease(rdb, "test:alerts-poller", time.Minute)
	followerLease := NewRedisLease(rdb, "test:alerts-poller", time.Minute)

	var followerChanges int
	leader := NewPoller(leaderSrc, time.Minute, logging.NewNop(), WithShared(store, leaderLease))
	follower := NewPoller(followerSrc, time.Minute, logging.NewNop(),
		WithShared(store, followerLease),
		OnChange(func(map[string]models.Severity) { followerChanges++ }),
	)

	ctx := context.Background()
	leader.Poll(ctx)
	follower.Poll(ctx)

	assert.Equal(t, 1, leaderSrc.Calls())
	assert.Equal(t, 0, followerSrc.Calls())
	assert.Equal(t, map[string]models.Severity{"c9": models.SeverityCritical}, follower.Map())
	assert.Equal(t, 1, followerChanges)

	require.NoError(t, leaderLease.Release(ctx))
	follower.Poll(ctx)
	assert.Equal(t, 1, followerSrc.Calls())
}

// toggleLease grants leadership according to a script, one entry per Hold.
type toggleLease struct {
	script []bool
}

func (l *toggleLease) Hold(context.Context) (bool, error) {
	held := l.script[0]
	if len(l.script) > 1 {
		l.script = l.script[1:]
	}
	return held, nil
}

func (l *toggleLease) Release(context.Context) error { return nil }

func TestPoller_LeaseHandover(t *testing.T) {
	store := cache.NewMemory()
	src := &fakeSource{results: [][]models.Alert{
		{{ID: "a1", CycleID: "c1", Severity: models.SeverityWarning}},
		{
			{ID: "a2", CycleID: "c1", Severity: models.SeverityCritical},
			{ID: "a3", CycleID: "c2", Severity: models.SeverityWarning},
		},
	}}

	escalated := map[string][]models.Alert{}
	var escalations []Escalation
	p := NewPoller(src, time.Minute, logging.NewNop(),
		WithShared(store, &toggleLease{script: []bool{true, false, true}}),
		OnEscalation(func(e Escalation, list []models.Alert) {
			escalations = append(escalations, e)
			escalated[e.CycleID] = list
		}),
	)
	ctx := context.Background()

	// leader
	p.Poll(ctx)
	require.Len(t, p.Open("c1"), 1)
	assert.Equal(t, "a1", p.Open("c1")[0].ID)

	// follower: another replica published a newer map
	require.NoError(t, store.Set(ctx, cache.AlertMap, mapKey,
		map[string]models.Severity{"c1": models.SeverityCritical}, time.Minute))
	p.Poll(ctx)
	assert.Equal(t, map[string]models.Severity{"c1": models.SeverityCritical}, p.Map())
	assert.Empty(t, p.Open("c1"))

	// leader again: c1 was already critical, only c2 escalates
	p.Poll(ctx)
	require.Len(t, escalations, 2)
	assert.Equal(t, Escalation{CycleID: "c2", Current: models.SeverityWarning}, escalations[1])
	require.Len(t, escalated["c2"], 1)
	assert.Equal(t, "a3", escalated["c2"][0].ID)
	require.Len(t, p.Open("c1"), 1)
	assert.Equal(t, "a2", p.Open("c1")[0].ID)
	assert.Equal(t, 2, src.Calls())
}
