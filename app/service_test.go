package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/obsched/config"
	"github.com/kilianp07/obsched/core/events"
	coremetrics "github.com/kilianp07/obsched/core/metrics"
	coremon "github.com/kilianp07/obsched/core/monitoring"
	"github.com/kilianp07/obsched/core/notify"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/snapshot"
	"github.com/kilianp07/obsched/core/solver"
	"github.com/kilianp07/obsched/core/store"
)

const preemptSnapshot = `{
  "now": 900,
  "resources": [{"name": "1m0a.doma.lsc", "windows": [[0, 10000]]}],
  "groups": [{
    "id": "grb", "operator": "single", "priority": 50, "rapid_response": true,
    "requests": [{"id": "grb-1", "duration": 600, "windows": {"1m0a.doma.lsc": [[900, 1500]]}}]
  }],
  "running": [{
    "id": "survey", "rapid_response": false,
    "requests": [{"id": "survey-run", "resource": "1m0a.doma.lsc", "start": 500, "end": 2000}]
  }]
}`

type stringSource string

func (s stringSource) Fetch(context.Context) (*snapshot.Snapshot, error) {
	return snapshot.Decode(strings.NewReader(string(s)), "json")
}

type recordingSink struct {
	mu     sync.Mutex
	passes []coremetrics.PassMetrics
	cycles []coremetrics.CycleMetrics
}

func (r *recordingSink) RecordPass(p coremetrics.PassMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, p)
	return nil
}

func (r *recordingSink) RecordCycle(c coremetrics.CycleMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, c)
	return nil
}

type recordingMonitor struct {
	mu   sync.Mutex
	tags []map[string]string
}

func (m *recordingMonitor) CaptureException(_ error, tags map[string]string) {
	m.mu.Lock()
	m.tags = append(m.tags, tags)
	m.mu.Unlock()
}
func (m *recordingMonitor) RecoverPanic(any)     {}
func (m *recordingMonitor) Flush(time.Duration) {}

type failingSolver struct{}

func (failingSolver) Name() string { return "failing" }
func (failingSolver) Solve(context.Context, solver.Model, solver.Options) (solver.Result, error) {
	return solver.Result{}, errors.New("solver crashed")
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func newTestService(t *testing.T, src snapshot.Source, opts ...Option) (*Service, *store.JSONLStore, *notify.MockNotifier, *recordingSink) {
	t.Helper()
	st, err := store.NewJSONLStore(filepath.Join(t.TempDir(), "schedule.log"))
	require.NoError(t, err)
	n := &notify.MockNotifier{}
	sink := &recordingSink{}
	all := append([]Option{WithSource(src), WithStore(st), WithNotifier(n), WithSink(sink)}, opts...)
	svc, err := New(testConfig(), all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, st, n, sink
}

func TestRunOnceSchedulesBothPasses(t *testing.T) {
	src := snapshot.FileSource{Path: filepath.Join("..", "core", "snapshot", "testdata", "cycle.yaml")}
	svc, st, n, sink := newTestService(t, src)

	c, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 1, c.Result.Urgent.Scheduled())
	assert.Positive(t, c.Result.Normal.Scheduled())

	recs, err := st.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, preemption.PassUrgent, recs[0].Pass)
	assert.Equal(t, preemption.PassNormal, recs[1].Pass)
	for _, r := range recs {
		assert.Equal(t, c.ID, r.CycleID)
		assert.Empty(t, r.Error)
	}

	cancels, aborts := n.Calls()
	assert.Empty(t, aborts)
	resources := map[string]bool{}
	for _, w := range cancels {
		resources[w.Resource] = true
	}
	assert.True(t, resources["1m0a.doma.lsc"], "urgent placement cancels its window")

	require.Len(t, sink.passes, 2)
	require.Len(t, sink.cycles, 1)
	assert.False(t, sink.cycles[0].Failed)

	id, rows, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, c.ID, id)
	assert.Len(t, rows, c.Result.Urgent.Scheduled()+c.Result.Normal.Scheduled())
}

func TestRunOnceAbortsRunningWork(t *testing.T) {
	svc, st, n, _ := newTestService(t, stringSource(preemptSnapshot))
	sub := svc.Bus().Subscribe()

	c, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Result.Urgent.Aborts, 1)
	assert.Equal(t, "survey-run", c.Result.Urgent.Aborts[0].Running.ID)

	_, aborts := n.Calls()
	require.Len(t, aborts, 1)
	assert.Equal(t, "survey", aborts[0].Group)

	recs, err := st.Query(context.Background(), store.Query{Pass: "urgent"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Aborts, 1)

	sawAbort := false
	for !sawAbort {
		select {
		case ev := <-sub:
			_, sawAbort = ev.(events.AbortEvent)
		case <-time.After(time.Second):
			t.Fatalf("no abort event published")
		}
	}
}

func TestRunOnceSolverFailure(t *testing.T) {
	mon := &recordingMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	src := snapshot.FileSource{Path: filepath.Join("..", "core", "snapshot", "testdata", "cycle.yaml")}
	svc, st, n, sink := newTestService(t, src, WithSolver(failingSolver{}))

	_, err := svc.RunOnce(context.Background())
	var pe *preemption.PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, preemption.PassUrgent, pe.Pass)

	recs, err := st.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1, "the normal pass never ran")
	assert.Contains(t, recs[0].Error, "solver crashed")

	cancels, aborts := n.Calls()
	assert.Empty(t, cancels)
	assert.Empty(t, aborts)
	assert.Empty(t, sink.passes)
	require.Len(t, sink.cycles, 1)
	assert.True(t, sink.cycles[0].Failed)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.Len(t, mon.tags, 1)
	assert.Equal(t, "urgent", mon.tags[0]["pass"])
	assert.Equal(t, "scheduler", mon.tags[0]["module"])

	_, _, ok := svc.Latest()
	assert.False(t, ok, "a failed urgent pass publishes no schedule")
}

func TestRunOnceRemembersPlacements(t *testing.T) {
	svc, _, _, _ := newTestService(t, stringSource(preemptSnapshot))

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	p, ok := svc.previous["grb-1"]
	if !ok {
		t.Fatalf("placement of grb-1 not remembered: %v", svc.previous)
	}
	assert.Equal(t, "1m0a.doma.lsc", p.Resource)
	assert.Equal(t, int64(900), p.Start)
}

func TestNotifyFailureDoesNotFailCycle(t *testing.T) {
	src := snapshot.FileSource{Path: filepath.Join("..", "core", "snapshot", "testdata", "cycle.yaml")}
	svc, st, n, _ := newTestService(t, src)
	n.Err = notify.ErrAckTimeout

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	recs, err := st.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestNewRequiresSnapshotPath(t *testing.T) {
	_, err := New(testConfig(), WithStore(&store.JSONLStore{}))
	if err == nil {
		t.Fatalf("expected error without snapshot path")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _, _, sink := newTestService(t, stringSource(preemptSnapshot))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.cycles)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no cycle ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
}
