package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/obsched/core/metrics"
)

func TestPromSink_RecordPass(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	sink, ok := sinkIf.(*PromSink)
	if !ok {
		t.Fatalf("expected PromSink")
	}
	m := coremetrics.PassMetrics{Pass: "urgent", Status: "optimal", Scheduled: 3, Dropped: 1, Aborts: 2, SolveTime: 20 * time.Millisecond}
	if err := sink.RecordPass(m); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP scheduler_passes_total Total number of scheduling passes by solver status
# TYPE scheduler_passes_total counter
scheduler_passes_total{pass="urgent",status="optimal"} 1
`
	if err := testutil.CollectAndCompare(sink.passes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.scheduled.WithLabelValues("urgent")); v != 3 {
		t.Errorf("scheduled gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.aborts.WithLabelValues("urgent")); v != 2 {
		t.Errorf("aborts counter = %v", v)
	}
	if c := testutil.CollectAndCount(sink.solve); c == 0 {
		t.Errorf("solve time not recorded")
	}
}

func TestPromSink_CycleAndNotify(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	sink := sinkIf.(*PromSink)
	_ = sink.RecordCycle(coremetrics.CycleMetrics{Duration: time.Second, Failed: true})
	_ = sink.RecordNotify(coremetrics.NotifyEvent{Kind: "abort"})
	_ = sink.RecordNotify(coremetrics.NotifyEvent{Kind: "abort", Error: "timeout"})
	if v := testutil.ToFloat64(sink.notify.WithLabelValues("abort", "error")); v != 1 {
		t.Errorf("notify errors = %v", v)
	}
	if v := testutil.ToFloat64(sink.notify.WithLabelValues("abort", "ok")); v != 1 {
		t.Errorf("notify ok = %v", v)
	}
	if c := testutil.CollectAndCount(sink.cycles); c != 1 {
		t.Errorf("cycle series = %d", c)
	}
}

func TestPromSink_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = a.RecordPass(coremetrics.PassMetrics{Pass: "normal", Status: "feasible"})
	_ = b.RecordPass(coremetrics.PassMetrics{Pass: "normal", Status: "feasible"})
	if v := testutil.ToFloat64(a.(*PromSink).passes.WithLabelValues("normal", "feasible")); v != 2 {
		t.Errorf("shared counter = %v", v)
	}
}
