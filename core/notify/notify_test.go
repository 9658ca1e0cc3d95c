package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/preemption"
)

func TestWindowsSortedAndSkipsEmpty(t *testing.T) {
	got := Windows(map[string]*interval.Set{
		"b": interval.MustSet(interval.Range{Start: 0, End: 10}),
		"a": interval.MustSet(interval.Range{Start: 5, End: 7}),
		"c": interval.Empty(),
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(got))
	}
	if got[0].Resource != "a" || got[1].Resource != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestPublishAbortsBeforeCancels(t *testing.T) {
	m := &MockNotifier{}
	r := preemption.PassResult{
		Consumed: map[string]*interval.Set{"a": interval.MustSet(interval.Range{Start: 0, End: 10})},
		Aborts:   []preemption.Abort{{Group: "g", Running: preemption.RunningRequest{ID: "run-1", Resource: "a"}}},
	}
	if err := Publish(context.Background(), m, r); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cancels, aborts := m.Calls()
	if len(aborts) != 1 || aborts[0].Running.ID != "run-1" {
		t.Fatalf("abort not sent: %+v", aborts)
	}
	if len(cancels) != 1 || cancels[0].Resource != "a" {
		t.Fatalf("cancel not sent: %+v", cancels)
	}
}

func TestPublishStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	m := &MockNotifier{Err: boom}
	r := preemption.PassResult{
		Consumed: map[string]*interval.Set{"a": interval.MustSet(interval.Range{Start: 0, End: 10})},
		Aborts:   []preemption.Abort{{Group: "g"}, {Group: "h"}},
	}
	if err := Publish(context.Background(), m, r); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	cancels, aborts := m.Calls()
	if len(aborts) != 1 || len(cancels) != 0 {
		t.Fatalf("expected to stop after first call, got %d aborts %d cancels", len(aborts), len(cancels))
	}
}
