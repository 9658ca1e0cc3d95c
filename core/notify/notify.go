// Package notify declares how committed schedules reach the systems that
// execute them: cancellation of the time a pass consumed and aborts of
// preempted running work.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kilianp07/obsched/core/interval"
	"github.com/kilianp07/obsched/core/preemption"
)

// ErrAckTimeout is returned when no acknowledgment is received before the timeout.
var ErrAckTimeout = errors.New("timeout waiting for ack")

// CancellationWindow is the time on a resource that downstream must clear
// for the committed schedule.
type CancellationWindow struct {
	Resource string        `json:"resource"`
	Windows  *interval.Set `json:"windows"`
}

// Notifier sends cancellations and aborts downstream.
type Notifier interface {
	Cancel(ctx context.Context, w CancellationWindow) error
	Abort(ctx context.Context, a preemption.Abort) error
}

// Windows turns a pass's consumed time into cancellation windows ordered by
// resource.
func Windows(consumed map[string]*interval.Set) []CancellationWindow {
	out := make([]CancellationWindow, 0, len(consumed))
	for res, w := range consumed {
		if w.IsEmpty() {
			continue
		}
		out = append(out, CancellationWindow{Resource: res, Windows: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Publish sends the aborts of r first, then its cancellations. It stops at
// the first error.
func Publish(ctx context.Context, n Notifier, r preemption.PassResult) error {
	for _, a := range r.Aborts {
		if err := n.Abort(ctx, a); err != nil {
			return err
		}
	}
	for _, w := range Windows(r.Consumed) {
		if err := n.Cancel(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// NopNotifier drops everything.
type NopNotifier struct{}

func (NopNotifier) Cancel(context.Context, CancellationWindow) error { return nil }
func (NopNotifier) Abort(context.Context, preemption.Abort) error    { return nil }

// MockNotifier records every call. Err, when set, is returned by each call.
type MockNotifier struct {
	mu      sync.Mutex
	Cancels []CancellationWindow
	Aborts  []preemption.Abort
	Err     error
}

func (m *MockNotifier) Cancel(_ context.Context, w CancellationWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancels = append(m.Cancels, w)
	return m.Err
}

func (m *MockNotifier) Abort(_ context.Context, a preemption.Abort) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Aborts = append(m.Aborts, a)
	return m.Err
}

// Calls returns a copy of the recorded cancellations and aborts.
func (m *MockNotifier) Calls() ([]CancellationWindow, []preemption.Abort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CancellationWindow(nil), m.Cancels...), append([]preemption.Abort(nil), m.Aborts...)
}
