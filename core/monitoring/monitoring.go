// Package monitoring forwards unexpected errors to an error tracker. The
// scheduler reports solver internal errors here, tagged with the pass and the
// cycle they happened in.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// RecoverPanic reports a recovered panic value.
	RecoverPanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) RecoverPanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. A nil monitor is ignored.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CapturePass records an error that failed a scheduling pass.
func CapturePass(err error, cycleID, pass string) {
	CaptureException(err, map[string]string{"module": "scheduler", "cycle": cycleID, "pass": pass})
}

// Recover reports a panic to the monitor and panics again. It only works
// when deferred directly: defer monitoring.Recover().
func Recover() {
	if v := recover(); v != nil {
		get().RecoverPanic(v)
		panic(v)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
