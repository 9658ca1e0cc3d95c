package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/obsched/core/events"
	coremetrics "github.com/kilianp07/obsched/core/metrics"
	"github.com/kilianp07/obsched/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for
// notification events. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.NotifyRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if e, ok := ev.(events.NotifyEvent); ok {
					errStr := ""
					if e.Err != nil {
						errStr = e.Err.Error()
					}
					_ = rec.RecordNotify(coremetrics.NotifyEvent{
						Kind:     e.Kind,
						Resource: e.Resource,
						Latency:  e.Latency,
						Error:    errStr,
						Time:     time.Now(),
					})
				}
			}
		}
	}()
}
