package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/obsched/core/metrics"
)

// PromSink records scheduling passes in Prometheus metrics.
type PromSink struct {
	passes    *prometheus.CounterVec
	scheduled *prometheus.GaugeVec
	dropped   *prometheus.GaugeVec
	aborts    *prometheus.CounterVec
	solve     *prometheus.HistogramVec
	cycles    *prometheus.HistogramVec
	notify    *prometheus.CounterVec
}

// NewPromSink registers scheduler metrics on the default Prometheus registerer.
// The Prometheus server should be started separately with StartPromServer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_passes_total",
			Help: "Total number of scheduling passes by solver status",
		}, []string{"pass", "status"}),
		scheduled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_reservations_scheduled",
			Help: "Reservations committed by the last pass",
		}, []string{"pass"}),
		dropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_reservations_dropped",
			Help: "Reservations left unscheduled by the last pass",
		}, []string{"pass"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_aborts_total",
			Help: "Running requests aborted to make room for urgent reservations",
		}, []string{"pass"}),
		solve: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_solve_seconds",
			Help:    "Solver time per pass",
			Buckets: prometheus.DefBuckets,
		}, []string{"pass"}),
		cycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_cycle_seconds",
			Help:    "Wall-clock time of a full scheduling cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"failed"}),
		notify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_notifications_total",
			Help: "Downstream commands sent by kind and outcome",
		}, []string{"kind", "result"}),
	}
	var err error
	if s.passes, err = register(reg, s.passes); err != nil {
		return nil, err
	}
	if s.scheduled, err = register(reg, s.scheduled); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, s.dropped); err != nil {
		return nil, err
	}
	if s.aborts, err = register(reg, s.aborts); err != nil {
		return nil, err
	}
	if s.solve, err = register(reg, s.solve); err != nil {
		return nil, err
	}
	if s.cycles, err = register(reg, s.cycles); err != nil {
		return nil, err
	}
	if s.notify, err = register(reg, s.notify); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when c was registered
// before, so several sinks can share one registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPass updates the pass counters and gauges.
func (s *PromSink) RecordPass(m coremetrics.PassMetrics) error {
	s.passes.WithLabelValues(m.Pass, m.Status).Inc()
	s.scheduled.WithLabelValues(m.Pass).Set(float64(m.Scheduled))
	s.dropped.WithLabelValues(m.Pass).Set(float64(m.Dropped))
	s.aborts.WithLabelValues(m.Pass).Add(float64(m.Aborts))
	s.solve.WithLabelValues(m.Pass).Observe(m.SolveTime.Seconds())
	return nil
}

// RecordCycle observes the cycle duration.
func (s *PromSink) RecordCycle(m coremetrics.CycleMetrics) error {
	failed := "false"
	if m.Failed {
		failed = "true"
	}
	s.cycles.WithLabelValues(failed).Observe(m.Duration.Seconds())
	return nil
}

// RecordNotify counts downstream commands.
func (s *PromSink) RecordNotify(ev coremetrics.NotifyEvent) error {
	result := "ok"
	if ev.Error != "" {
		result = "error"
	}
	s.notify.WithLabelValues(ev.Kind, result).Inc()
	return nil
}
