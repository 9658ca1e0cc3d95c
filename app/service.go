package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	schedapi "github.com/kilianp07/obsched/api/schedule"
	"github.com/kilianp07/obsched/config"
	sources "github.com/kilianp07/obsched/connectors/factory"
	"github.com/kilianp07/obsched/core/events"
	coremetrics "github.com/kilianp07/obsched/core/metrics"
	coremon "github.com/kilianp07/obsched/core/monitoring"
	"github.com/kilianp07/obsched/core/notify"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/request"
	"github.com/kilianp07/obsched/core/reservation"
	"github.com/kilianp07/obsched/core/snapshot"
	"github.com/kilianp07/obsched/core/solver"
	"github.com/kilianp07/obsched/core/store"
	"github.com/kilianp07/obsched/infra/logger"
	"github.com/kilianp07/obsched/infra/metrics"
	"github.com/kilianp07/obsched/infra/mqtt"
	"github.com/kilianp07/obsched/internal/eventbus"
	"github.com/kilianp07/obsched/pkg/export"
)

// Service runs scheduling cycles: it fetches a snapshot, runs the urgent and
// normal passes, persists and reports the outcome, and notifies downstream.
type Service struct {
	cfg      *config.Config
	source   snapshot.Source
	solver   solver.Solver
	store    store.Store
	notifier notify.Notifier
	sink     coremetrics.MetricsSink
	bus      *eventbus.Bus
	log      logger.Logger
	seq      *request.Sequence

	// previous placements by request id, used as warm start hints when a
	// snapshot carries none.
	previous map[string]reservation.Placement
	closers  []func() error

	mu     sync.RWMutex
	latest *Cycle
}

// Option overrides a collaborator New would otherwise build from the
// configuration.
type Option func(*Service)

// WithSource sets the snapshot source.
func WithSource(src snapshot.Source) Option { return func(s *Service) { s.source = src } }

// WithStore sets the schedule log store.
func WithStore(st store.Store) Option { return func(s *Service) { s.store = st } }

// WithNotifier sets the downstream notifier.
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithSink sets the metrics sink.
func WithSink(m coremetrics.MetricsSink) Option { return func(s *Service) { s.sink = m } }

// WithSolver sets the solver backend.
func WithSolver(sv solver.Solver) Option { return func(s *Service) { s.solver = sv } }

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	svc := &Service{cfg: cfg, bus: eventbus.New(), seq: &request.Sequence{}}
	for _, o := range opts {
		o(svc)
	}
	if svc.log == nil {
		svc.log = logger.New("service")
	}
	if svc.source == nil {
		src, err := sources.NewSource(cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		svc.source = src
	}
	if svc.solver == nil {
		sv, err := solver.New(cfg.Scheduler.Solver)
		if err != nil {
			return nil, fmt.Errorf("solver: %w", err)
		}
		svc.solver = sv
	}
	if svc.store == nil {
		st, err := cfg.Logging.Open()
		if err != nil {
			return nil, fmt.Errorf("schedule store: %w", err)
		}
		svc.store = st
		svc.closers = append(svc.closers, st.Close)
	}
	if svc.sink == nil {
		sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
		svc.sink = sink
	}
	if svc.notifier == nil {
		if cfg.MQTT.Broker == "" {
			svc.notifier = notify.NopNotifier{}
		} else {
			n, err := mqtt.NewNotifier(cfg.MQTT)
			if err != nil {
				_ = svc.Close()
				return nil, fmt.Errorf("mqtt notifier: %w", err)
			}
			svc.notifier = n
			svc.closers = append(svc.closers, func() error { n.Disconnect(); return nil })
		}
	}
	svc.notifier = &observedNotifier{next: svc.notifier, bus: svc.bus}
	return svc, nil
}

// Bus returns the bus cycle events are published on.
func (s *Service) Bus() eventbus.EventBus { return s.bus }

// Cycle is the outcome of one cycle.
type Cycle struct {
	ID         string
	Snapshot   *snapshot.Snapshot
	Translator *request.Translator
	Result     preemption.CycleResult
	// Err is the pass failure, if any. Notification failures are only logged.
	Err      error
	Duration time.Duration
}

// RunOnce runs a single cycle within the configured cycle timeout.
func (s *Service) RunOnce(ctx context.Context) (Cycle, error) {
	c := Cycle{ID: uuid.NewString()}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.CycleTimeout())
	defer cancel()
	log := s.log.With(map[string]any{"cycle": c.ID})

	snap, err := s.source.Fetch(ctx)
	if err != nil {
		return c, fmt.Errorf("fetch snapshot: %w", err)
	}
	c.Snapshot = snap
	if h := s.cfg.Scheduler.HorizonSeconds; h > 0 && (snap.Horizon == 0 || snap.Horizon > h) {
		snap.Horizon = h
	}
	if len(snap.PreviousSchedule) == 0 {
		snap.PreviousSchedule = s.previous
	}

	c.Translator = request.NewTranslator(s.seq)
	in, err := snap.Input(c.Translator)
	if err != nil {
		log.Warnf("skipping invalid request groups: %v", err)
	}
	kcfg := s.cfg.Scheduler.Kernel()
	kcfg.Slicing = snap.SliceConfig(kcfg.Slicing)

	c.Result, c.Err = preemption.NewCoordinator(s.solver, kcfg, log).RunCycle(ctx, in)
	c.Duration = time.Since(start)
	s.report(ctx, log, c)
	if c.Err == nil {
		s.remember(c)
	}
	var pe *preemption.PassError
	if c.Err == nil || (errors.As(c.Err, &pe) && pe.Pass == preemption.PassNormal) {
		s.mu.Lock()
		s.latest = &c
		s.mu.Unlock()
	}

	if rec, ok := s.sink.(coremetrics.CycleRecorder); ok {
		if err := rec.RecordCycle(coremetrics.CycleMetrics{CycleID: c.ID, Duration: c.Duration, Failed: c.Err != nil, Time: time.Now()}); err != nil {
			log.Warnf("record cycle metrics: %v", err)
		}
	}
	return c, c.Err
}

// report persists, measures, publishes and notifies every pass that ran.
func (s *Service) report(ctx context.Context, log logger.Logger, c Cycle) {
	var failed *preemption.PassError
	if c.Err != nil && !errors.As(c.Err, &failed) {
		failed = &preemption.PassError{Pass: preemption.PassUrgent, Err: c.Err}
	}
	passes := []preemption.PassResult{c.Result.Urgent, c.Result.Normal}
	for i := range passes {
		passes[i].Pass = preemption.Pass(i)
	}

	now := time.Now()
	// the record of a pass that ran out of time is still persisted
	storeCtx := context.WithoutCancel(ctx)
	for _, pr := range passes {
		var passErr error
		if failed != nil && pr.Pass >= failed.Pass {
			if pr.Pass > failed.Pass {
				break
			}
			passErr = failed.Err
		}
		if err := s.store.Append(storeCtx, store.FromPass(c.ID, now, pr, passErr)); err != nil {
			log.Errorf("store %s pass: %v", pr.Pass, err)
		}
		if passErr != nil {
			log.Errorf("%s pass failed: %v", pr.Pass, passErr)
			coremon.CapturePass(passErr, c.ID, pr.Pass.String())
			s.bus.Publish(events.SolverEvent{CycleID: c.ID, Pass: pr.Pass, Err: passErr})
			break
		}
		if err := s.sink.RecordPass(coremetrics.FromPass(c.ID, pr, now)); err != nil {
			log.Warnf("record %s pass metrics: %v", pr.Pass, err)
		}
		s.bus.Publish(events.PassEvent{CycleID: c.ID, Result: pr, Time: now})
		if pr.Status != solver.StatusOptimal {
			s.bus.Publish(events.SolverEvent{CycleID: c.ID, Pass: pr.Pass, Status: pr.Status})
		}
		for _, a := range pr.Aborts {
			s.bus.Publish(events.AbortEvent{CycleID: c.ID, Abort: a})
		}
		if err := notify.Publish(ctx, s.notifier, pr); err != nil {
			log.Errorf("notify %s pass: %v", pr.Pass, err)
			coremon.CaptureException(err, map[string]string{"module": "notify", "cycle": c.ID, "pass": pr.Pass.String()})
		}
	}
}

// remember keeps the placements of c as hints for the next cycle.
func (s *Service) remember(c Cycle) {
	prev := make(map[string]reservation.Placement)
	for _, pr := range []preemption.PassResult{c.Result.Urgent, c.Result.Normal} {
		for res, rs := range pr.Schedule {
			for _, r := range rs {
				if ref, ok := c.Translator.Lookup(r.ID); ok {
					prev[ref.Request] = reservation.Placement{Resource: res, Start: r.ScheduledStart}
				}
			}
		}
	}
	s.previous = prev
}

// Latest returns the schedule of the most recent cycle whose urgent pass
// succeeded.
func (s *Service) Latest() (string, []export.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return "", nil, false
	}
	return s.latest.ID, export.Rows(s.latest.Result), true
}

// Run starts the service and blocks until the context is cancelled. A cycle
// runs immediately and then every cycle interval; a failed cycle is logged and
// the loop continues.
func (s *Service) Run(ctx context.Context) error {
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			defer coremon.Recover()
			if err := metrics.StartPromServer(ctx, port); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if addr := s.cfg.API.Addr; addr != "" {
		go func() {
			defer coremon.Recover()
			if err := schedapi.Serve(ctx, addr, schedapi.NewMux(s, s.store, s.cfg.API.Token)); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}
	metrics.StartEventCollector(ctx, s.bus, s.sink)
	s.logEvents(ctx)

	ticker := time.NewTicker(s.cfg.Scheduler.CycleInterval())
	defer ticker.Stop()
	for {
		if c, err := s.RunOnce(ctx); err != nil {
			s.log.Errorf("cycle %s failed: %v", c.ID, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) logEvents(ctx context.Context) {
	sub := s.bus.SubscribeN(64)
	go func() {
		defer coremon.Recover()
		defer s.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.PassEvent:
					s.log.Infof("cycle %s %s pass: %d scheduled, %d dropped, %d aborted (%s)",
						e.CycleID, e.Result.Pass, e.Result.Scheduled(), len(e.Result.Dropped), len(e.Result.Aborts), e.Result.Status)
				case events.AbortEvent:
					s.log.Warnf("cycle %s aborted %s on %s: %s", e.CycleID, e.Abort.Running.ID, e.Abort.Running.Resource, e.Abort.Reason)
				case events.SolverEvent:
					if e.Err != nil {
						s.log.Errorf("cycle %s %s pass solver failure: %v", e.CycleID, e.Pass, e.Err)
					} else {
						s.log.Warnf("cycle %s %s pass ended %s", e.CycleID, e.Pass, e.Status)
					}
				}
			}
		}
	}()
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}

// observedNotifier publishes a NotifyEvent for every command.
type observedNotifier struct {
	next notify.Notifier
	bus  *eventbus.Bus
}

func (o *observedNotifier) Cancel(ctx context.Context, w notify.CancellationWindow) error {
	start := time.Now()
	err := o.next.Cancel(ctx, w)
	o.bus.Publish(events.NotifyEvent{Kind: "cancel", Resource: w.Resource, Acknowledged: err == nil, Err: err, Latency: time.Since(start)})
	return err
}

func (o *observedNotifier) Abort(ctx context.Context, a preemption.Abort) error {
	start := time.Now()
	err := o.next.Abort(ctx, a)
	o.bus.Publish(events.NotifyEvent{Kind: "abort", Resource: a.Running.Resource, Acknowledged: err == nil, Err: err, Latency: time.Since(start)})
	return err
}
