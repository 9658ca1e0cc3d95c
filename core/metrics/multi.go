package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPass forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordPass(p PassMetrics) error {
	for _, s := range m.Sinks {
		if err := s.RecordPass(p); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle forwards cycle metrics when supported by the sink.
func (m *MultiSink) RecordCycle(c CycleMetrics) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CycleRecorder); ok {
			if err := rec.RecordCycle(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordNotify forwards notification events when supported by the sink.
func (m *MultiSink) RecordNotify(ev NotifyEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(NotifyRecorder); ok {
			if err := rec.RecordNotify(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
