// Package metrics defines the sinks scheduling passes are reported to. Sinks
// like PromSink and InfluxSink live in infra/metrics and register themselves
// with the factory; NewMetricsSink returns a MultiSink automatically when
// several sinks are configured. Optional recorder interfaces let a sink
// receive cycle and notification events as well.
package metrics
