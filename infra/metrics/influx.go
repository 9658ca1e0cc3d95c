package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/obsched/core/metrics"
	"github.com/kilianp07/obsched/infra/logger"
)

// InfluxSink writes pass and cycle records to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordPass writes one scheduler_pass point.
func (s *InfluxSink) RecordPass(m coremetrics.PassMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("scheduler_pass").
		AddTag("pass", m.Pass).
		AddTag("status", m.Status).
		AddTag("cycle_id", m.CycleID).
		AddField("resources", m.Resources).
		AddField("reservations", m.Reservations).
		AddField("candidates", m.Candidates).
		AddField("rows", m.Rows).
		AddField("scheduled", m.Scheduled).
		AddField("dropped", m.Dropped).
		AddField("aborts", m.Aborts).
		AddField("solves", m.Solves).
		AddField("objective", round3(m.Objective)).
		AddField("solve_ms", round3(m.SolveTime.Seconds()*1000)).
		SetTime(m.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCycle writes one scheduler_cycle point.
func (s *InfluxSink) RecordCycle(m coremetrics.CycleMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("scheduler_cycle").
		AddTag("cycle_id", m.CycleID).
		AddTag("failed", strconv.FormatBool(m.Failed)).
		AddField("duration_ms", round3(m.Duration.Seconds()*1000)).
		SetTime(m.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordNotify writes one downstream command outcome.
func (s *InfluxSink) RecordNotify(ev coremetrics.NotifyEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("scheduler_notify").
		AddTag("kind", ev.Kind).
		AddTag("resource", ev.Resource).
		AddTag("acknowledged", strconv.FormatBool(ev.Error == "")).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		AddField("errors", ev.Error).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
