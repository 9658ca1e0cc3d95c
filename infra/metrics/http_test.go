package metrics

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/obsched/core/metrics"
	"github.com/kilianp07/obsched/test/util"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartPromServerExposesPassMetrics(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	_ = sink.RecordPass(coremetrics.PassMetrics{Pass: "normal", Status: "optimal", Scheduled: 4})

	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartPromServer(ctx, fmt.Sprintf("127.0.0.1:%d", port)) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), util.MetricTimeout)
	defer waitCancel()
	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	if err := util.WaitForMetric(waitCtx, url, `scheduler_reservations_scheduled{pass="normal"} 4`); err != nil {
		t.Fatalf("metric not exposed: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
