package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `scheduler:
  slice_size_seconds: 600
  resources:
    - name: 1m0a.doma.lsc
      alignment: 30
      length: 300
  time_limit_seconds: 2.5
  gap_tolerance: 0.01
  solver:
    type: branch_and_bound
    conf:
      max_nodes: 5000
  horizon_seconds: 86400
snapshot:
  path: "snap.yaml"
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "sched"
  ack_topic: "obsched/acks"
metrics:
  sinks:
    - type: "nop"
logging:
  backend: sqlite
  path: "cycles.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	k := cfg.Scheduler.Kernel()
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"slice_size", cfg.Scheduler.SliceSizeSeconds, int64(600)},
		{"resource length", k.Slicing.For("1m0a.doma.lsc").Length, int64(300)},
		{"resource alignment", k.Slicing.For("1m0a.doma.lsc").Alignment, int64(30)},
		{"default grid", k.Slicing.For("2m0a.clma.ogg").Length, int64(600)},
		{"time limit", k.TimeLimit, 2500 * time.Millisecond},
		{"gap", k.Gap, 0.01},
		{"solver", cfg.Scheduler.Solver.Type, "branch_and_bound"},
		{"horizon", cfg.Scheduler.HorizonSeconds, int64(86400)},
		{"cycle interval default", cfg.Scheduler.CycleInterval(), time.Minute},
		{"cycle timeout default", cfg.Scheduler.CycleTimeout(), 30 * time.Second},
		{"snapshot", cfg.Snapshot.Path, "snap.yaml"},
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"topic prefix default", cfg.MQTT.TopicPrefix, "obsched"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"backend", cfg.Logging.Backend, "sqlite"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.json", `{"scheduler":{"slice_size_seconds":300}}`)
	t.Setenv("K_SCHEDULER__GAP_TOLERANCE", "0.2")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.GapTolerance != 0.2 {
		t.Fatalf("env override not applied: %v", cfg.Scheduler.GapTolerance)
	}
	if cfg.Logging.Backend != "jsonl" || cfg.Logging.Path != "schedule.log" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
	if got := cfg.Scheduler.Kernel().TimeLimit; got != 5*time.Second {
		t.Fatalf("default solver time limit %v, want 5s", got)
	}
}

func TestDefaultTimeLimitFollowsCycleTimeout(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.json", `{"scheduler":{"cycle_timeout_seconds":12}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Scheduler.Kernel().TimeLimit; got != 2*time.Second {
		t.Fatalf("time limit %v, want 2s", got)
	}
	if cfg.Scheduler.Kernel().TimeLimit >= cfg.Scheduler.CycleTimeout() {
		t.Fatalf("solver time limit not below the cycle timeout")
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown solver":  `{"scheduler":{"solver":{"type":"simulated_annealing"}}}`,
		"gap":             `{"scheduler":{"gap_tolerance":1.5}}`,
		"time limit":      `{"scheduler":{"time_limit_seconds":30,"cycle_timeout_seconds":30}}`,
		"negative limit":  `{"scheduler":{"time_limit_seconds":-1}}`,
		"resource length": `{"scheduler":{"resources":[{"name":"tel","alignment":0,"length":0}]}}`,
		"backend":         `{"logging":{"backend":"csv"}}`,
		"source":          `{"snapshot":{"source":"ftp"}}`,
		"portal url":      `{"snapshot":{"source":"portal"}}`,
		"portal auth":     `{"snapshot":{"url":"http://portal","auth":{"auth_url":"http://portal/token"}}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, "c.json", data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(writeConfig(t, "c.toml", "")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestLoadPortalSnapshot(t *testing.T) {
	path := writeConfig(t, "c.yaml", `snapshot:
  url: "https://portal.example/api/snapshot"
  auth:
    client_id: sched
    client_secret: secret
    auth_url: "https://portal.example/oauth/token"
api:
  addr: ":8080"
  token: tok
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Snapshot.Source != "portal" {
		t.Fatalf("expected portal source, got %q", cfg.Snapshot.Source)
	}
	if cfg.Snapshot.Timeout() != 10*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Snapshot.Timeout())
	}
	if !cfg.Snapshot.Auth.Enabled() || cfg.API.Token != "tok" {
		t.Fatalf("auth or api section not decoded: %+v %+v", cfg.Snapshot.Auth, cfg.API)
	}
}
