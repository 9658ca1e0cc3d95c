// Package util holds helpers shared by the integration tests: a disposable
// Mosquitto broker, a stand-in for the executing system that acknowledges
// scheduler commands, and a poller for Prometheus endpoints.
package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	MosquittoReadyTimeout = 5 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
`

// WaitForMetric polls metricsURL until its body contains substr.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		body, err := get(ctx, metricsURL)
		if err == nil && strings.Contains(body, substr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("metric %q not found: %w", substr, ctx.Err())
		case <-ticker.C:
		}
	}
}

func get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read metrics body: %w", err)
	}
	return string(body), nil
}

// StartMosquitto runs a Mosquitto broker in a container for the duration of
// t and returns its URL. The test is skipped in -short mode or when no
// container runtime is available.
func StartMosquitto(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("broker integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("broker host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("broker port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	waitCtx, waitCancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer waitCancel()
	if err := waitForMQTTReady(waitCtx, broker); err != nil {
		t.Fatalf("broker not ready: %v", err)
	}
	return broker
}

func waitForMQTTReady(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Command is a scheduler command received by an Executor.
type Command struct {
	Topic   string
	ID      string
	Payload []byte
}

// Executor plays the executing system: it receives every command published
// under a topic prefix and acknowledges it on the ack topic.
type Executor struct {
	cli      paho.Client
	mu       sync.Mutex
	commands []Command
	received chan Command
}

// NewExecutor connects to broker and acknowledges commands published under
// prefix. It disconnects when t ends.
func NewExecutor(t testing.TB, broker, prefix, ackTopic string) *Executor {
	t.Helper()
	e := &Executor{received: make(chan Command, 16)}
	e.cli = paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("executor"))
	if tok := e.cli.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatalf("executor connect: %v", tok.Error())
	}
	t.Cleanup(func() { e.cli.Disconnect(100) })

	tok := e.cli.Subscribe(prefix+"/#", 1, func(c paho.Client, m paho.Message) {
		var cmd struct {
			CommandID string `json:"command_id"`
		}
		if err := json.Unmarshal(m.Payload(), &cmd); err != nil {
			return
		}
		got := Command{Topic: m.Topic(), ID: cmd.CommandID, Payload: m.Payload()}
		e.mu.Lock()
		e.commands = append(e.commands, got)
		e.mu.Unlock()
		if ackTopic != "" {
			ack, _ := json.Marshal(map[string]string{"command_id": cmd.CommandID})
			c.Publish(ackTopic, 1, false, ack)
		}
		select {
		case e.received <- got:
		default:
		}
	})
	if tok.Wait() && tok.Error() != nil {
		t.Fatalf("executor subscribe: %v", tok.Error())
	}
	return e
}

// Next waits for the next command or ctx.
func (e *Executor) Next(ctx context.Context) (Command, error) {
	select {
	case c := <-e.received:
		return c, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// Commands returns every command received so far.
func (e *Executor) Commands() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.commands...)
}
