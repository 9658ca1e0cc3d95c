package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/obsched/core/monitoring"
	"github.com/kilianp07/obsched/core/notify"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker       string          `json:"broker"`
	ClientID     string          `json:"client_id"`
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	TopicPrefix  string          `json:"topic_prefix"`
	AckTopic     string          `json:"ack_topic"`
	AckTimeoutMS int             `json:"ack_timeout_ms"`
	UseTLS       bool            `json:"use_tls"`
	ClientCert   string          `json:"client_cert"`
	ClientKey    string          `json:"client_key"`
	CABundle     string          `json:"ca_bundle"`
	AuthMethod   string          `json:"auth_method"`
	QoS          map[string]byte `json:"qos"`
	LWTTopic     string          `json:"lwt_topic"`
	LWTPayload   string          `json:"lwt_payload"`
	LWTQoS       byte            `json:"lwt_qos"`
	LWTRetain    bool            `json:"lwt_retain"`
	MaxRetries   int             `json:"max_retries"`
	BackoffMS    int             `json:"backoff_ms"`
	TLSConfig    *tls.Config     `json:"-"`
}

// SetDefaults fills the unset topic prefix, ack timeout, retries and backoff.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "obsched"
	}
	if c.AckTimeoutMS <= 0 {
		c.AckTimeoutMS = 5000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Notifier publishes cancellations and aborts to per-resource topics and
// waits for the executing system to acknowledge each command.
type Notifier struct {
	cli        pahoClient
	prefix     string
	ackTopic   string
	ackTimeout time.Duration
	qos        map[string]byte

	mu         sync.Mutex
	ackChans   map[string]chan struct{}
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var _ notify.Notifier = (*Notifier)(nil)

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewNotifier connects to the MQTT broker and subscribes to the ack topic.
func NewNotifier(cfg Config) (*Notifier, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_notifier")
	n := &Notifier{
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		ackTopic:   cfg.AckTopic,
		ackTimeout: time.Duration(cfg.AckTimeoutMS) * time.Millisecond,
		ackChans:   make(map[string]chan struct{}),
		logger:     log,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if n.ackTopic == "" {
			return
		}
		if token := c.Subscribe(n.ackTopic, n.qosFor("ack"), n.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	n.cli = c
	return n, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (n *Notifier) qosFor(kind string) byte {
	if q, ok := n.qos[kind]; ok {
		return q
	}
	return 0
}

func (n *Notifier) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		n.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	n.mu.Lock()
	ch, ok := n.ackChans[m.CommandID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		n.logger.Debugf("received ack %s", m.CommandID)
	}
	n.mu.Unlock()
}

type cancelCommand struct {
	CommandID string          `json:"command_id"`
	Resource  string          `json:"resource"`
	Windows   json.RawMessage `json:"windows"`
	Timestamp int64           `json:"timestamp"`
}

type abortCommand struct {
	CommandID string `json:"command_id"`
	Resource  string `json:"resource"`
	Group     string `json:"group"`
	Request   string `json:"request"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Cancel tells the executing system to clear w on its resource.
func (n *Notifier) Cancel(ctx context.Context, w notify.CancellationWindow) error {
	windows, err := json.Marshal(w.Windows)
	if err != nil {
		return err
	}
	cmdID := uuid.NewString()
	return n.send(ctx, "cancel", w.Resource, cmdID, cancelCommand{
		CommandID: cmdID,
		Resource:  w.Resource,
		Windows:   windows,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Abort tells the executing system to stop a running request.
func (n *Notifier) Abort(ctx context.Context, a preemption.Abort) error {
	cmdID := uuid.NewString()
	return n.send(ctx, "abort", a.Running.Resource, cmdID, abortCommand{
		CommandID: cmdID,
		Resource:  a.Running.Resource,
		Group:     a.Group,
		Request:   a.Running.ID,
		Start:     a.Running.Start,
		End:       a.Running.End,
		Reason:    a.Reason,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Topic returns the topic commands of the given kind are published to for resource.
func (n *Notifier) Topic(kind, resource string) string {
	return fmt.Sprintf("%s/%s/%s", n.prefix, kind, resource)
}

func (n *Notifier) send(ctx context.Context, kind, resource, cmdID string, cmd any) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if n.ackTopic != "" {
		n.mu.Lock()
		n.ackChans[cmdID] = make(chan struct{}, 1)
		n.mu.Unlock()
	}

	topic := n.Topic(kind, resource)
	var publishErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		token := n.cli.Publish(topic, n.qosFor(kind), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			n.logger.Infof("sent %s %s to %s", kind, cmdID, topic)
			break
		}
		n.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == n.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			publishErr = ctx.Err()
			attempt = n.maxRetries
		case <-time.After(n.backoff * time.Duration(1<<attempt)):
		}
	}
	if publishErr != nil {
		n.forget(cmdID)
		coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "resource": resource, "command": kind})
		return fmt.Errorf("publish %s: %w", topic, publishErr)
	}
	if n.ackTopic == "" {
		return nil
	}
	return n.WaitForAck(ctx, cmdID, n.ackTimeout)
}

func (n *Notifier) forget(cmdID string) {
	n.mu.Lock()
	delete(n.ackChans, cmdID)
	n.mu.Unlock()
}

// WaitForAck blocks until an ack for the given command ID is received, the
// timeout expires or ctx is done.
func (n *Notifier) WaitForAck(ctx context.Context, commandID string, timeout time.Duration) error {
	n.mu.Lock()
	ch := n.ackChans[commandID]
	n.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("unknown command %s", commandID)
	}
	defer n.forget(commandID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("command %s: %w", commandID, notify.ErrAckTimeout)
	}
}

// Disconnect gracefully closes the MQTT connection.
func (n *Notifier) Disconnect() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}
