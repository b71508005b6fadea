package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/telemdeck/internal/adapters/observability"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "telemdeck"
	}
	if c.Topic == "" {
		c.Topic = "telemdeck/alerts"
	}
	if c.Encoding == "" {
		c.Encoding = EncodingJSON
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.QoS)
	}
	switch c.Encoding {
	case EncodingJSON, EncodingMsgpack:
	default:
		return fmt.Errorf("mqtt.encoding %q unsupported", c.Encoding)
	}
	return nil
}

// AlertMessage is the payload published for a batch that raised alerts.
type AlertMessage struct {
	SessionID string         `json:"session_id" msgpack:"session_id"`
	At        time.Time      `json:"at" msgpack:"at"`
	Seq       uint64         `json:"seq" msgpack:"seq"`
	Alerts    []domain.Alert `json:"alerts" msgpack:"alerts"`
}

// Publisher forwards alert lists to an MQTT broker, one topic per highest
// priority: <topic>/<priority>.
type Publisher struct {
	cfg    Config
	obs    ports.Observability
	client paho.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

type Option func(*Publisher)

func WithObservability(obs ports.Observability) Option {
	return func(p *Publisher) {
		if obs != nil {
			p.obs = obs
		}
	}
}

// WithClient replaces the paho client built from Config.
func WithClient(c paho.Client) Option {
	return func(p *Publisher) { p.client = c }
}

func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Publisher{
		cfg:       cfg,
		obs:       observability.Nop{},
		published: make(map[string]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.client == nil {
		p.client = paho.NewClient(p.clientOptions())
	}
	return p, nil
}

func (p *Publisher) clientOptions() *paho.ClientOptions {
	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(paho.Client) {
		p.setConnected(true)
		p.obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: p.cfg.Broker})
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.setConnected(false)
		p.obs.LogError("mqtt_connection_lost", err, ports.Field{Key: "broker", Value: p.cfg.Broker})
	}
	return opts
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	timeout := p.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

// WriteBatch implements ports.Sink. Only batches carrying a new data record
// with alerts are published; idle ticks repeat the previous alerts and are
// skipped.
func (p *Publisher) WriteBatch(batch domain.Batch) error {
	rec, ok := batch.LatestData()
	if !ok || len(batch.Alerts) == 0 {
		return nil
	}
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	msg := AlertMessage{SessionID: batch.SessionID, At: batch.At, Seq: rec.Seq, Alerts: batch.Alerts}
	payload, err := p.encode(msg)
	if err != nil {
		p.countError()
		return fmt.Errorf("encode alerts: %w", err)
	}

	topic := p.cfg.Topic + "/" + highest(batch.Alerts).String()
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.countError()
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) encode(msg AlertMessage) ([]byte, error) {
	if p.cfg.Encoding == EncodingMsgpack {
		return msgpack.Marshal(msg)
	}
	return json.Marshal(msg)
}

func highest(alerts []domain.Alert) domain.Priority {
	top := alerts[0].Priority
	for _, a := range alerts[1:] {
		if a.Priority > top {
			top = a.Priority
		}
	}
	return top
}

func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
}

type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Connected: p.connected, Published: published, Errors: p.errors}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

var _ ports.Sink = (*Publisher)(nil)
