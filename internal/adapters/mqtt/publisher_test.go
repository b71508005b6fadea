package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/telemdeck/internal/domain"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return !t.timeout }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	paho.Client
	connectErr error
	publishTok fakeToken
	connected  bool
	msgs       []published
}

func (c *fakeClient) Connect() paho.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return fakeToken{err: c.connectErr}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.publishTok
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect(uint)   { c.connected = false }

func alertBatch() domain.Batch {
	return domain.Batch{
		SessionID: "s-1",
		At:        time.Unix(1700000000, 0).UTC(),
		Records:   []domain.Record{{Kind: domain.KindData, Seq: 7}},
		Alerts: []domain.Alert{
			{Priority: domain.PriorityWarning, Message: "Low battery 7.00", Source: domain.SourceCondition},
			{Priority: domain.PriorityCritical, Message: "Overheat 85.00", Source: domain.SourceCondition},
		},
	}
}

func newConnected(t *testing.T, cfg Config, client *fakeClient) *Publisher {
	t.Helper()
	p, err := NewPublisher(cfg, WithClient(client))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return p
}

func TestPublishUsesHighestPriorityTopic(t *testing.T) {
	client := &fakeClient{}
	p := newConnected(t, Config{Broker: "localhost:1883", QoS: 1}, client)

	if err := p.WriteBatch(alertBatch()); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("expected one publish, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "telemdeck/alerts/critical" || msg.qos != 1 {
		t.Fatalf("unexpected publish %s qos=%d", msg.topic, msg.qos)
	}

	var got AlertMessage
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.SessionID != "s-1" || got.Seq != 7 || len(got.Alerts) != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}
	if p.Stats().Published["telemdeck/alerts/critical"] != 1 {
		t.Fatalf("expected published counter, got %+v", p.Stats())
	}
}

func TestPublishMsgpack(t *testing.T) {
	client := &fakeClient{}
	p := newConnected(t, Config{Broker: "tcp://broker:1883", Topic: "fc", Encoding: EncodingMsgpack}, client)

	if err := p.WriteBatch(alertBatch()); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	var got AlertMessage
	if err := msgpack.Unmarshal(client.msgs[0].payload, &got); err != nil {
		t.Fatalf("decode msgpack: %v", err)
	}
	if client.msgs[0].topic != "fc/critical" || got.Alerts[1].Message != "Overheat 85.00" {
		t.Fatalf("unexpected message %s %+v", client.msgs[0].topic, got)
	}
}

func TestNoAlertsPublishesNothing(t *testing.T) {
	client := &fakeClient{}
	p := newConnected(t, Config{Broker: "b"}, client)
	if err := p.WriteBatch(domain.Batch{SessionID: "s"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(client.msgs) != 0 {
		t.Fatalf("expected no publish")
	}
}

func TestIdleBatchPublishesNothing(t *testing.T) {
	client := &fakeClient{}
	p := newConnected(t, Config{Broker: "b"}, client)

	idle := alertBatch()
	idle.Records = []domain.Record{{Kind: domain.KindInfo, Text: "heartbeat"}}
	if err := p.WriteBatch(idle); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	idle.Records = nil
	if err := p.WriteBatch(idle); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(client.msgs) != 0 {
		t.Fatalf("alerts of an earlier record were republished: %d messages", len(client.msgs))
	}

	disconnected, err := NewPublisher(Config{Broker: "b"}, WithClient(&fakeClient{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := disconnected.WriteBatch(idle); err != nil || disconnected.Stats().Errors != 0 {
		t.Fatalf("idle batch must not count as a failed publish: %v %+v", err, disconnected.Stats())
	}
}

func TestWriteBeforeConnectFails(t *testing.T) {
	p, err := NewPublisher(Config{Broker: "b"}, WithClient(&fakeClient{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.WriteBatch(alertBatch()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if p.Stats().Errors != 1 {
		t.Fatalf("expected error counted")
	}
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{publishTok: fakeToken{err: errors.New("broker gone")}}
	p := newConnected(t, Config{Broker: "b"}, client)
	if err := p.WriteBatch(alertBatch()); err == nil {
		t.Fatalf("expected publish error")
	}

	client.publishTok = fakeToken{timeout: true}
	if err := p.WriteBatch(alertBatch()); err == nil {
		t.Fatalf("expected timeout error")
	}
	if p.Stats().Errors != 2 {
		t.Fatalf("expected 2 errors, got %d", p.Stats().Errors)
	}
}

func TestConnectFailure(t *testing.T) {
	p, _ := NewPublisher(Config{Broker: "b"}, WithClient(&fakeClient{connectErr: errors.New("refused")}))
	if err := p.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if p.Stats().Connected {
		t.Fatalf("should not be connected")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{},
		{Broker: "b", QoS: 3},
		{Broker: "b", Encoding: "xml"},
	}
	for _, c := range cases {
		c.ApplyDefaults()
		if err := c.Validate(); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestDisconnect(t *testing.T) {
	client := &fakeClient{}
	p := newConnected(t, Config{Broker: "b"}, client)
	p.Disconnect()
	if client.connected || p.Stats().Connected {
		t.Fatalf("expected disconnected")
	}
}
