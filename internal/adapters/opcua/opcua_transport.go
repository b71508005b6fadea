package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// Config describes the String node a gateway updates with console lines.
type Config struct {
	NodeID           string        `yaml:"node_id"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "telemdeck"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
}

func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node_id is required")
	}
	if !hasIdentifierType(c.NodeID) {
		return fmt.Errorf("node id %q: want ns=<n>;<i|s|g|b>=<id>", c.NodeID)
	}
	if _, err := ua.ParseNodeID(c.NodeID); err != nil {
		return fmt.Errorf("parse node id %q: %w", c.NodeID, err)
	}
	return nil
}

// Transport subscribes to one String node. Every data change carries one or
// more telemetry lines. The address passed to Open is the endpoint URL.
type Transport struct {
	cfg Config
}

func NewTransport(cfg Config) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg}, nil
}

func (t *Transport) Name() string { return "opcua" }

func (t *Transport) Open(ctx context.Context, endpoint string, _ ports.TransportParams) (ports.Conn, error) {
	if endpoint == "" {
		return nil, errors.New("opcua endpoint is required")
	}
	nodeID, err := ua.ParseNodeID(t.cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", t.cfg.NodeID, err)
	}

	client, err := opcua.NewClient(endpoint, t.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	notifyCh := make(chan *opcua.PublishNotificationData, 16)
	sub, err := client.Subscribe(subCtx, &opcua.SubscriptionParameters{
		Interval: t.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, monitorHandle)
	if t.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(t.cfg.SamplingInterval / time.Millisecond)
	}
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	switch {
	case err != nil:
		err = fmt.Errorf("monitor node %q: %w", t.cfg.NodeID, err)
	case len(res.Results) == 0:
		err = fmt.Errorf("monitor node %q failed: empty result", t.cfg.NodeID)
	case res.Results[0].StatusCode != ua.StatusOK:
		err = fmt.Errorf("monitor node %q failed: %s", t.cfg.NodeID, res.Results[0].StatusCode)
	}
	if err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return nil, err
	}

	c := &conn{
		client: client,
		sub:    sub,
		cancel: cancel,
		lines:  make(chan string, 64),
		errc:   make(chan error, 1),
	}
	c.wg.Add(1)
	go c.consume(subCtx, notifyCh)
	return c, nil
}

const monitorHandle uint32 = 1

func (t *Transport) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(t.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(t.cfg.SecurityPolicy)),
		opcua.ApplicationName(t.cfg.ApplicationName),
		opcua.AutoReconnect(false),
	}
	if t.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(t.cfg.Username, t.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

type conn struct {
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	lines chan string
	errc  chan error
}

func (c *conn) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				select {
				case c.errc <- notif.Error:
				default:
				}
				return
			}
			for _, line := range notificationLines(notif.Value) {
				select {
				case <-ctx.Done():
					return
				case c.lines <- line:
				}
			}
		}
	}
}

func (c *conn) ReadLine(timeout time.Duration) (string, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line := <-c.lines:
		return line, true, nil
	case err := <-c.errc:
		return "", false, fmt.Errorf("opcua subscription: %w", err)
	case <-t.C:
		return "", false, nil
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e := c.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
		if e := c.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
		c.wg.Wait()
	})
	return err
}

// notificationLines extracts the text lines carried by a data change.
func notificationLines(val any) []string {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range data.MonitoredItems {
		if item == nil || item.ClientHandle != monitorHandle || item.Value == nil {
			continue
		}
		text, ok := variantToText(item.Value.Value)
		if !ok {
			continue
		}
		out = append(out, splitLines(text)...)
	}
	return out
}

func variantToText(v *ua.Variant) (string, bool) {
	if v == nil {
		return "", false
	}
	switch val := v.Value().(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func splitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(strings.ToValidUTF8(l, "\uFFFD"))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// hasIdentifierType reports whether id names its identifier type explicitly.
// ParseNodeID takes any other text as a namespace 0 string id.
func hasIdentifierType(id string) bool {
	if ns, rest, ok := strings.Cut(id, ";"); ok {
		if !strings.HasPrefix(ns, "ns=") && !strings.HasPrefix(ns, "nsu=") {
			return false
		}
		id = rest
	}
	for _, p := range []string{"i=", "s=", "g=", "b="} {
		if strings.HasPrefix(id, p) && len(id) > len(p) {
			return true
		}
	}
	return false
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Transport = (*Transport)(nil)
