package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/telemdeck/internal/adapters/mqtt"
	"github.com/ghalamif/telemdeck/internal/adapters/opcua"
	"github.com/ghalamif/telemdeck/internal/adapters/rules"
	"github.com/ghalamif/telemdeck/internal/adapters/stats"
	"github.com/ghalamif/telemdeck/internal/adapters/transport"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// Transport kinds understood by the session.
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindSim    = "sim"
	KindStdin  = "stdin"
	KindOPCUA  = "opcua"
)

type Config struct {
	Transport  TransportConfig  `yaml:"transport"`
	Policy     ports.Policy     `yaml:"policy"`
	Session    SessionConfig    `yaml:"session"`
	Rules      RulesConfig      `yaml:"rules"`
	SessionLog SessionLogConfig `yaml:"session_log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	MQTT       mqtt.Config      `yaml:"mqtt"`
}

type TransportConfig struct {
	Kind       string       `yaml:"kind"`
	Address    string       `yaml:"address"`
	BaudRate   int          `yaml:"baud_rate"`
	DataPrefix string       `yaml:"data_prefix"`
	OPCUA      opcua.Config `yaml:"opcua"`
	Sim        SimConfig    `yaml:"sim"`
}

type SimConfig struct {
	Interval time.Duration `yaml:"interval"`
	Seed     uint64        `yaml:"seed"`
}

type SessionConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	Metrics      []string      `yaml:"metrics"`
	ErrorCodeKey string        `yaml:"error_code_key"`
}

type RulesConfig struct {
	Path string `yaml:"path"`
}

type SessionLogConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	Dir            string `yaml:"dir"`
	TimestampLines bool   `yaml:"timestamp_lines"`
}

// On reports whether raw lines are written to disk; it defaults to true.
func (c SessionLogConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	FeedPath string `yaml:"feed_path"`
}

// TimescaleConfig enables the record sink when ConnString is set.
type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = KindSim
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = 115200
	}
	if c.Transport.Sim.Interval == 0 {
		c.Transport.Sim.Interval = transport.DefaultSimInterval
	}
	if c.Transport.Kind == KindOPCUA {
		c.Transport.OPCUA.ApplyDefaults()
	}

	if c.Policy.InitialBackoff == 0 {
		c.Policy.InitialBackoff = transport.DefaultInitialBackoff
	}
	if c.Policy.BackoffMultiplier == 0 {
		c.Policy.BackoffMultiplier = transport.DefaultBackoffMultiplier
	}
	if c.Policy.MaxBackoff == 0 {
		c.Policy.MaxBackoff = transport.DefaultMaxBackoff
	}
	if c.Policy.ReadTimeout == 0 {
		c.Policy.ReadTimeout = transport.DefaultReadTimeout
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = transport.DefaultIdleSleep
	}

	if c.Session.TickInterval == 0 {
		c.Session.TickInterval = time.Second
	}
	if c.Session.JoinTimeout == 0 {
		c.Session.JoinTimeout = time.Second
	}
	if c.Session.StaleAfter == 0 {
		c.Session.StaleAfter = 30 * time.Second
	}
	if len(c.Session.Metrics) == 0 {
		c.Session.Metrics = append([]string(nil), stats.DefaultMetrics...)
	}
	if c.Session.ErrorCodeKey == "" {
		c.Session.ErrorCodeKey = rules.DefaultCodeKey
	}

	if c.Rules.Path == "" {
		c.Rules.Path = "./config/error_config.json"
	}
	if c.SessionLog.Dir == "" {
		c.SessionLog.Dir = "./logs"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Metrics.FeedPath == "" {
		c.Metrics.FeedPath = "/feed"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "telemetry_records"
	}
	if c.MQTT.Broker != "" {
		c.MQTT.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case KindSim, KindStdin:
	case KindSerial, KindTCP:
		if c.Transport.Address == "" {
			return fmt.Errorf("transport.address is required for %s", c.Transport.Kind)
		}
	case KindOPCUA:
		if c.Transport.Address == "" {
			return errors.New("transport.address is required for opcua")
		}
		if err := c.Transport.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	default:
		return fmt.Errorf("transport.kind %q unknown", c.Transport.Kind)
	}
	if c.Transport.BaudRate < 0 {
		return fmt.Errorf("transport.baud_rate must be positive, got %d", c.Transport.BaudRate)
	}
	if c.Transport.Sim.Interval < 0 {
		return errors.New("transport.sim.interval must be positive")
	}

	if c.Policy.InitialBackoff < 0 || c.Policy.MaxBackoff < 0 {
		return errors.New("policy backoff durations must be positive")
	}
	if c.Policy.MaxBackoff < c.Policy.InitialBackoff {
		return fmt.Errorf("policy.max_backoff %s is below initial_backoff %s", c.Policy.MaxBackoff, c.Policy.InitialBackoff)
	}
	if c.Policy.BackoffMultiplier < 1 {
		return fmt.Errorf("policy.backoff_multiplier must be >= 1, got %v", c.Policy.BackoffMultiplier)
	}
	if c.Policy.ReadTimeout < 0 || c.Policy.IdleSleep < 0 {
		return errors.New("policy read_timeout and idle_sleep must be positive")
	}

	if c.Session.TickInterval < 0 || c.Session.JoinTimeout < 0 || c.Session.StaleAfter < 0 {
		return errors.New("session intervals must be positive")
	}
	if c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required")
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	return nil
}
