package telemdeck

import (
	"github.com/ghalamif/telemdeck/internal/adapters/mqtt"
	"github.com/ghalamif/telemdeck/internal/adapters/opcua"
	"github.com/ghalamif/telemdeck/internal/adapters/rules"
	"github.com/ghalamif/telemdeck/internal/app/config"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// Config re-exports the root configuration struct so embedding programs can
// build or tweak it in code.
type Config = config.Config

type (
	// Policy controls reconnect backoff and read pacing.
	Policy = ports.Policy
	// TransportConfig selects and addresses the telemetry source.
	TransportConfig = config.TransportConfig
	// OPCUAConfig names the gateway node carrying console lines.
	OPCUAConfig = opcua.Config
	SimConfig   = config.SimConfig
	// SessionConfig holds tick pacing and the tracked metric set.
	SessionConfig    = config.SessionConfig
	RulesConfig      = config.RulesConfig
	SessionLogConfig = config.SessionLogConfig
	// MetricsConfig configures the Prometheus and live feed HTTP server.
	MetricsConfig   = config.MetricsConfig
	TimescaleConfig = config.TimescaleConfig
	MQTTConfig      = mqtt.Config
	// RuleConfig is a resolved alert rule set.
	RuleConfig = rules.Config
)

// Transport kinds accepted in TransportConfig.Kind.
const (
	TransportSerial = config.KindSerial
	TransportTCP    = config.KindTCP
	TransportSim    = config.KindSim
	TransportStdin  = config.KindStdin
	TransportOPCUA  = config.KindOPCUA
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig is a simulator session with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadRuleConfig reads a JSON rule file; a usable rule set is returned even
// when err reports problems.
func LoadRuleConfig(path string) (*RuleConfig, error) {
	return rules.LoadConfig(path)
}

// DefaultRuleConfig returns the built-in rules.
func DefaultRuleConfig() *RuleConfig {
	return rules.Default()
}
