package ports

import "time"

// Policy controls the reconnect loop and idle pacing of the transport reader.
type Policy struct {
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	IdleSleep         time.Duration `yaml:"idle_sleep"`
}
