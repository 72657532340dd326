// Package config loads the broker's YAML configuration file into the
// nested, yaml-tagged structs every other package consumes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PollingRates bounds the dispatch loop's adaptive poll interval.
type PollingRates struct {
	MinRateMillisec int `yaml:"min_rate_millisec"`
	MaxRateMillisec int `yaml:"max_rate_millisec"`
}

func (p PollingRates) minRate() time.Duration {
	return time.Duration(p.MinRateMillisec) * time.Millisecond
}

func (p PollingRates) maxRate() time.Duration {
	return time.Duration(p.MaxRateMillisec) * time.Millisecond
}

// WorkerFactoryConfig configures the local-process worker factory: the
// single mesh-io-type it spawns workers for, and the command template
// used to spawn them. Supporting more than one type means running more
// than one worker_factory block (and broker instance) per type.
type WorkerFactoryConfig struct {
	InputType            string   `yaml:"input_type"`
	OutputType           string   `yaml:"output_type"`
	MaxWorkerCount       int      `yaml:"max_worker_count"`
	CommandPath          string   `yaml:"command_path"`
	CommandLineArguments []string `yaml:"command_line_arguments"`
}

// ServerPorts names the preferred bind addresses for both endpoints. The
// broker reports whatever it actually bound, which may differ on conflict.
type ServerPorts struct {
	ClientHost string `yaml:"client_host"`
	ClientPort int    `yaml:"client_port"`
	WorkerHost string `yaml:"worker_host"`
	WorkerPort int    `yaml:"worker_port"`
}

// SignalMode controls whether the broker installs OS signal handlers.
type SignalMode string

const (
	SignalNone    SignalMode = "NONE"
	SignalCapture SignalMode = "CAPTURE"
)

// MetricsConfig controls the optional Prometheus HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the complete broker configuration, loaded once at startup.
type Config struct {
	Polling       PollingRates        `yaml:"polling"`
	WorkerFactory WorkerFactoryConfig `yaml:"worker_factory"`
	Ports         ServerPorts         `yaml:"ports"`
	SignalMode    SignalMode          `yaml:"signal_mode"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// MinRate and MaxRate expose the configured polling bounds as
// time.Duration, the unit every other package actually consumes.
func (c Config) MinRate() time.Duration { return c.Polling.minRate() }
func (c Config) MaxRate() time.Duration { return c.Polling.maxRate() }

// Validate enforces the configuration invariant: both rates positive,
// min <= max.
func (c Config) Validate() error {
	if c.Polling.MinRateMillisec <= 0 || c.Polling.MaxRateMillisec <= 0 {
		return fmt.Errorf("config: polling rates must be positive")
	}
	if c.Polling.MinRateMillisec > c.Polling.MaxRateMillisec {
		return fmt.Errorf("config: min_rate_millisec must be <= max_rate_millisec")
	}
	return nil
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Polling: PollingRates{MinRateMillisec: 250, MaxRateMillisec: 30000},
		WorkerFactory: WorkerFactoryConfig{
			MaxWorkerCount: 4,
		},
		Ports: ServerPorts{
			ClientHost: "127.0.0.1",
			ClientPort: 5050,
			WorkerHost: "127.0.0.1",
			WorkerPort: 5051,
		},
		SignalMode: SignalCapture,
		Metrics:    MetricsConfig{Enabled: true, Port: 9090},
	}
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
