// Package config provides configuration management for the simulator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"reqsim/internal/distribution"
)

// Config is the root configuration structure, grounded on
// original_source/config.py's dataclass field set.
type Config struct {
	Queue     QueueConfig     `toml:"queue"`
	Service   ServiceConfig   `toml:"service"`
	Scaling   ScalingConfig   `toml:"scaling"`
	Fault     FaultConfig     `toml:"fault"`
	Network   NetworkConfig   `toml:"network"`
	Simulation SimulationConfig `toml:"simulation"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// QueueConfig controls the dispatch queue's discipline.
type QueueConfig struct {
	Discipline      string `toml:"discipline"`       // "fifo"
	PriorityEnabled bool   `toml:"priority_enabled"`
}

// ServiceConfig selects the service-time distribution stage-two
// processors draw from, mapping directly onto distribution.Params.
type ServiceConfig struct {
	Type        string  `toml:"type"` // "fixed", "uniform", "exponential", "normal"
	Fixed       float64 `toml:"fixed"`
	UniformA    float64 `toml:"uniform_a"`
	UniformB    float64 `toml:"uniform_b"`
	ExpLambda   float64 `toml:"exp_lambda"`
	NormalMean  float64 `toml:"normal_mean"`
	NormalStdev float64 `toml:"normal_stdev"`
}

// ToParams converts ServiceConfig into a distribution.Params.
func (s ServiceConfig) ToParams() distribution.Params {
	return distribution.Params{
		Kind:        distribution.Kind(s.Type),
		Fixed:       s.Fixed,
		UniformA:    s.UniformA,
		UniformB:    s.UniformB,
		ExpLambda:   s.ExpLambda,
		NormalMean:  s.NormalMean,
		NormalStdev: s.NormalStdev,
	}
}

// ScalingConfig controls the stage-one autoscaling controller.
type ScalingConfig struct {
	AvgWaitThreshold   float64       `toml:"avg_wait_threshold"`
	ScaleDownThreshold float64       `toml:"scale_down_threshold"`
	Cooldown           time.Duration `toml:"cooldown"`
	MinPerClass        int           `toml:"min_per_class"`
	MaxPerClass        int           `toml:"max_per_class"`
}

// FaultConfig controls stage-two failure and idle-timeout behavior.
type FaultConfig struct {
	FailureProbability   float64       `toml:"failure_probability"`
	IdleTimeout          time.Duration `toml:"idle_timeout"`
	ClientRequestTimeout time.Duration `toml:"client_request_timeout"`
	MaxRetries           int           `toml:"max_retries"`
	AutoRecoverEnabled   bool          `toml:"auto_recover_enabled"`
	AutoRecoverInterval  time.Duration `toml:"auto_recover_interval"`
}

// NetworkConfig controls TCP port allocation across the topology.
type NetworkConfig struct {
	BindHost    string `toml:"bind_host"`
	TCPPortBase int    `toml:"tcp_port_base"`
}

// SimulationConfig controls run length, traffic generation, and determinism.
type SimulationConfig struct {
	Duration            time.Duration `toml:"duration"`
	RequestGenerationRate float64     `toml:"request_generation_rate"`
	RandomSeed          int64         `toml:"random_seed"`
}

// TelemetryConfig mirrors the logging/metrics conventions the rest of
// the ambient stack shares with the teacher codebase.
type TelemetryConfig struct {
	LogFormat      string `toml:"log_format"` // "json" or "text"
	LogLevel       string `toml:"log_level"`
	PrometheusPort int    `toml:"prometheus_port"`
}

// Default returns the configuration spec.md §9 specifies as the
// simulator's default run parameters.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Discipline:      "fifo",
			PriorityEnabled: true,
		},
		Service: ServiceConfig{
			Type:        string(distribution.Exponential),
			Fixed:       1.0,
			UniformA:    0.5,
			UniformB:    2.0,
			ExpLambda:   1.0,
			NormalMean:  1.0,
			NormalStdev: 0.2,
		},
		Scaling: ScalingConfig{
			AvgWaitThreshold:   5.0,
			ScaleDownThreshold: 1.5,
			Cooldown:           10 * time.Second,
			MinPerClass:        1,
			MaxPerClass:        5,
		},
		Fault: FaultConfig{
			FailureProbability:   0.025,
			IdleTimeout:          60 * time.Second,
			ClientRequestTimeout: 15 * time.Second,
			MaxRetries:           2,
			AutoRecoverEnabled:   false,
			AutoRecoverInterval:  30 * time.Second,
		},
		Network: NetworkConfig{
			BindHost:    "127.0.0.1",
			TCPPortBase: 5000,
		},
		Simulation: SimulationConfig{
			Duration:              60 * time.Second,
			RequestGenerationRate: 2.0,
			RandomSeed:            326,
		},
		Telemetry: TelemetryConfig{
			LogFormat:      "json",
			LogLevel:       "info",
			PrometheusPort: 9090,
		},
	}
}

// Load reads configuration from a TOML file, layered on top of
// Default so an omitted file or omitted sections still produce a
// runnable config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets a small set of REQSIM_* environment variables
// override the loaded file, matching the teacher's Docker-deployment
// override pattern without carrying over its LLM-gateway variable names.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REQSIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Simulation.RandomSeed = seed
		}
	}
	if v := os.Getenv("REQSIM_DURATION_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Simulation.Duration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("REQSIM_REQUEST_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Simulation.RequestGenerationRate = rate
		}
	}
	if v := os.Getenv("REQSIM_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
	if v := os.Getenv("REQSIM_PROMETHEUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Telemetry.PrometheusPort = port
		}
	}
}
