// Package simconfig holds the simulation kernel's configuration: the
// per-simulation parameters of spec §6 plus the ambient server/runtime
// settings. It follows gomind's three-layer priority (defaults → env vars
// → functional options) and its env/json struct-tag convention, adapted
// from the GOMIND_* namespace to SIMKERNEL_*.
package simconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object for a simulationd process.
type Config struct {
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
	Simulation  SimulationParams  `json:"simulation" yaml:"simulation"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
}

// PersistenceConfig configures the optional Redis-backed simulation-state
// snapshot store, disabled by default (in-memory only, per spec §1's
// "simulation-time discrete-event" scope — persistence across process
// restarts is an ambient convenience, not a modeled operation).
type PersistenceConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" env:"SIMKERNEL_PERSISTENCE_ENABLED" default:"false"`
	RedisURL  string        `json:"redis_url" yaml:"redis_url" env:"SIMKERNEL_REDIS_URL" default:"redis://localhost:6379"`
	DB        int           `json:"redis_db" yaml:"redis_db" env:"SIMKERNEL_REDIS_DB" default:"0"`
	Namespace string        `json:"namespace" yaml:"namespace" env:"SIMKERNEL_PERSISTENCE_NAMESPACE" default:"simkernel:snapshot"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" env:"SIMKERNEL_PERSISTENCE_TTL" default:"0"`
}

// HTTPConfig configures the external interface adapter (C11).
type HTTPConfig struct {
	Address         string        `json:"address" yaml:"address" env:"SIMKERNEL_ADDRESS" default:"0.0.0.0"`
	Port            int           `json:"port" yaml:"port" env:"SIMKERNEL_PORT" default:"8090"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"SIMKERNEL_HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"SIMKERNEL_HTTP_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SIMKERNEL_HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
	CORSEnabled     bool          `json:"cors_enabled" yaml:"cors_enabled" env:"SIMKERNEL_CORS_ENABLED" default:"false"`
	RequestDeadline time.Duration `json:"request_deadline" yaml:"request_deadline" env:"SIMKERNEL_REQUEST_DEADLINE" default:"1s"`
}

// LoggingConfig configures simlog.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"SIMKERNEL_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"SIMKERNEL_LOG_FORMAT" default:"json"`
}

// TelemetryConfig configures the OpenTelemetry wiring.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"SIMKERNEL_TELEMETRY_ENABLED" default:"false"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"SIMKERNEL_SERVICE_NAME" default:"living-twin-simulation"`
}

// SimulationParams are the per-simulation knobs enumerated in spec §6.
type SimulationParams struct {
	TimeAccelerationFactor float64          `json:"time_acceleration_factor" yaml:"time_acceleration_factor" env:"SIMKERNEL_TIME_ACCELERATION" default:"144"`
	CommunicationFrequency float64          `json:"communication_frequency" yaml:"communication_frequency" env:"SIMKERNEL_COMM_FREQUENCY" default:"0.35"`
	ResponseDelayRangeMin  time.Duration    `json:"response_delay_min" yaml:"response_delay_min" env:"SIMKERNEL_RESPONSE_DELAY_MIN" default:"2m"`
	ResponseDelayRangeMax  time.Duration    `json:"response_delay_max" yaml:"response_delay_max" env:"SIMKERNEL_RESPONSE_DELAY_MAX" default:"48m"`
	StressThreshold        float64          `json:"stress_threshold" yaml:"stress_threshold" env:"SIMKERNEL_STRESS_THRESHOLD" default:"0.75"`
	CollaborationBonus     float64          `json:"collaboration_bonus" yaml:"collaboration_bonus" env:"SIMKERNEL_COLLABORATION_BONUS" default:"0.2"`
	EscalationThresholds   EscalationConfig `json:"escalation_thresholds" yaml:"escalation_thresholds"`
	RandomSeed             int64            `json:"random_seed" yaml:"random_seed" env:"SIMKERNEL_RANDOM_SEED"`
	SeedSet                bool             `json:"-" yaml:"-"`
	GeneratorBackend       string           `json:"generator_backend" yaml:"generator_backend" env:"SIMKERNEL_GENERATOR_BACKEND" default:"off"`
	GeneratorTimeoutMS     int              `json:"generator_timeout_ms" yaml:"generator_timeout_ms" env:"SIMKERNEL_GENERATOR_TIMEOUT_MS" default:"2000"`
	WorkerPoolSize         int              `json:"worker_pool_size" yaml:"worker_pool_size" env:"SIMKERNEL_WORKER_POOL_SIZE" default:"0"`
	DeliveryQueueCapacity  int              `json:"delivery_queue_capacity" yaml:"delivery_queue_capacity" env:"SIMKERNEL_DELIVERY_QUEUE_CAPACITY" default:"10000"`
	MemoryWindowSize       int              `json:"memory_window_size" yaml:"memory_window_size" env:"SIMKERNEL_MEMORY_WINDOW" default:"20"`
}

// EscalationConfig holds N1/N2 of spec §4.7.
type EscalationConfig struct {
	NudgesIgnoredToRecommendation       int `json:"n1" yaml:"n1" env:"SIMKERNEL_ESCALATION_N1" default:"5"`
	RecommendationsIgnoredToDirectOrder int `json:"n2" yaml:"n2" env:"SIMKERNEL_ESCALATION_N2" default:"3"`
}

// Option mutates a Config; applied after defaults and environment
// variables, matching gomind's functional-option ordering.
type Option func(*Config) error

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:         "0.0.0.0",
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RequestDeadline: time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "living-twin-simulation",
		},
		Simulation: SimulationParams{
			TimeAccelerationFactor: 144,
			CommunicationFrequency: 0.35,
			ResponseDelayRangeMin:  2 * time.Minute,
			ResponseDelayRangeMax:  48 * time.Minute,
			StressThreshold:        0.75,
			CollaborationBonus:     0.2,
			EscalationThresholds: EscalationConfig{
				NudgesIgnoredToRecommendation:       5,
				RecommendationsIgnoredToDirectOrder: 3,
			},
			GeneratorBackend:      "off",
			GeneratorTimeoutMS:    2000,
			WorkerPoolSize:        0,
			DeliveryQueueCapacity: 10000,
			MemoryWindowSize:      20,
		},
		Persistence: PersistenceConfig{
			Enabled:   false,
			RedisURL:  "redis://localhost:6379",
			DB:        0,
			Namespace: "simkernel:snapshot",
		},
	}
}

// Load builds a Config from defaults, then environment variables, then the
// supplied functional options, and validates the result. The environment
// layer reads only SIMKERNEL_ADDRESS, SIMKERNEL_PORT, SIMKERNEL_LOG_LEVEL,
// SIMKERNEL_LOG_FORMAT, SIMKERNEL_TELEMETRY_ENABLED,
// SIMKERNEL_TIME_ACCELERATION, SIMKERNEL_RANDOM_SEED,
// SIMKERNEL_GENERATOR_BACKEND, SIMKERNEL_PERSISTENCE_ENABLED,
// SIMKERNEL_REDIS_URL and SIMKERNEL_REDIS_DB; the env tags on the other
// fields are not read.
func Load(opts ...Option) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("simconfig: applying option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIMKERNEL_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("SIMKERNEL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v := os.Getenv("SIMKERNEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SIMKERNEL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SIMKERNEL_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SIMKERNEL_TIME_ACCELERATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Simulation.TimeAccelerationFactor = f
		}
	}
	if v := os.Getenv("SIMKERNEL_RANDOM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Simulation.RandomSeed = n
			c.Simulation.SeedSet = true
		}
	}
	if v := os.Getenv("SIMKERNEL_GENERATOR_BACKEND"); v != "" {
		c.Simulation.GeneratorBackend = v
	}
	if v := os.Getenv("SIMKERNEL_PERSISTENCE_ENABLED"); v != "" {
		c.Persistence.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SIMKERNEL_REDIS_URL"); v != "" {
		c.Persistence.RedisURL = v
	}
	if v := os.Getenv("SIMKERNEL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Persistence.DB = n
		}
	}
}

// Validate rejects out-of-range parameters the way §7's invalid_argument
// kind is meant to be raised at the API boundary.
func (c *Config) Validate() error {
	p := c.Simulation
	if p.TimeAccelerationFactor <= 0 {
		return fmt.Errorf("simconfig: time_acceleration_factor must be positive")
	}
	if p.CommunicationFrequency < 0 || p.CommunicationFrequency > 1 {
		return fmt.Errorf("simconfig: communication_frequency must be in [0,1]")
	}
	if p.ResponseDelayRangeMin < 0 || p.ResponseDelayRangeMax < p.ResponseDelayRangeMin {
		return fmt.Errorf("simconfig: response_delay_range invalid")
	}
	if p.StressThreshold < 0 || p.StressThreshold > 1 {
		return fmt.Errorf("simconfig: stress_threshold must be in [0,1]")
	}
	if p.CollaborationBonus < 0 || p.CollaborationBonus > 0.5 {
		return fmt.Errorf("simconfig: collaboration_bonus must be in [0,0.5]")
	}
	if p.EscalationThresholds.NudgesIgnoredToRecommendation < 1 ||
		p.EscalationThresholds.RecommendationsIgnoredToDirectOrder < 1 {
		return fmt.Errorf("simconfig: escalation thresholds must be >= 1")
	}
	switch p.GeneratorBackend {
	case "off", "anthropic", "mock":
	default:
		return fmt.Errorf("simconfig: unknown generator_backend %q", p.GeneratorBackend)
	}
	if c.Persistence.Enabled {
		if c.Persistence.RedisURL == "" {
			return fmt.Errorf("simconfig: persistence.redis_url is required when persistence is enabled")
		}
		if c.Persistence.DB < 0 || c.Persistence.DB > 15 {
			return fmt.Errorf("simconfig: persistence.redis_db must be in [0,15]")
		}
	}
	return nil
}

// FromFile merges a YAML configuration file over the defaults/environment
// layer, implementing §6's defaults -> env -> YAML file -> functional
// options order: pass it as the first element of Load's opts so later
// options can still override file-sourced values. A seed of exactly 0 in
// the file is indistinguishable from an omitted seed (§6: "omit for
// nondeterministic"); use WithSeed if zero must be pinned explicitly.
func FromFile(path string) Option {
	return func(c *Config) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("simconfig: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("simconfig: parsing config file: %w", err)
		}
		if c.Simulation.RandomSeed != 0 {
			c.Simulation.SeedSet = true
		}
		return nil
	}
}

// WithSeed pins the RNG seed (functional option).
func WithSeed(seed int64) Option {
	return func(c *Config) error {
		c.Simulation.RandomSeed = seed
		c.Simulation.SeedSet = true
		return nil
	}
}

// WithAcceleration overrides the time acceleration factor. Pass math.Inf(1)
// for as-fast-as-possible mode (used by tests).
func WithAcceleration(factor float64) Option {
	return func(c *Config) error {
		if factor <= 0 {
			return fmt.Errorf("simconfig: acceleration factor must be positive")
		}
		c.Simulation.TimeAccelerationFactor = factor
		return nil
	}
}

// WithEscalationThresholds overrides N1/N2.
func WithEscalationThresholds(n1, n2 int) Option {
	return func(c *Config) error {
		if n1 < 1 || n2 < 1 {
			return fmt.Errorf("simconfig: escalation thresholds must be >= 1")
		}
		c.Simulation.EscalationThresholds = EscalationConfig{
			NudgesIgnoredToRecommendation:       n1,
			RecommendationsIgnoredToDirectOrder: n2,
		}
		return nil
	}
}

// WithGeneratorBackend selects the Behavior Engine's optional back-end.
func WithGeneratorBackend(name string, timeoutMS int) Option {
	return func(c *Config) error {
		c.Simulation.GeneratorBackend = name
		if timeoutMS > 0 {
			c.Simulation.GeneratorTimeoutMS = timeoutMS
		}
		return nil
	}
}
