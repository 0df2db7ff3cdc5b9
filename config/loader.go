// Package config loads scheduler configuration from YAML files with
// environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskmesh.yaml").
//	    WithEnvPrefix("TASKMESH").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full scheduler configuration.
type Config struct {
	// Server configures the HTTP surface of the daemon.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Matcher configures capability scoring.
	Matcher MatcherConfig `yaml:"matcher" env:"MATCHER"`

	// Delegation configures the negotiation lifecycle.
	Delegation DelegationConfig `yaml:"delegation" env:"DELEGATION"`

	// Handoff configures handoff bookkeeping.
	Handoff HandoffConfig `yaml:"handoff" env:"HANDOFF"`

	// Cleanup configures the retention sweep.
	Cleanup CleanupConfig `yaml:"cleanup" env:"CLEANUP"`

	// Messages selects and configures the message log backend.
	Messages MessagesConfig `yaml:"messages" env:"MESSAGES"`

	// Archive configures the sqlite archive of retired entities.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Roster seeds the agent registry at startup. Empty means the
	// built-in default roster.
	Roster []AgentSeed `yaml:"roster" env:"-"`

	// Log configures zap.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the daemon's HTTP listener.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// MatcherConfig configures agent scoring. Weights are normalized at
// use, so they need not sum to one here.
type MatcherConfig struct {
	CapabilityWeight   float64 `yaml:"capability_weight" env:"CAPABILITY_WEIGHT"`
	WorkloadWeight     float64 `yaml:"workload_weight" env:"WORKLOAD_WEIGHT"`
	AvailabilityWeight float64 `yaml:"availability_weight" env:"AVAILABILITY_WEIGHT"`
	SuccessRateWeight  float64 `yaml:"success_rate_weight" env:"SUCCESS_RATE_WEIGHT"`

	// RecencyWindow is how long an idle agent keeps availability credit.
	RecencyWindow time.Duration `yaml:"recency_window" env:"RECENCY_WINDOW"`
}

// DelegationConfig configures the negotiator.
type DelegationConfig struct {
	// AcceptanceWindow is how long a delegation stays pending before
	// an expiry sweep can retire it.
	AcceptanceWindow time.Duration `yaml:"acceptance_window" env:"ACCEPTANCE_WINDOW"`

	// ExpiryInterval is how often the daemon runs the expiry sweep.
	ExpiryInterval time.Duration `yaml:"expiry_interval" env:"EXPIRY_INTERVAL"`
}

// HandoffConfig configures the handoff coordinator.
type HandoffConfig struct {
	// HistoryLimit bounds the in-memory outcome ring.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// CleanupConfig configures retention of terminal entities.
type CleanupConfig struct {
	// MaxAge is how long terminal entities stay queryable in memory.
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`

	// Interval is how often the daemon runs the cleanup sweep. Zero
	// disables the background sweep.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// MessagesConfig selects the message log backend.
type MessagesConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`

	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig configures the redis message backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AgentSeed declares one roster agent in configuration.
type AgentSeed struct {
	ID                 string           `yaml:"id"`
	Name               string           `yaml:"name"`
	MaxWorkload        int              `yaml:"max_workload"`
	SuccessRate        float64          `yaml:"success_rate"`
	Capabilities       []CapabilitySeed `yaml:"capabilities"`
	Specializations    []string         `yaml:"specializations"`
	PreferredTaskTypes []string         `yaml:"preferred_task_types"`
}

// CapabilitySeed declares one capability of a configured agent.
type CapabilitySeed struct {
	Name        string  `yaml:"name"`
	Proficiency float64 `yaml:"proficiency"`
	Confidence  float64 `yaml:"confidence"`
}

// ArchiveConfig configures the sqlite archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config from defaults, a file, and the environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TASKMESH"}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an extra validation step.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads the configuration or panics. For main() only.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Matcher.CapabilityWeight < 0 || c.Matcher.WorkloadWeight < 0 ||
		c.Matcher.AvailabilityWeight < 0 || c.Matcher.SuccessRateWeight < 0 {
		errs = append(errs, "matcher weights must be non-negative")
	}
	if c.Matcher.CapabilityWeight+c.Matcher.WorkloadWeight+
		c.Matcher.AvailabilityWeight+c.Matcher.SuccessRateWeight <= 0 {
		errs = append(errs, "at least one matcher weight must be positive")
	}
	if c.Matcher.RecencyWindow <= 0 {
		errs = append(errs, "recency_window must be positive")
	}
	if c.Delegation.AcceptanceWindow <= 0 {
		errs = append(errs, "acceptance_window must be positive")
	}
	if c.Handoff.HistoryLimit <= 0 {
		errs = append(errs, "history_limit must be positive")
	}
	if c.Cleanup.MaxAge <= 0 {
		errs = append(errs, "cleanup max_age must be positive")
	}
	switch c.Messages.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown message backend %q", c.Messages.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
