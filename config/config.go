// Package config centralises runtime configuration for the tracker tools.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Recommended tunable defaults; see Tunables.
const (
	DefaultReadTimeout           = 2000 * time.Millisecond
	DefaultCheckFrequencySeconds = int64(60)
	DefaultMinimumLateSeconds    = int64(60)
	DefaultSyncThresholdSeconds  = int64(90)
	DefaultSleepProcessTime      = time.Millisecond
	DefaultScope                 = "tracking"
	DefaultEnvironment           = "development"
	DefaultRedisURI              = "redis://127.0.0.1:6379"
)

// Tunables collects the thresholds driving drain probing, delayed-package
// detection, and the cross-worker clock barrier. The *Seconds fields are
// simulated seconds; the durations are wall-clock.
type Tunables struct {
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	CheckFrequencySeconds int64         `yaml:"delayed_check_frequency_seconds"`
	MinimumLateSeconds    int64         `yaml:"minimum_late_package_seconds"`
	SyncThresholdSeconds  int64         `yaml:"sync_threshold_seconds"`
	SleepProcessTime      time.Duration `yaml:"sleep_process_time"`
}

// Settings contains the tracker configuration tree layered from defaults,
// environment, an optional YAML file, and flags, lowest precedence first.
type Settings struct {
	RedisURI     string   `yaml:"redis_uri"`
	PostgresDSN  string   `yaml:"postgres_dsn"`
	Scope        string   `yaml:"scope"`
	Environment  string   `yaml:"environment"`
	OTLPEndpoint string   `yaml:"otlp_endpoint"`
	LogLevel     string   `yaml:"log_level"`
	Tunables     Tunables `yaml:"tunables"`
}

// Default returns the recommended configuration.
func Default() Settings {
	return Settings{
		RedisURI:     DefaultRedisURI,
		PostgresDSN:  "",
		Scope:        DefaultScope,
		Environment:  DefaultEnvironment,
		OTLPEndpoint: "",
		LogLevel:     "info",
		Tunables: Tunables{
			ReadTimeout:           DefaultReadTimeout,
			CheckFrequencySeconds: DefaultCheckFrequencySeconds,
			MinimumLateSeconds:    DefaultMinimumLateSeconds,
			SyncThresholdSeconds:  DefaultSyncThresholdSeconds,
			SleepProcessTime:      DefaultSleepProcessTime,
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding
// defaults.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("REDIS_URI")); v != "" {
		cfg.RedisURI = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_SCOPE")); v != "" {
		cfg.Scope = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("TRACKER_READ_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Tunables.ReadTimeout = dur
		}
	}
	return cfg
}

// Load resolves the configuration from the optional YAML file at path (or
// $TRACKER_CONFIG when path is empty) layered over FromEnv. A missing
// explicit file is an error; a missing implicit one is not.
func Load(path string) (Settings, error) {
	cfg := FromEnv()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("TRACKER_CONFIG"))
	}
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithRedisURI overrides the Redis endpoint.
func WithRedisURI(uri string) Option {
	uri = strings.TrimSpace(uri)
	return func(s *Settings) {
		if uri != "" {
			s.RedisURI = uri
		}
	}
}

// WithPostgresDSN overrides the Postgres DSN.
func WithPostgresDSN(dsn string) Option {
	dsn = strings.TrimSpace(dsn)
	return func(s *Settings) {
		if dsn != "" {
			s.PostgresDSN = dsn
		}
	}
}

// WithScope overrides the stream namespace.
func WithScope(scope string) Option {
	scope = strings.TrimSpace(scope)
	return func(s *Settings) {
		if scope != "" {
			s.Scope = scope
		}
	}
}

// WithLogLevel overrides the logging threshold.
func WithLogLevel(level string) Option {
	level = strings.ToLower(strings.TrimSpace(level))
	return func(s *Settings) {
		if level != "" {
			s.LogLevel = level
		}
	}
}

// WithReadTimeout overrides the stream probe window.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Settings) {
		if timeout > 0 {
			s.Tunables.ReadTimeout = timeout
		}
	}
}

// Validate performs semantic validation on the resolved configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.RedisURI) == "" {
		return fmt.Errorf("redis_uri required")
	}
	scope := strings.TrimSpace(s.Scope)
	if scope == "" {
		return fmt.Errorf("scope required")
	}
	if strings.ContainsAny(scope, ": ") {
		return fmt.Errorf("scope %q must not contain ':' or spaces", scope)
	}
	if strings.TrimSpace(s.Environment) == "" {
		return fmt.Errorf("environment required")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug|info|warn|error", s.LogLevel)
	}
	t := s.Tunables
	if t.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be >0")
	}
	if t.CheckFrequencySeconds <= 0 {
		return fmt.Errorf("delayed_check_frequency_seconds must be >0")
	}
	if t.MinimumLateSeconds < 0 {
		return fmt.Errorf("minimum_late_package_seconds must be >=0")
	}
	if t.SyncThresholdSeconds <= 0 {
		return fmt.Errorf("sync_threshold_seconds must be >0")
	}
	if t.SleepProcessTime < 0 {
		return fmt.Errorf("sleep_process_time must be >=0")
	}
	return nil
}
