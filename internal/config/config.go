// Package config loads vitalsync configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when VITALSYNC_CONFIG_PATH is unset.
const DefaultConfigPath = "config/vitalsync.yaml"

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Queue     QueueConfig     `yaml:"queue"`
	Remote    RemoteConfig    `yaml:"remote"`
	Transport TransportConfig `yaml:"transport"`
	Flush     FlushConfig     `yaml:"flush"`
	Device    DeviceConfig    `yaml:"device"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// QueueConfig contains local write queue settings.
type QueueConfig struct {
	DBPath     string `yaml:"db_path"`
	Capacity   int    `yaml:"capacity"`
	WarnAt     int    `yaml:"warn_at"`
	StorageKey string `yaml:"storage_key"`
}

// RemoteConfig locates the remote list.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	List    string `yaml:"list"`
	APIKey  string `yaml:"-"` // env-only, never in YAML
}

// TransportConfig contains retry settings for remote calls.
type TransportConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseDelay      Duration `yaml:"base_delay"`
	MaxJitter      Duration `yaml:"max_jitter"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// FlushConfig contains flush cycle and worker settings.
type FlushConfig struct {
	ChunkSize        int      `yaml:"chunk_size"`
	Concurrency      int      `yaml:"concurrency"`
	AutoInterval     Duration `yaml:"auto_interval"`
	ProbeInterval    Duration `yaml:"probe_interval"`
	HistoryRetention Duration `yaml:"history_retention"` // zero keeps all history
	SummaryMode      string   `yaml:"summary_mode"`
}

// DeviceConfig is stamped on every record this device writes.
type DeviceConfig struct {
	ID        string `yaml:"id"` // generated and persisted when empty
	Source    string `yaml:"source"`
	CreatedBy string `yaml:"created_by"`
	TimeZone  string `yaml:"time_zone"`
}

// ServerConfig contains dev list server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Lists           []string `yaml:"lists"`
	AutoCreateLists bool     `yaml:"auto_create_lists"`
	WriteBurst      int      `yaml:"write_burst"`
	WriteRefill     Duration `yaml:"write_refill"`
	APIKey          string   `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	return load(getEnv("VITALSYNC_CONFIG_PATH", DefaultConfigPath), false)
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, mustExist bool) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err) && !mustExist:
		// Missing file is OK; use defaults
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Queue: QueueConfig{
			DBPath:     "data/vitalsync.db",
			Capacity:   500,
			WarnAt:     400,
			StorageKey: "vitalsync.queue.v1",
		},
		Remote: RemoteConfig{
			List: "vitals",
		},
		Transport: TransportConfig{
			MaxAttempts:    4,
			BaseDelay:      Duration(600 * time.Millisecond),
			MaxJitter:      Duration(200 * time.Millisecond),
			RequestTimeout: Duration(30 * time.Second),
		},
		Flush: FlushConfig{
			ChunkSize:        100,
			Concurrency:      3,
			AutoInterval:     Duration(5 * time.Minute),
			ProbeInterval:    Duration(30 * time.Second),
			HistoryRetention: Duration(30 * 24 * time.Hour),
			SummaryMode:      "live",
		},
		Device: DeviceConfig{
			Source: "vitalsync",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			Lists:           []string{"vitals"},
			WriteBurst:      100,
			WriteRefill:     Duration(100 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty, parseable env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Queue
	envString("VITALSYNC_DB_PATH", &cfg.Queue.DBPath)
	envInt("VITALSYNC_QUEUE_CAPACITY", &cfg.Queue.Capacity)
	envInt("VITALSYNC_QUEUE_WARN_AT", &cfg.Queue.WarnAt)

	// Remote
	envString("VITALSYNC_REMOTE_URL", &cfg.Remote.BaseURL)
	envString("VITALSYNC_REMOTE_LIST", &cfg.Remote.List)
	envString("VITALSYNC_API_KEY", &cfg.Remote.APIKey)

	// Transport
	envInt("VITALSYNC_MAX_ATTEMPTS", &cfg.Transport.MaxAttempts)
	envDuration("VITALSYNC_BASE_DELAY", &cfg.Transport.BaseDelay)
	envDuration("VITALSYNC_MAX_JITTER", &cfg.Transport.MaxJitter)
	envDuration("VITALSYNC_REQUEST_TIMEOUT", &cfg.Transport.RequestTimeout)

	// Flush
	envInt("VITALSYNC_CHUNK_SIZE", &cfg.Flush.ChunkSize)
	envInt("VITALSYNC_CONCURRENCY", &cfg.Flush.Concurrency)
	envDuration("VITALSYNC_AUTO_INTERVAL", &cfg.Flush.AutoInterval)
	envDuration("VITALSYNC_PROBE_INTERVAL", &cfg.Flush.ProbeInterval)
	envDuration("VITALSYNC_HISTORY_RETENTION", &cfg.Flush.HistoryRetention)
	envString("VITALSYNC_SUMMARY_MODE", &cfg.Flush.SummaryMode)

	// Device
	envString("VITALSYNC_DEVICE_ID", &cfg.Device.ID)
	envString("VITALSYNC_SOURCE", &cfg.Device.Source)
	envString("VITALSYNC_CREATED_BY", &cfg.Device.CreatedBy)
	envString("VITALSYNC_TIME_ZONE", &cfg.Device.TimeZone)

	// Server
	envInt("VITALSYNC_PORT", &cfg.Server.Port)
	envDuration("VITALSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("VITALSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("VITALSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("VITALSYNC_SERVER_API_KEY", &cfg.Server.APIKey)
	if v := os.Getenv("VITALSYNC_SERVER_LISTS"); v != "" {
		cfg.Server.Lists = splitList(v)
	}
	if v := os.Getenv("VITALSYNC_SERVER_AUTO_CREATE_LISTS"); v != "" {
		cfg.Server.AutoCreateLists = v == "true" || v == "1"
	}

	// Log
	envString("VITALSYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("VITALSYNC_LOG_FORMAT", &cfg.Log.Format)
}

// validate checks value ranges.
func (c *Config) validate() error {
	switch {
	case c.Queue.Capacity < 1:
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	case c.Queue.WarnAt < 1 || c.Queue.WarnAt > c.Queue.Capacity:
		return fmt.Errorf("queue.warn_at must be in [1, %d], got %d", c.Queue.Capacity, c.Queue.WarnAt)
	case c.Transport.MaxAttempts < 1:
		return fmt.Errorf("transport.max_attempts must be at least 1, got %d", c.Transport.MaxAttempts)
	case c.Transport.BaseDelay < 0 || c.Transport.MaxJitter < 0:
		return fmt.Errorf("transport delays must not be negative")
	case c.Flush.ChunkSize < 1:
		return fmt.Errorf("flush.chunk_size must be positive, got %d", c.Flush.ChunkSize)
	case c.Flush.Concurrency < 1:
		return fmt.Errorf("flush.concurrency must be positive, got %d", c.Flush.Concurrency)
	}

	if c.Flush.SummaryMode != "live" && c.Flush.SummaryMode != "demo" {
		return fmt.Errorf("flush.summary_mode must be live or demo, got %q", c.Flush.SummaryMode)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Device.TimeZone != "" {
		if _, err := time.LoadLocation(c.Device.TimeZone); err != nil {
			return fmt.Errorf("device.time_zone: %w", err)
		}
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
