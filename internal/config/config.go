package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents <data_dir>/config.toml.
type Config struct {
	DataDir   string          `toml:"data_dir"`
	Log       LogConfig       `toml:"log"`
	Device    DeviceConfig    `toml:"device"`
	Pairing   PairingConfig   `toml:"pairing"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Readiness ReadinessConfig `toml:"readiness"`
	Cache     CacheConfig     `toml:"cache"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Tracing   TracingConfig   `toml:"tracing"`
	Control   ControlConfig   `toml:"control"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DeviceConfig is the identity shown under "Linked devices" on the phone.
type DeviceConfig struct {
	Name string `toml:"name"`
}

type PairingConfig struct {
	Timeout time.Duration `toml:"timeout"`
}

type ReconnectConfig struct {
	MaxRetries     int           `toml:"max_retries"`
	RetryDelay     time.Duration `toml:"retry_delay"`
	SettleDelay    time.Duration `toml:"settle_delay"`
	RestoreOnStart bool          `toml:"restore_on_start"`
}

// ReadinessConfig bounds how long callers wait for a session to come up.
// Fresh applies right after establishing a connection, Existing to a record
// that is already mid-connect.
type ReadinessConfig struct {
	FreshAttempts    uint64        `toml:"fresh_attempts"`
	ExistingAttempts uint64        `toml:"existing_attempts"`
	Interval         time.Duration `toml:"interval"`
}

type CacheConfig struct {
	HistoryLimit int `toml:"history_limit"`
}

type WebhookConfig struct {
	Timeout     time.Duration `toml:"timeout"`
	LogCapacity int           `toml:"log_capacity"`
	QueueSize   int           `toml:"queue_size"`
	Workers     int           `toml:"workers"`
}

type DispatchConfig struct {
	RatePerSecond float64       `toml:"rate_per_second"`
	Burst         int           `toml:"burst"`
	MediaTimeout  time.Duration `toml:"media_timeout"`
	MaxMediaBytes int64         `toml:"max_media_bytes"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type TracingConfig struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter string `toml:"exporter"`
	Endpoint string `toml:"endpoint"`
}

type ControlConfig struct {
	Socket string `toml:"socket"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".wpphub"),
		Log:     LogConfig{Level: "info"},
		Device:  DeviceConfig{Name: "Whatsappeando"},
		Pairing: PairingConfig{Timeout: 120 * time.Second},
		Reconnect: ReconnectConfig{
			MaxRetries:     3,
			RetryDelay:     2 * time.Second,
			SettleDelay:    2 * time.Second,
			RestoreOnStart: true,
		},
		Readiness: ReadinessConfig{
			FreshAttempts:    10,
			ExistingAttempts: 5,
			Interval:         time.Second,
		},
		Cache: CacheConfig{HistoryLimit: 100},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			LogCapacity: 20,
			QueueSize:   256,
			Workers:     2,
		},
		Dispatch: DispatchConfig{
			RatePerSecond: 1,
			Burst:         5,
			MediaTimeout:  30 * time.Second,
			MaxMediaBytes: 64 << 20,
		},
		Metrics: MetricsConfig{Enabled: true, Listen: "127.0.0.1:9477"},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
// Environment overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WPPHUB_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup("WPPHUB_" + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("DEVICE_NAME"); ok {
		c.Device.Name = v
	}
	if v, ok := get("CONTROL_SOCKET"); ok {
		c.Control.Socket = v
	}
	if v, ok := get("METRICS_LISTEN"); ok {
		c.Metrics.Listen = v
	}
	if v, ok := get("TRACING_EXPORTER"); ok {
		c.Tracing.Exporter = v
	}
	if v, ok := get("TRACING_ENDPOINT"); ok {
		c.Tracing.Endpoint = v
	}
	if v, ok := get("PAIRING_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WPPHUB_PAIRING_TIMEOUT: %w", err)
		}
		c.Pairing.Timeout = d
	}
	if v, ok := get("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WPPHUB_MAX_RETRIES: %w", err)
		}
		c.Reconnect.MaxRetries = n
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
