package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaud        = 9600
	DefaultReadTimeout = "1s"
	DefaultTick        = "1s"
	DefaultLogPath     = "./motorsched.log"
	DefaultStorePath   = "./data/motorsched.db"
	DefaultDiagAddr    = "127.0.0.1:6060"
	DefaultDiagPrefix  = "/debug/pprof/"
)

// Config is the on-disk configuration (YAML or JSON, unknown keys rejected).
// All durations are Go duration strings (e.g. "500ms", "1s").
type Config struct {
	Serial      SerialConfig      `json:"serial"`
	Dispatcher  DispatcherConfig  `json:"dispatcher"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// SerialConfig holds connection defaults used by "connect" without
// arguments and by the headless run command.
type SerialConfig struct {
	Port        string `json:"port,omitempty"`
	Baud        int    `json:"baud,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
}

type DispatcherConfig struct {
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA name; empty means host local time
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional dispatch journal.
//
// Example:
//
//	storage: { driver: "sqlite", path: "./data/motorsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retain      int    `json:"retain,omitempty"`       // newest firings kept; 0 keeps all
}

// DiagnosticsConfig controls the optional HTTP listener serving /healthz,
// /metrics and pprof.
//
// Prefer binding to localhost. A non-loopback address requires a token.
type DiagnosticsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token (do not log)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "none"},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaud
	}
	if strings.TrimSpace(c.Serial.ReadTimeout) == "" {
		c.Serial.ReadTimeout = DefaultReadTimeout
	}
	if strings.TrimSpace(c.Dispatcher.Tick) == "" {
		c.Dispatcher.Tick = DefaultTick
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = DefaultLogPath
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "none"
	}
	if c.Storage.Driver != "none" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStorePath
	}
	if strings.TrimSpace(c.Diagnostics.Addr) == "" {
		c.Diagnostics.Addr = DefaultDiagAddr
	}
	if strings.TrimSpace(c.Diagnostics.Prefix) == "" {
		c.Diagnostics.Prefix = DefaultDiagPrefix
	}
}

// Validate checks field values. It collects every problem into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Baud < 0 {
		errs = append(errs, fmt.Errorf("serial.baud: must be > 0"))
	}
	if _, err := c.SerialReadTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DispatcherTick(); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Dispatcher.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := c.StorageBusyTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.Retain < 0 {
		errs = append(errs, fmt.Errorf("storage.retain: must be >= 0"))
	}
	if c.Diagnostics.Enabled && !strings.HasPrefix(strings.TrimSpace(c.Diagnostics.Prefix), "/") {
		errs = append(errs, fmt.Errorf("diagnostics.prefix: must start with '/'"))
	}
	return errors.Join(errs...)
}

func (c *Config) SerialReadTimeout() (time.Duration, error) {
	return readTimeoutField.parse(c.Serial.ReadTimeout)
}

func (c *Config) DispatcherTick() (time.Duration, error) {
	return tickField.parse(c.Dispatcher.Tick)
}

func (c *Config) StorageBusyTimeout() (time.Duration, error) {
	return busyTimeoutField.parse(c.Storage.BusyTimeout)
}
