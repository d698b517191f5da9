package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	logx "motorsched/pkg/logx"
)

const validateTimeout = 5 * time.Second

// Validator runs before a reloaded config replaces the current one.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the current Config and republishes it when the file
// changes (see Watch).
type ConfigManager struct {
	path string

	mu     sync.RWMutex
	cfg    *Config
	digest uint64

	subs      subscribers
	log       logx.Logger
	validator Validator
}

// NewConfigManager manages the file at path. An empty path means defaults
// only and Watch returns immediately.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: strings.TrimSpace(path), log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
	m.subs.log = log
}

func (m *ConfigManager) SetValidator(fn Validator) { m.validator = fn }

// Parse reads and decodes the file without committing it. A missing file
// yields Default().
func (m *ConfigManager) Parse() (*Config, error) {
	if m.path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Default(), nil
	case err != nil:
		return nil, err
	}
	return Decode(m.path, b)
}

// Decode parses data as YAML (.yaml/.yml name) or JSON over Default(). Unknown
// keys and trailing documents are errors. The result is validated.
func Decode(name string, data []byte) (*Config, error) {
	raw, format, err := toJSON(name, data)
	if err != nil {
		return nil, err
	}

	// Decoding over the defaults keeps an explicit `console: false`.
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%s config: trailing data after document", format)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses the file and makes it current.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	d := digest(cfg)
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving every committed reload. Only the
// newest config is kept when the reader falls behind.
func (m *ConfigManager) Subscribe(buffer int) chan *Config { return m.subs.add(buffer) }

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) { m.subs.remove(ch) }

// reload re-reads the file and publishes it when its effective content
// changed and the validator accepts it. Failures keep the current config.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.String("path", m.path), logx.Err(err))
		return
	}
	d := digest(cfg)
	m.mu.RLock()
	same := d == m.digest
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.subs.broadcast(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("digest", fmt.Sprintf("%016x", d)))
}

// digest fingerprints the decoded config, so formatting or comment-only
// edits do not count as changes.
func digest(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
