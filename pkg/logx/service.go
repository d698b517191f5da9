package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat  = "2006-01-02 15:04:05.000"
	defaultPath = "./motorsched.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type Option func(*Service)

// WithConsole redirects the console sink (default os.Stderr; stdout belongs
// to the shell).
func WithConsole(w io.Writer) Option { return func(s *Service) { s.console = w } }

// Service owns the sinks and swaps them on Apply. The file sink is JSON
// lines; the console is human readable.
type Service struct {
	console io.Writer

	mu       sync.Mutex
	cfg      Config
	file     *os.File
	filePath string

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with a Logger bound to it.
func New(cfg Config, opts ...Option) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	s := &Service{console: os.Stderr}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the root logger. The log file is kept open when its path
// did not change. With no sink enabled the console is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, s.consoleWriter())
	}

	path := strings.TrimSpace(cfg.File.Path)
	if path == "" {
		path = defaultPath
	}
	if !cfg.File.Enabled || path != s.filePath {
		s.closeFileLocked()
	}
	if cfg.File.Enabled {
		if s.file == nil {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				fmt.Fprintf(s.console, "logx: open %s: %v\n", path, err)
			} else {
				s.file, s.filePath = f, path
			}
		}
		if s.file != nil {
			sinks = append(sinks, zerolog.SyncWriter(s.file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, s.consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:          s.console,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { c, _ := i.(string); return c },
	}
}

func (s *Service) closeFileLocked() {
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file, s.filePath = nil, ""
}

// Close releases the log file. Loggers keep working on the console.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file, s.filePath = nil, ""
	zl := zerolog.New(s.consoleWriter()).Level(ParseLevel(s.cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// ParseLevel maps a config level name to a zerolog level; unknown or empty
// names mean info.
func ParseLevel(name string) Level {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "warning" {
		n = "warn"
	}
	lvl, err := zerolog.ParseLevel(n)
	if err != nil || n == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
