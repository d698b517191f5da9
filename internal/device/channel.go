// Package device owns the serial link to the stepper-motor controller.
//
// The link is write-only in practice: each move is one JSON line, nothing is
// read back, nothing is retried.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"motorsched/internal/move"
	logx "motorsched/pkg/logx"
)

// DefaultReadTimeout is applied on open. Nothing is read back, but the
// controller firmware expects the port configured this way.
const DefaultReadTimeout = time.Second

// Port is the subset of serial.Port the channel needs.
type Port interface {
	io.WriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenSerial opens a real serial port in 8N1 mode.
func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPorts returns the serial ports visible to the OS.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrInvalidPort      = errors.New("port name required")
	ErrInvalidBaud      = errors.New("baud rate must be a positive integer")
)

// ConnectionError is returned when the port cannot be opened or closed.
// The channel is always left closed afterwards, so retrying Connect is safe.
type ConnectionError struct {
	Op   string // "open" | "close"
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Option func(*Channel)

// WithOpener replaces the serial opener (tests use an in-memory device).
func WithOpener(o Opener) Option { return func(c *Channel) { c.open = o } }

func WithLogger(log logx.Logger) Option { return func(c *Channel) { c.log = log } }

func WithReadTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// Channel holds at most one open connection.
type Channel struct {
	mu sync.Mutex

	open        Opener
	readTimeout time.Duration
	log         logx.Logger

	port Port
	name string
	baud int
}

func New(opts ...Option) *Channel {
	c := &Channel{open: OpenSerial, readTimeout: DefaultReadTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// Connect opens name at baud. It fails if a connection is already open.
func (c *Channel) Connect(name string, baud int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ConnectionError{Op: "open", Port: name, Err: ErrInvalidPort}
	}
	if baud <= 0 {
		return &ConnectionError{Op: "open", Port: name, Err: ErrInvalidBaud}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return &ConnectionError{Op: "open", Port: name, Err: fmt.Errorf("%w to %s", ErrAlreadyConnected, c.name)}
	}

	p, err := c.open(name, baud)
	if err != nil {
		c.log.Warn("serial open failed", logx.String("port", name), logx.Int("baud", baud), logx.Err(err))
		return &ConnectionError{Op: "open", Port: name, Err: err}
	}
	if err := p.SetReadTimeout(c.readTimeout); err != nil {
		_ = p.Close()
		return &ConnectionError{Op: "open", Port: name, Err: fmt.Errorf("set read timeout: %w", err)}
	}

	c.port = p
	c.name = name
	c.baud = baud
	c.log.Info("serial connected", logx.String("port", name), logx.Int("baud", baud))
	return nil
}

// Disconnect closes the port. Calling it while closed is a no-op.
// The handle is released even when Close fails.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	p, name := c.port, c.name
	c.port = nil
	c.name = ""
	c.baud = 0
	c.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.Close(); err != nil {
		c.log.Warn("serial close failed", logx.String("port", name), logx.Err(err))
		return &ConnectionError{Op: "close", Port: name, Err: err}
	}
	c.log.Info("serial disconnected", logx.String("port", name))
	return nil
}

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	open := c.port != nil
	c.mu.Unlock()
	return open
}

// Port returns the open port name and baud rate ("" and 0 when closed).
func (c *Channel) Port() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.baud
}

// Send writes one command line. When not connected it does nothing and
// reports sent=false. No response is read and nothing is retried; a failed
// write is returned to the caller.
func (c *Channel) Send(ctx context.Context, dir move.Direction, steps int) (sent bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	line, err := move.Command{Direction: dir, Steps: steps}.Encode()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return false, nil
	}
	if _, err := c.port.Write(line); err != nil {
		return false, fmt.Errorf("write %s: %w", c.name, err)
	}
	c.log.Debug("command written", logx.String("port", c.name), logx.String("direction", dir.String()), logx.Int("steps", steps))
	return true, nil
}
