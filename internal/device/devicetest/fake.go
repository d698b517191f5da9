// Package devicetest provides an in-memory controller for tests: it accepts
// the serial opener calls and decodes every written line back into a command.
package devicetest

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"motorsched/internal/device"
	"motorsched/internal/move"
)

var ErrClosed = errors.New("fake port closed")

// Device records everything written through any port it opened.
type Device struct {
	mu sync.Mutex

	OpenErr  error // returned by Open when set
	WriteErr error // returned by every Write when set
	CloseErr error

	opens       int
	openName    string
	openBaud    int
	readTimeout time.Duration
	buf         bytes.Buffer
	commands    []move.Command
	bad         [][]byte
	notify      chan struct{}
}

func New() *Device { return &Device{notify: make(chan struct{}, 64)} }

// Open satisfies device.Opener.
func (d *Device) Open(name string, baud int) (device.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.openName = name
	d.openBaud = baud
	return &port{dev: d}, nil
}

// SetWriteErr changes the write failure at runtime.
func (d *Device) SetWriteErr(err error) {
	d.mu.Lock()
	d.WriteErr = err
	d.mu.Unlock()
}

func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Device) LastOpen() (string, int, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openName, d.openBaud, d.readTimeout
}

// Commands returns the decoded commands in write order.
func (d *Device) Commands() []move.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]move.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// Malformed returns lines that failed to decode.
func (d *Device) Malformed() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.bad...)
}

// Received is signalled once per decoded command.
func (d *Device) Received() <-chan struct{} { return d.notify }

func (d *Device) write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return 0, d.WriteErr
	}
	d.buf.Write(p)
	for {
		i := bytes.IndexByte(d.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := append([]byte(nil), d.buf.Next(i+1)...)
		c, err := move.DecodeCommand(line)
		if err != nil {
			d.bad = append(d.bad, line)
			continue
		}
		d.commands = append(d.commands, c)
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

type port struct {
	dev    *Device
	mu     sync.Mutex
	closed bool
}

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return p.dev.write(b)
}

func (p *port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	return p.dev.CloseErr
}

func (p *port) SetReadTimeout(t time.Duration) error {
	p.dev.mu.Lock()
	p.dev.readTimeout = t
	p.dev.mu.Unlock()
	return nil
}
