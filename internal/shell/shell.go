// Package shell is the interactive front end: a line-oriented REPL over an
// io.Reader/io.Writer pair that drives the app Controller.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"motorsched/internal/app"
	"motorsched/internal/device"
	"motorsched/internal/move"
	"motorsched/internal/storage"
	logx "motorsched/pkg/logx"
)

const defaultHistory = 10

// Controller is what the shell drives. *app.Controller implements it.
type Controller interface {
	Connect(port string, baud int) error
	Disconnect() error
	Add(rawTime, rawDirection, rawSteps string) (move.Entry, error)
	Render() string
	Clear() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() app.Status
	Ports() ([]string, error)
	History(ctx context.Context, n int) ([]storage.Record, error)
}

// Defaults pre-fill "connect" when arguments are omitted.
type Defaults struct {
	Port string
	Baud int
}

type command struct {
	usage string
	desc  string
	run   func(ctx context.Context, args []string) error
}

type Shell struct {
	ctrl     Controller
	in       io.Reader
	out      io.Writer
	log      logx.Logger
	defaults Defaults
	prompt   string
	// runCtx bounds the dispatcher loop; it outlives individual commands.
	runCtx context.Context

	cmds  map[string]command
	alias map[string]string
}

var errQuit = errors.New("quit")

func New(ctrl Controller, in io.Reader, out io.Writer, defaults Defaults, log logx.Logger) *Shell {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Shell{ctrl: ctrl, in: in, out: out, log: log, defaults: defaults, prompt: "motorsched> "}
	s.cmds = map[string]command{
		"connect":    {"connect [port] [baud]", "open the serial link to the controller", s.cmdConnect},
		"disconnect": {"disconnect", "close the serial link", s.cmdDisconnect},
		"add":        {"add <HH:MM> <cw|ccw|clockwise|counterclockwise> <steps>", "schedule a daily move", s.cmdAdd},
		"list":       {"list", "show scheduled moves", s.cmdList},
		"clear":      {"clear", "remove every scheduled move", s.cmdClear},
		"start":      {"start", "start firing scheduled moves", s.cmdStart},
		"stop":       {"stop", "stop firing scheduled moves", s.cmdStop},
		"status":     {"status", "show connection and scheduler state", s.cmdStatus},
		"ports":      {"ports", "list serial ports", s.cmdPorts},
		"history":    {"history [n]", "show the last n fired moves", s.cmdHistory},
		"help":       {"help", "show this help", s.cmdHelp},
		"quit":       {"quit", "stop and exit", func(context.Context, []string) error { return errQuit }},
	}
	s.alias = map[string]string{"exit": "quit", "ls": "list", "?": "help"}
	return s
}

// Run reads commands until quit, EOF or ctx ends. runCtx is handed to the
// dispatcher on start.
func (s *Shell) Run(ctx, runCtx context.Context) error {
	s.runCtx = runCtx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	s.printf("Motor scheduler. Type 'help' for commands.\n")
	for {
		s.printf("%s", s.prompt)
		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case err := <-readErr:
			s.printf("\n")
			return err
		case line := <-lines:
			if err := s.Exec(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
		}
	}
}

// Exec runs one command line and prints its outcome. It returns errQuit
// for quit and the command error otherwise (already printed).
func (s *Shell) Exec(ctx context.Context, line string) error {
	toks := tokenize(line)
	if len(toks) == 0 {
		return nil
	}
	name := strings.ToLower(toks[0])
	if canon, ok := s.alias[name]; ok {
		name = canon
	}
	cmd, ok := s.cmds[name]
	if !ok {
		s.printf("error: unknown command %q (try 'help')\n", toks[0])
		return fmt.Errorf("unknown command %q", toks[0])
	}
	err := cmd.run(ctx, toks[1:])
	switch {
	case err == nil, errors.Is(err, errQuit):
	case app.IsWarning(err):
		s.printf("warning: %s\n", warningText(err))
	default:
		s.printf("error: %v\n", err)
	}
	return err
}

func (s *Shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func warningText(err error) string {
	var w interface{ Unwrap() error }
	if errors.As(err, &w) && w.Unwrap() != nil {
		return w.Unwrap().Error()
	}
	return err.Error()
}

func usageErr(c command) error { return fmt.Errorf("usage: %s", c.usage) }

func (s *Shell) cmdConnect(_ context.Context, args []string) error {
	port, baud := s.defaults.Port, s.defaults.Baud
	if len(args) > 2 {
		return usageErr(s.cmds["connect"])
	}
	if len(args) >= 1 {
		port = args[0]
	}
	if len(args) == 2 {
		b, err := strconv.Atoi(args[1])
		if err != nil || b <= 0 {
			return fmt.Errorf("invalid baud rate %q", args[1])
		}
		baud = b
	}
	if strings.TrimSpace(port) == "" {
		return usageErr(s.cmds["connect"])
	}
	if err := s.ctrl.Connect(port, baud); err != nil {
		var ce *device.ConnectionError
		if errors.As(err, &ce) {
			return fmt.Errorf("failed to connect: %w", ce.Err)
		}
		return err
	}
	s.printf("connected to %s at %d baud\n", port, baud)
	return nil
}

func (s *Shell) cmdDisconnect(ctx context.Context, _ []string) error {
	if s.ctrl.Status().Running {
		if err := s.ctrl.Stop(ctx); err != nil {
			return err
		}
		s.printf("scheduler stopped\n")
	}
	if err := s.ctrl.Disconnect(); err != nil {
		return err
	}
	s.printf("disconnected\n")
	return nil
}

func (s *Shell) cmdAdd(_ context.Context, args []string) error {
	if len(args) != 3 {
		return usageErr(s.cmds["add"])
	}
	e, err := s.ctrl.Add(args[0], args[1], args[2])
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	s.printf("added: %s\n", e)
	return nil
}

func (s *Shell) cmdList(context.Context, []string) error {
	out := s.ctrl.Render()
	if out == "" {
		s.printf("no moves scheduled\n")
		return nil
	}
	s.printf("%s", out)
	return nil
}

func (s *Shell) cmdClear(context.Context, []string) error {
	n := s.ctrl.Clear()
	s.printf("cleared %d scheduled move(s)\n", n)
	return nil
}

func (s *Shell) cmdStart(context.Context, []string) error {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ctrl.Start(ctx); err != nil {
		return err
	}
	s.printf("scheduler started\n")
	return nil
}

func (s *Shell) cmdStop(ctx context.Context, _ []string) error {
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.ctrl.Stop(stopCtx); err != nil {
		return err
	}
	s.printf("scheduler stopped\n")
	return nil
}

func (s *Shell) cmdStatus(context.Context, []string) error {
	st := s.ctrl.Status()
	if st.Connected {
		s.printf("device:    connected to %s at %d baud\n", st.Port, st.Baud)
	} else {
		s.printf("device:    not connected\n")
	}
	state := "stopped"
	if st.Running {
		state = "running"
	}
	s.printf("scheduler: %s (%s)\n", state, st.Timezone)
	s.printf("entries:   %d\n", st.Entries)
	for _, t := range st.Triggers {
		s.printf("  %s next %s\n", t.Entry, t.Next.Format("2006-01-02 15:04"))
	}
	return nil
}

func (s *Shell) cmdPorts(context.Context, []string) error {
	ports, err := s.ctrl.Ports()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		s.printf("no serial ports found\n")
		return nil
	}
	for _, p := range ports {
		s.printf("%s\n", p)
	}
	return nil
}

func (s *Shell) cmdHistory(ctx context.Context, args []string) error {
	n := defaultHistory
	if len(args) > 1 {
		return usageErr(s.cmds["history"])
	}
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = v
	}
	recs, err := s.ctrl.History(ctx, n)
	if errors.Is(err, storage.ErrDisabled) {
		s.printf("history unavailable: storage is disabled\n")
		return nil
	}
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		s.printf("no moves fired yet\n")
		return nil
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %s %s %d -> %s", r.FiredAt.Format("2006-01-02 15:04:05"), r.Scheduled, r.Direction, r.Steps, r.Result)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		s.printf("%s\n", line)
	}
	return nil
}

func (s *Shell) cmdHelp(context.Context, []string) error {
	names := make([]string, 0, len(s.cmds))
	for n := range s.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	s.printf("Commands:\n")
	for _, n := range names {
		c := s.cmds[n]
		s.printf("  %-58s %s\n", c.usage, c.desc)
	}
	return nil
}
