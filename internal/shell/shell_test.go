package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"motorsched/internal/app"
	"motorsched/internal/device"
	"motorsched/internal/device/devicetest"
	"motorsched/internal/dispatch"
	logx "motorsched/pkg/logx"
)

func newTestShell(t *testing.T, in string) (*Shell, *bytes.Buffer) {
	t.Helper()
	dev := devicetest.New()
	ch := device.New(device.WithOpener(dev.Open))
	ctrl := app.NewController(app.ControllerDeps{
		Channel:    ch,
		Dispatcher: dispatch.New(dispatch.Config{Tick: time.Hour}, ch),
		ListPorts:  func() ([]string, error) { return []string{"/dev/ttyACM0"}, nil },
	})
	t.Cleanup(func() {
		_ = ctrl.Stop(context.Background())
		_ = ctrl.Disconnect()
	})
	var out bytes.Buffer
	return New(ctrl, strings.NewReader(in), &out, Defaults{Port: "/dev/ttyACM0", Baud: 9600}, logx.Nop()), &out
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  list  ", []string{"list"}},
		{"add 13:30 cw 1000", []string{"add", "13:30", "cw", "1000"}},
		{`connect "/dev/serial/by-id/usb Uno" 9600`, []string{"connect", "/dev/serial/by-id/usb Uno", "9600"}},
		{`connect 'COM3' ''`, []string{"connect", "COM3", ""}},
		{`a\ b c`, []string{"a b", "c"}},
	}
	for _, tt := range tests {
		got := tokenize(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		}
	}
}

func TestExecSession(t *testing.T) {
	t.Parallel()
	s, out := newTestShell(t, "")
	ctx := context.Background()

	steps := []struct {
		line string
		want string
	}{
		{"start", "warning: no moves scheduled"},
		{"add 13:30 cw 1000", "added: Time: 13:30, Direction: clockwise, Steps: 1000"},
		{"add 25:00 cw 1", "error: invalid input"},
		{"add 13:30 cw", "error: usage: add"},
		{"start", "warning: not connected to the controller"},
		{"connect", "connected to /dev/ttyACM0 at 9600 baud"},
		{"connect /dev/ttyACM1 115200", "error: failed to connect"},
		{"list", "Time: 13:30, Direction: clockwise, Steps: 1000"},
		{"start", "scheduler started"},
		{"start", "warning: scheduler already running"},
		{"status", "scheduler: running"},
		{"stop", "scheduler stopped"},
		{"clear", "cleared 1 scheduled move(s)"},
		{"ls", "no moves scheduled"},
		{"ports", "/dev/ttyACM0"},
		{"history", "history unavailable"},
		{"frobnicate", "error: unknown command"},
		{"disconnect", "disconnected"},
	}
	for _, st := range steps {
		out.Reset()
		_ = s.Exec(ctx, st.line)
		if !strings.Contains(out.String(), st.want) {
			t.Fatalf("%q printed %q, want it to contain %q", st.line, out.String(), st.want)
		}
	}
}

func TestRunStopsOnQuitAndEOF(t *testing.T) {
	t.Parallel()
	s, out := newTestShell(t, "help\nquit\nlist\n")
	if err := s.Run(context.Background(), context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Commands:") {
		t.Fatalf("help not printed: %q", out.String())
	}
	if strings.Contains(out.String(), "no moves scheduled") {
		t.Fatal("commands after quit were executed")
	}

	s2, _ := newTestShell(t, "list\n")
	if err := s2.Run(context.Background(), context.Background()); err != nil {
		t.Fatalf("Run to EOF: %v", err)
	}
}
