package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"motorsched/internal/app"
	logx "motorsched/pkg/logx"
)

var (
	runPort  string
	runBaud  int
	runMoves []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler headless until interrupted",
	Long: `Connect, schedule the given moves and fire them until SIGINT/SIGTERM.
Intended for systemd: readiness is reported with sd_notify once started.

Examples:
  motorsched run --port /dev/ttyUSB0 --move 07:30,cw,1000 --move 19:30,ccw,1000
  motorsched run -c /etc/motorsched.yaml --move 12:00,clockwise,200
`,
	RunE: runHeadless,
}

func init() {
	runCmd.Flags().StringVarP(&runPort, "port", "p", "", "serial port (defaults to serial.port from config)")
	runCmd.Flags().IntVarP(&runBaud, "baud", "b", 0, "baud rate (defaults to serial.baud from config)")
	runCmd.Flags().StringArrayVarP(&runMoves, "move", "m", nil, "scheduled move as HH:MM,direction,steps (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// splitMove parses "HH:MM,direction,steps".
func splitMove(raw string) (string, string, string, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("move %q: want HH:MM,direction,steps", raw)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func runHeadless(cmd *cobra.Command, _ []string) error {
	if len(runMoves) == 0 {
		return errors.New("at least one --move is required")
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	log := a.Logger()
	stop := func(reason app.StopReason) error {
		a.NotifyStopping()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		return a.Stop(stopCtx, reason)
	}

	if err := scheduleMoves(a, log); err != nil {
		_ = stop(app.StopFatalError)
		return err
	}
	a.NotifyReady()

	select {
	case <-ctx.Done():
		return stop(app.StopSignal)
	case <-a.Done():
		_ = stop(app.StopFatalError)
		return errors.New("scheduler stopped unexpectedly")
	}
}

func scheduleMoves(a *app.App, log logx.Logger) error {
	cfg := a.Config()
	port, baud := cfg.Serial.Port, cfg.Serial.Baud
	if runPort != "" {
		port = runPort
	}
	if runBaud > 0 {
		baud = runBaud
	}
	if port == "" {
		return errors.New("no serial port: pass --port or set serial.port")
	}

	ctrl := a.Controller()
	if err := ctrl.Connect(port, baud); err != nil {
		return err
	}
	for _, raw := range runMoves {
		t, d, s, err := splitMove(raw)
		if err != nil {
			return err
		}
		if _, err := ctrl.Add(t, d, s); err != nil {
			return fmt.Errorf("move %q: %w", raw, err)
		}
	}
	if err := ctrl.Start(a.Context()); err != nil {
		return err
	}
	log.Info("headless scheduler running", logx.String("port", port), logx.Int("baud", baud), logx.Int("moves", len(runMoves)))
	return nil
}
