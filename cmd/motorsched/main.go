package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"motorsched/internal/app"
	"motorsched/internal/shell"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "motorsched",
	Short: "Schedule daily stepper motor moves over a serial link",
	Long: `motorsched sends timed move commands to a microcontroller driving a
stepper motor. Each scheduled move fires once a day at its HH:MM time and is
written to the serial port as one JSON line.

Without a subcommand an interactive shell is started.`,
	SilenceUsage: true,
	RunE:         runShell,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive shell (default)",
	RunE:  runShell,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./motorsched.yaml", "path to config file (yaml or json; missing file uses defaults)")
	rootCmd.AddCommand(shellCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runShell(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	cfg := a.Config()
	sh := shell.New(a.Controller(), cmd.InOrStdin(), cmd.OutOrStdout(),
		shell.Defaults{Port: cfg.Serial.Port, Baud: cfg.Serial.Baud}, a.Logger())
	// The scheduler loop follows the signal context, not the app supervisor.
	runErr := sh.Run(ctx, ctx)

	reason := app.StopQuit
	if ctx.Err() != nil {
		reason = app.StopSignal
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return runErr
}
