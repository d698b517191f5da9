package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"motorsched/internal/device"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := device.ListPorts()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
