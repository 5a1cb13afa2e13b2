package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/ecusim/internal/app"
)

type runFlags struct {
	simsDir     string
	logLevel    string
	logFile     string
	monitorAddr string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [can-device]",
		Short: "Run the simulator",
		Long: `Run every ECU defined in the simulation directory.

The optional positional argument names the CAN device (e.g. vcan0) used
for the ISO-TP and J1939 fronts. Without it CAN is disabled and only
the DoIP front runs.

Press Ctrl+C to stop the simulator.`,
		Example: `  # DoIP only
  ecusim run

  # All fronts on vcan0
  ecusim run vcan0

  # With the live dispatch monitor
  ecusim run vcan0 --monitor 127.0.0.1:8090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulator(flags, args)
		},
	}
	registerRunFlags(cmd, flags)

	return cmd
}

func registerRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.simsDir, "sims", "./sims", "Simulation files directory")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level: silent|error|info|verbose|debug")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Also write logs to this file")
	cmd.Flags().StringVar(&flags.monitorAddr, "monitor", "", "Serve the WebSocket dispatch monitor on this address")
}

func runSimulator(flags *runFlags, args []string) error {
	device := ""
	if len(args) > 0 {
		device = args[0]
	}
	return app.Run(app.Options{
		SimsDir:     flags.simsDir,
		Device:      device,
		LogLevel:    flags.logLevel,
		LogFile:     flags.logFile,
		MonitorAddr: flags.monitorAddr,
	})
}
