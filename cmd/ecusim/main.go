package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/ecusim/internal/app"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	flags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "ecusim [can-device]",
		Short: "ECU simulator for UDS, DoIP, and J1939 testing",
		Long: `ecusim simulates automotive ECUs on the diagnostic wire. Each ECU is
described by a simulation file; requests arriving over UDS-on-CAN
(ISO-TP), DoIP, or SAE J1939 are answered as if a real ECU were present.

The optional positional argument names the CAN device (e.g. vcan0).
Without it CAN is disabled and only the DoIP front runs.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulator(flags, args)
		},
	}
	registerRunFlags(rootCmd, flags)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, app.ErrInterrupted) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
