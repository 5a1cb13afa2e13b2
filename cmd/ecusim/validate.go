package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/ecusim/internal/app"
	"github.com/tturner/ecusim/internal/logging"
)

func newValidateCmd() *cobra.Command {
	var simsDir string

	cmd := &cobra.Command{
		Use:   "validate-sim",
		Short: "Validate a simulation directory",
		Long: `Load every simulation file and build each ECU's request trees without
starting any protocol front. Malformed request keys are reported as
warnings; duplicate trailing-wildcard patterns fail the ECU.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(logging.LogLevelError, "")
			if err != nil {
				return err
			}
			defer logger.Close()

			if err := app.Validate(simsDir, logger); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Simulations OK: %s\n", simsDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&simsDir, "sims", "./sims", "Simulation files directory")
	return cmd
}
