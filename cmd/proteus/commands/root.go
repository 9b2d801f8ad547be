// Package commands implements the proteus CLI's subcommands.
package commands

import (
	"github.com/spf13/cobra"

	"proteus/internal/log"
)

var logLevel string

// Execute builds and runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "proteus",
		Short: "Inspect and exercise Proteus double-ratchet sessions locally",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(logLevel, "", false)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "warn", "logging level (trace, debug, info, warn, error, critical)")

	root.AddCommand(keygenCmd(), prekeysCmd(), demoCmd())
	return root.Execute()
}
