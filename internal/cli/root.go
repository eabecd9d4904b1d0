// Package cli holds the tracker command tree.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/car_tracker/internal/app"
	"github.com/relabs-tech/car_tracker/internal/config"
)

// Execute runs the CLI.
func Execute() error { return NewRootCommand().Execute() }

// NewRootCommand builds the command tree. Running the root command starts
// the tracker.
func NewRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Vehicle location tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := config.InitGlobal(cfgPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return app.RunTracker(ctx, config.Get())
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "tracker.yaml", "configuration file")

	root.AddCommand(
		newDecodeCommand(),
		newMonitorCommand(&cfgPath),
		newLogCommand(&cfgPath),
	)
	return root
}
