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

func newMonitorCommand(cfgPath *string) *cobra.Command {
	var broker, topic string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print fixes published on the cellular topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cellular := cfg.Cellular
			if broker != "" {
				cellular.Broker = broker
			}
			if topic != "" {
				cellular.Topic = topic
			}
			if err := cellular.Validate(); err != nil {
				return fmt.Errorf("cellular: %w", err)
			}
			return app.RunMonitor(ctx, cellular, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "", "override cellular.broker")
	cmd.Flags().StringVar(&topic, "topic", "", "override cellular.topic")
	return cmd
}
