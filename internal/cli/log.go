package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/car_tracker/internal/config"
	"github.com/relabs-tech/car_tracker/internal/fixlog"
)

func newLogCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the on-device fix log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.FixLog.Enabled() {
				return fmt.Errorf("fix_log.path is not set in %s", *cfgPath)
			}
			l, err := fixlog.New(cfg.FixLog.Path, cfg.FixLog.MaxBytes)
			if err != nil {
				return err
			}
			entries, err := l.Entries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
