package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meko-christian/imap2smtp/internal/forwarder"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single forward cycle and exit",
	Long: `Run exactly one forward cycle regardless of common.sleep. The exit status
is 0 when the cycle completed and 1 when it could not.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := slog.Default()
		return forwarder.NewScheduler(newForwarder(cfg, log), cfg.Common, log).RunOnce()
	},
}
