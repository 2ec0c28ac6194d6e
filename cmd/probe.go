package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meko-christian/imap2smtp/internal/relay"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a test message to the forward address",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := slog.Default()

		from := cfg.SMTP.ForwardAddress
		if strings.Contains(cfg.SMTP.User, "@") {
			from = cfg.SMTP.User
		}

		msg, err := relay.ProbeMessage(from, cfg.SMTP.ForwardAddress, time.Now())
		if err != nil {
			return err
		}

		session, err := relay.Dial(cfg.SMTP, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				log.Warn("Failed to close SMTP session", "error", err)
			}
		}()

		outcome := session.Send(msg, cfg.SMTP.ForwardAddress)
		if outcome.Kind != relay.Delivered {
			return fmt.Errorf("probe not accepted: %s", outcome)
		}

		log.Info("Probe accepted", "to", cfg.SMTP.ForwardAddress, "from", from)
		fmt.Printf("Probe sent to %s\n", cfg.SMTP.ForwardAddress)
		return nil
	},
}
