package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meko-christian/imap2smtp/internal/config"
	"github.com/meko-christian/imap2smtp/internal/forwarder"
	"github.com/meko-christian/imap2smtp/internal/mailbox"
	"github.com/meko-christian/imap2smtp/internal/relay"
	"github.com/meko-christian/imap2smtp/internal/web"
)

var errSchedulerDone = errors.New("scheduler finished")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Forward mail on the configured schedule until interrupted",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := slog.Default()
	log.Info("Starting", "version", Version, "sleep", cfg.Common.Sleep.String(), "settings", cfg)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	go handleSignals(ctx, cancel, log)

	return serve(ctx, cfg, log)
}

// serve runs the scheduler and the optional status server until the
// scheduler returns. A cancelled ctx ends the loop without an error.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	tracker := web.NewTracker(runID, time.Now())
	opts := []forwarder.Option{forwarder.WithObserver(tracker)}
	if cfg.Common.Idle {
		opts = append(opts, forwarder.WithNotifier(func(ctx context.Context) <-chan struct{} {
			return mailbox.Watch(ctx, cfg.IMAP, log)
		}))
	}

	webDone := make(chan struct{})
	if cfg.Web.Listen != "" {
		srv := web.NewServer(cfg.Web, tracker, log)
		go func() {
			defer close(webDone)
			if err := srv.Start(ctx); err != nil {
				log.Error("Status server stopped", "error", err)
			}
		}()
	} else {
		close(webDone)
	}

	scheduler := forwarder.NewScheduler(newForwarder(cfg, log), cfg.Common, log, opts...)
	err := scheduler.Serve(ctx)

	cancel(errSchedulerDone)
	<-webDone

	return err
}

// handleSignals turns SIGINT and SIGTERM into a cancellation of ctx.
func handleSignals(ctx context.Context, cancel context.CancelCauseFunc, log *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.Info("Signal received, stopping", "signal", sig.String())
		cancel(fmt.Errorf("received signal %s", sig))
	case <-ctx.Done():
	}
}

func newForwarder(cfg *config.Config, log *slog.Logger) *forwarder.Forwarder {
	dialSource := func() (forwarder.Source, error) {
		s, err := mailbox.Dial(cfg.IMAP, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	dialSink := func() (forwarder.Sink, error) {
		s, err := relay.Dial(cfg.SMTP, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return forwarder.New(cfg, dialSource, dialSink)
}
