package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"

	"github.com/meko-christian/imap2smtp/internal/config"
)

// idlePollInterval is used by servers without IDLE support.
const idlePollInterval = time.Minute

// Watch opens a dedicated read-only session on the configured mailbox and
// signals on the returned channel whenever the server reports a mailbox
// update. The channel is closed once ctx ends or the session fails; the
// session is logged out before that happens.
func Watch(ctx context.Context, cfg config.IMAP, log *slog.Logger) <-chan struct{} {
	signals := make(chan struct{}, 1)

	go func() {
		defer close(signals)

		if err := watch(ctx, cfg, log, signals); err != nil {
			log.Warn("IMAP watcher stopped", "error", err)
		}
	}()

	return signals
}

func watch(ctx context.Context, cfg config.IMAP, log *slog.Logger, signals chan<- struct{}) error {
	s, err := Dial(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debug("Failed to close IMAP watcher session", "error", err)
		}
	}()

	if _, err := s.c.Select(cfg.Mailbox, true); err != nil {
		return fmt.Errorf("%w: failed to examine %s: %w", ErrProtocol, cfg.Mailbox, err)
	}
	s.selected = cfg.Mailbox

	// Buffered so the client can deliver the final updates while IDLE winds down.
	updates := make(chan client.Update, 64)
	s.c.Updates = updates
	// IDLE outlives any per-command timeout.
	s.c.Timeout = 0

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(s.c).IdleWithFallback(stop, idlePollInterval)
	}()

	log.Debug("Watching mailbox for new mail", "mailbox", cfg.Mailbox)

	for {
		select {
		case <-ctx.Done():
			close(stop)
			return drainUntilDone(updates, done)
		case err := <-done:
			if err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			return nil
		case update := <-updates:
			u, ok := update.(*client.MailboxUpdate)
			if !ok {
				continue
			}
			log.Debug("Mailbox update received", "messages", u.Mailbox.Messages)
			select {
			case signals <- struct{}{}:
			default:
			}
		}
	}
}

func drainUntilDone(updates <-chan client.Update, done <-chan error) error {
	for {
		select {
		case <-updates:
		case err := <-done:
			if err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			return nil
		}
	}
}
