package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meko-christian/imap2smtp/internal/metrics"
	"github.com/meko-christian/imap2smtp/internal/relay"
)

// Run performs one forward cycle: log into the source, forward every listed
// message, expunge and close both sessions. An error is returned only when
// the cycle itself failed (source connect, list, sink connect or expunge);
// per-message failures are counted in Stats.
func (f *Forwarder) Run(log *slog.Logger) (Stats, error) {
	var stats Stats

	src, err := f.dialSource()
	if err != nil {
		log.Error("IMAP failed", "error", err)
		return stats, fmt.Errorf("failed to open source session: %w", err)
	}
	log.Debug("IMAP logged in")

	sink := &sinkConn{dial: f.dialSink}
	defer f.closeSessions(log, src, sink)

	uids, err := src.List(f.imap.Mailbox)
	if err != nil {
		log.Error("Failed to get list of messages", "mailbox", f.imap.Mailbox, "error", err)
		return stats, fmt.Errorf("failed to list messages: %w", err)
	}
	log.Debug("Messages listed", "mailbox", f.imap.Mailbox, "count", len(uids))

	var cycleErr error
	for _, uid := range uids {
		if err := f.forwardOne(log.With("uid", uid), src, sink, uid, &stats); err != nil {
			log.Error("SMTP failed", "error", err)
			cycleErr = fmt.Errorf("failed to open sink session: %w", err)
			break
		}
	}

	if err := src.Expunge(); err != nil {
		log.Error("Failed to expunge mailbox", "mailbox", f.imap.Mailbox, "error", err)
		cycleErr = errors.Join(cycleErr, fmt.Errorf("failed to expunge: %w", err))
	}

	log.Info("stats",
		"to", f.to,
		"forward_success", stats.Forwarded,
		"forward_failure", stats.Failed,
		"skipped", stats.Skipped)

	return stats, cycleErr
}

// forwardOne handles a single message. The returned error is only set when
// the sink session could not be opened, which aborts the cycle.
func (f *Forwarder) forwardOne(log *slog.Logger, src Source, sink *sinkConn, uid uint32, stats *Stats) error {
	raw, err := src.Fetch(uid)
	if err != nil {
		log.Error("Error while fetching message, continue", "error", err)
		stats.Skipped++
		metrics.MessagesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	if log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("Message", "msg", summarize(log, raw))
	}

	session, err := sink.ensure(log)
	if err != nil {
		return err
	}

	outcome := session.Send(raw, f.to)
	f.postprocess(log, src, uid, outcome, stats)

	return nil
}

// closeSessions releases both sessions. It runs on every exit path after the
// source session was opened.
func (f *Forwarder) closeSessions(log *slog.Logger, src Source, sink *sinkConn) {
	if err := src.Close(); err != nil {
		log.Warn("Failed to close IMAP session", "error", err)
	} else {
		log.Debug("IMAP closed")
	}

	if sink.session == nil {
		return
	}
	if err := sink.close(); err != nil {
		log.Warn("Failed to close SMTP session", "error", err)
	} else {
		log.Debug("SMTP closed")
	}
}

// postprocess counts the outcome and applies the matching mailbox mutation.
// Temporary failures leave the message untouched so it is retried next cycle.
func (f *Forwarder) postprocess(log *slog.Logger, src Source, uid uint32, outcome relay.Outcome, stats *Stats) {
	metrics.MessagesTotal.WithLabelValues(outcome.Kind.String()).Inc()

	switch outcome.Kind {
	case relay.Delivered:
		stats.Forwarded++
		log.Info("Message forwarded", "to", f.to)

		if f.imap.MarkAsSeen {
			if err := src.MarkSeen(uid); err != nil {
				log.Error("Failed to mark message as seen", "error", err)
				metrics.PostProcessErrors.WithLabelValues("mark_seen").Inc()
				return
			}
		}
		if f.imap.MoveToMailbox != "" {
			f.move(log, src, uid, f.imap.MoveToMailbox)
		}

	case relay.TemporaryFailure:
		stats.Failed++
		log.Error("Failed to forward message, temporary error",
			codeAttr(outcome), "error", outcome.Err)

	case relay.PermanentFailure:
		stats.Failed++
		log.Error("Failed to forward message, permanent error",
			codeAttr(outcome), "error", outcome.Err)

		// Never marked seen: the message leaves the retry pool by moving only.
		if f.imap.MoveToMailboxFailed != "" {
			f.move(log, src, uid, f.imap.MoveToMailboxFailed)
		}
	}
}

func (f *Forwarder) move(log *slog.Logger, src Source, uid uint32, target string) {
	if err := src.MoveTo(uid, target); err != nil {
		log.Error("Failed to move message", "mailbox", target, "error", err)
		metrics.PostProcessErrors.WithLabelValues("move").Inc()
		return
	}
	log.Debug("Message moved", "mailbox", target)
}

func codeAttr(o relay.Outcome) slog.Attr {
	if o.Code == 0 {
		return slog.String("smtp_code", "none")
	}
	return slog.Int("smtp_code", o.Code)
}
