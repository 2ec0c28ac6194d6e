// Package forwarder drives forward cycles: it reads every message from the
// source mailbox, submits it to the destination address and applies the
// post-processing that matches the send outcome. Scheduler repeats cycles
// on the configured interval.
package forwarder

import (
	"errors"
	"log/slog"
	"time"

	"github.com/meko-christian/imap2smtp/internal/config"
	"github.com/meko-christian/imap2smtp/internal/relay"
)

var (
	// ErrCycleFailed is returned by RunOnce when the cycle could not complete.
	ErrCycleFailed = errors.New("forward cycle failed")
	// ErrWorkerDied is returned by Serve when a cycle panicked.
	ErrWorkerDied = errors.New("worker terminated unexpectedly")
)

// Source is a logged-in session on the source mailbox. Handles are IMAP UIDs
// and are only valid for the lifetime of the session.
type Source interface {
	List(mailbox string) ([]uint32, error)
	Fetch(uid uint32) ([]byte, error)
	MarkSeen(uid uint32) error
	MoveTo(uid uint32, mailbox string) error
	Expunge() error
	Close() error
}

// Sink is an open submission session.
type Sink interface {
	Send(msg []byte, to string) relay.Outcome
	Close() error
}

type (
	// SourceDialer opens and logs into a new source session.
	SourceDialer func() (Source, error)
	// SinkDialer opens a new, ready to send, submission session.
	SinkDialer func() (Sink, error)
)

// Stats are the per-cycle counters. Skipped counts messages whose fetch
// failed; they are left untouched for the next cycle.
type Stats struct {
	Forwarded int
	Failed    int
	Skipped   int
}

// Report describes one finished cycle.
type Report struct {
	Cycle    uint64
	Started  time.Time
	Finished time.Time
	Stats    Stats
	Err      error
}

// OK reports whether the cycle itself succeeded. Individual message
// failures do not make a cycle fail.
func (r Report) OK() bool {
	return r.Err == nil
}

// Observer is told about every finished cycle.
type Observer interface {
	CycleFinished(Report)
}

// Forwarder runs single cycles. It holds no state between cycles.
type Forwarder struct {
	imap       config.IMAP
	to         string
	dialSource SourceDialer
	dialSink   SinkDialer
}

// New returns a Forwarder for cfg that opens its sessions through the given
// dialers.
func New(cfg *config.Config, dialSource SourceDialer, dialSink SinkDialer) *Forwarder {
	return &Forwarder{
		imap:       cfg.IMAP,
		to:         cfg.SMTP.ForwardAddress,
		dialSource: dialSource,
		dialSink:   dialSink,
	}
}

// sinkConn is the cycle's submission session: not connected until the first
// message needs it, then connected to exactly one session.
type sinkConn struct {
	dial    SinkDialer
	session Sink
}

func (s *sinkConn) ensure(log *slog.Logger) (Sink, error) {
	if s.session != nil {
		return s.session, nil
	}

	session, err := s.dial()
	if err != nil {
		return nil, err
	}
	log.Debug("SMTP logged in")

	s.session = session
	return session, nil
}

func (s *sinkConn) close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
