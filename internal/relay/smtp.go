// Package relay submits fetched messages to the destination address over
// SMTP and classifies the server's answer.
package relay

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/meko-christian/imap2smtp/internal/config"
)

// ErrConnect marks a failure to establish a usable submission session
// (transport, STARTTLS or authentication).
var ErrConnect = errors.New("smtp connection failed")

// Session is one SMTP connection reused for every message of a cycle.
// It is not safe for concurrent use.
type Session struct {
	c       *smtp.Client
	lenient bool
	log     *slog.Logger
	closed  bool
}

// Dial connects to the submission server, upgrades with STARTTLS when
// configured and authenticates when both user and password are set.
func Dial(cfg config.SMTP, log *slog.Logger) (*Session, error) {
	return dial(cfg, &tls.Config{ServerName: cfg.Host}, log)
}

func dial(cfg config.SMTP, tlsConfig *tls.Config, log *slog.Logger) (*Session, error) {
	conn, err := net.DialTimeout("tcp", cfg.Addr(), cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrConnect, cfg.Addr(), err)
	}

	log.Debug("SMTP connection opened", "addr", cfg.Addr())

	// Bounds the greeting and handshake; the client sets its own deadlines
	// per command afterwards.
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, err := greet(conn, cfg, tlsConfig, log)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	_ = conn.SetDeadline(time.Time{})
	c.CommandTimeout = cfg.Timeout
	c.SubmissionTimeout = cfg.Timeout

	if err := authenticate(c, cfg, log); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	return &Session{c: c, lenient: cfg.LenientErrors, log: log}, nil
}

// greet returns a client that has completed EHLO, and STARTTLS when
// configured. NewClientStartTLS sends its own EHLO, so Hello is only
// called on the plain path.
func greet(conn net.Conn, cfg config.SMTP, tlsConfig *tls.Config, log *slog.Logger) (*smtp.Client, error) {
	if cfg.StartTLS {
		c, err := smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
		log.Debug("STARTTLS succeeded")
		return c, nil
	}

	c := smtp.NewClient(conn)
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		if err := c.Hello(hostname); err != nil {
			return nil, fmt.Errorf("failed to greet server: %w", err)
		}
	}
	log.Debug("SMTP is in PLAIN (no STARTTLS)")
	return c, nil
}

func authenticate(c *smtp.Client, cfg config.SMTP, log *slog.Logger) error {
	if !cfg.HasAuth() {
		log.Debug("No login given for SMTP")
		return nil
	}

	if err := c.Auth(sasl.NewPlainClient("", cfg.User, cfg.Password)); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	log.Debug("SMTP login succeeded", "user", cfg.User)

	return nil
}

// Send submits msg unchanged for the single recipient to. The envelope
// sender is taken from the message headers. A failed transaction is reset so
// the session stays usable for the next message.
func (s *Session) Send(msg []byte, to string) Outcome {
	from := envelopeSender(msg)

	err := s.transaction(from, to, msg)
	if err != nil {
		if resetErr := s.c.Reset(); resetErr != nil {
			s.log.Debug("Failed to reset SMTP transaction", "error", resetErr)
		}
	}

	outcome := Classify(err, s.lenient)
	if outcome.Kind == Delivered && outcome.Err != nil {
		s.log.Warn("Ignoring uncoded SMTP error, message considered sent", "to", to, "error", outcome.Err)
	}

	return outcome
}

func (s *Session) transaction(from, to string, msg []byte) error {
	if err := s.c.Mail(from, nil); err != nil {
		return fmt.Errorf("failed to set sender %q: %w", from, err)
	}

	if err := s.c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("recipient %s refused: %w", to, err)
	}

	w, err := s.c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	s.log.Debug("Message sent", "from", from, "to", to, "size", len(msg))
	return nil
}

// Close sends QUIT, dropping the connection if that fails. Only the first
// call has an effect.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.c.Quit(); err != nil {
		return errors.Join(fmt.Errorf("failed to quit: %w", err), s.c.Close())
	}

	s.log.Debug("SMTP session closed")
	return nil
}
