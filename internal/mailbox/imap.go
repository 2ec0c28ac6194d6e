// Package mailbox wraps an IMAP session on the source mailbox: login,
// UID enumeration, fetching and the flag/copy mutations applied after a
// forward attempt.
package mailbox

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/meko-christian/imap2smtp/internal/config"
)

var (
	// ErrConnect marks transport failures (DNS, refused, TLS handshake).
	ErrConnect = errors.New("imap connection failed")
	// ErrAuth marks a rejected LOGIN.
	ErrAuth = errors.New("imap authentication failed")
	// ErrProtocol marks a non-OK server response to a command.
	ErrProtocol = errors.New("imap protocol error")
)

// Session is one logged-in IMAP connection. It is not safe for concurrent use.
type Session struct {
	c        *client.Client
	log      *slog.Logger
	selected string
	closed   bool
}

// Dial opens a plain or TLS connection to the configured server and logs in.
// The connection is logged out again if authentication fails.
func Dial(cfg config.IMAP, log *slog.Logger) (*Session, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if cfg.SSL {
		c, err = client.DialWithDialerTLS(dialer, cfg.Addr(), &tls.Config{
			ServerName: cfg.Host, // ensures correct certificate validation
		})
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrConnect, cfg.Addr(), err)
	}

	c.Timeout = cfg.Timeout
	c.ErrorLog = slog.NewLogLogger(log.Handler(), slog.LevelWarn)

	log.Debug("IMAP connection opened", "addr", cfg.Addr(), "ssl", cfg.SSL)

	if err := c.Login(cfg.User, cfg.Password); err != nil {
		_ = c.Logout() // clean up if login fails
		return nil, fmt.Errorf("%w: failed to login as %s: %w", ErrAuth, cfg.User, err)
	}

	log.Debug("IMAP login succeeded", "user", cfg.User)

	return &Session{c: c, log: log}, nil
}

// List selects mailbox read-write and returns the UIDs of every message in
// it, in the order the server reported them.
func (s *Session) List(mailbox string) ([]uint32, error) {
	status, err := s.c.Select(mailbox, false) // false = read-write
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select %s: %w", ErrProtocol, mailbox, err)
	}
	s.selected = mailbox

	s.log.Debug("IMAP select succeeded", "mailbox", mailbox, "messages", status.Messages)

	if status.Messages == 0 {
		return nil, nil
	}

	// Empty criteria is SEARCH ALL.
	uids, err := s.c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search %s: %w", ErrProtocol, mailbox, err)
	}

	return uids, nil
}

// Fetch returns the full raw message for uid. BODY.PEEK[] is used so that
// fetching never sets \Seen on its own.
func (s *Session) Fetch(uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var (
		raw     []byte
		readErr error
	)
	for msg := range messages {
		if msg == nil || msg.Uid != uid {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: failed to fetch message %d: %w", ErrProtocol, uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", uid, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: no body returned for message %d", ErrProtocol, uid)
	}

	s.log.Debug("Message fetched", "uid", uid, "size", len(raw))

	return raw, nil
}

// Close closes the selected mailbox and logs out. Only the first call has an
// effect; LOGOUT is sent even if CLOSE fails.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var closeErr error
	if s.selected != "" {
		if err := s.c.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close mailbox %s: %w", s.selected, err)
		}
	}

	if err := s.c.Logout(); err != nil {
		return errors.Join(closeErr, fmt.Errorf("failed to logout: %w", err))
	}

	s.log.Debug("IMAP session closed")

	return closeErr
}
