package forwarder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/meko-christian/imap2smtp/internal/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawMessage(uid uint32) []byte {
	return []byte(fmt.Sprintf("From: sender@example.com\r\nSubject: message %d\r\n\r\nbody %d\r\n", uid, uid))
}

// fakeMailbox is server-side mailbox state shared by every session opened
// on it, so it survives across cycles.
type fakeMailbox struct {
	inbox   []uint32
	seen    map[uint32]bool
	deleted map[uint32]bool
	folders map[string][]uint32

	loginErr   error
	listErr    error
	expungeErr error
	markErr    error
	fetchErr   map[uint32]error

	dials     int
	closes    int
	fetches   int
	expunges  int
	mutations int
}

func newFakeMailbox(uids ...uint32) *fakeMailbox {
	return &fakeMailbox{
		inbox:    uids,
		seen:     map[uint32]bool{},
		deleted:  map[uint32]bool{},
		folders:  map[string][]uint32{},
		fetchErr: map[uint32]error{},
	}
}

func (m *fakeMailbox) dial() (Source, error) {
	m.dials++
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &fakeSession{m: m}, nil
}

type fakeSession struct {
	m      *fakeMailbox
	closed bool
}

func (s *fakeSession) List(_ string) ([]uint32, error) {
	if s.m.listErr != nil {
		return nil, s.m.listErr
	}
	return slices.Clone(s.m.inbox), nil
}

func (s *fakeSession) Fetch(uid uint32) ([]byte, error) {
	s.m.fetches++
	if err := s.m.fetchErr[uid]; err != nil {
		return nil, err
	}
	return rawMessage(uid), nil
}

func (s *fakeSession) MarkSeen(uid uint32) error {
	s.m.mutations++
	if s.m.markErr != nil {
		return s.m.markErr
	}
	s.m.seen[uid] = true
	return nil
}

func (s *fakeSession) MoveTo(uid uint32, mailbox string) error {
	s.m.mutations++
	s.m.folders[mailbox] = append(s.m.folders[mailbox], uid)
	s.m.deleted[uid] = true
	return nil
}

func (s *fakeSession) Expunge() error {
	s.m.expunges++
	if s.m.expungeErr != nil {
		return s.m.expungeErr
	}
	s.m.inbox = slices.DeleteFunc(s.m.inbox, func(uid uint32) bool { return s.m.deleted[uid] })
	return nil
}

func (s *fakeSession) Close() error {
	if s.closed {
		return errors.New("session closed twice")
	}
	s.closed = true
	s.m.closes++
	return nil
}

// fakeRelay answers every send with the outcome configured for the message,
// Delivered by default.
type fakeRelay struct {
	outcomes map[string]relay.Outcome
	dialErr  error

	dials  int
	closes int
	sent   []string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{outcomes: map[string]relay.Outcome{}}
}

func (r *fakeRelay) answer(uid uint32, o relay.Outcome) {
	r.outcomes[string(rawMessage(uid))] = o
}

func (r *fakeRelay) dial() (Sink, error) {
	r.dials++
	if r.dialErr != nil {
		return nil, r.dialErr
	}
	return &fakeSink{r: r}, nil
}

type fakeSink struct {
	r *fakeRelay
}

func (s *fakeSink) Send(msg []byte, to string) relay.Outcome {
	s.r.sent = append(s.r.sent, to)
	if o, ok := s.r.outcomes[string(msg)]; ok {
		return o
	}
	return relay.Outcome{Kind: relay.Delivered}
}

func (s *fakeSink) Close() error {
	s.r.closes++
	return nil
}
