package mailbox

import (
	"fmt"

	"github.com/emersion/go-imap"
)

// MoveTo copies the message into target and flags it \Deleted in the
// selected mailbox, where it stays until Expunge runs.
func (s *Session) MoveTo(uid uint32, target string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	if err := s.c.UidCopy(seqset, target); err != nil {
		return fmt.Errorf("%w: failed to copy message %d to %s: %w", ErrProtocol, uid, target, err)
	}

	if err := s.addFlag(uid, imap.DeletedFlag); err != nil {
		return fmt.Errorf("failed to flag message %d as \\Deleted: %w", uid, err)
	}

	s.log.Debug("Message moved", "uid", uid, "mailbox", target)
	return nil
}

// Expunge permanently removes every message flagged \Deleted in the
// selected mailbox.
func (s *Session) Expunge() error {
	if err := s.c.Expunge(nil); err != nil {
		return fmt.Errorf("%w: failed to expunge %s: %w", ErrProtocol, s.selected, err)
	}

	s.log.Debug("Mailbox expunged", "mailbox", s.selected)
	return nil
}
