package mailbox

import (
	"fmt"

	"github.com/emersion/go-imap"
)

// MarkSeen adds \Seen to the message with the given UID.
func (s *Session) MarkSeen(uid uint32) error {
	if err := s.addFlag(uid, imap.SeenFlag); err != nil {
		return fmt.Errorf("failed to mark message %d as \\Seen: %w", uid, err)
	}

	s.log.Debug("Message marked as seen", "uid", uid)
	return nil
}

func (s *Session) addFlag(uid uint32, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true) // true = silent update
	flags := []any{flag}

	if err := s.c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}
