package relay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
)

// Kind is the classification of one send attempt.
type Kind int

const (
	// Delivered means the server accepted the message.
	Delivered Kind = iota
	// TemporaryFailure leaves the message untouched for the next cycle.
	TemporaryFailure
	// PermanentFailure is a 5xx reply; the message is moved aside if configured.
	PermanentFailure
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case TemporaryFailure:
		return "temporary"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of Session.Send. Code is the SMTP reply code, or 0
// when the error carried none.
type Outcome struct {
	Kind Kind
	Code int
	Err  error
}

func (o Outcome) String() string {
	if o.Code != 0 {
		return fmt.Sprintf("%s (%d)", o.Kind, o.Code)
	}
	return o.Kind.String()
}

// Classify maps a send error onto an Outcome. Coded replies of 500 and above
// are permanent, lower codes temporary. Uncoded errors are temporary unless
// lenient is set, in which case the message counts as delivered.
func Classify(err error, lenient bool) Outcome {
	if err == nil {
		return Outcome{Kind: Delivered}
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code > 0 {
		if smtpErr.Code >= 500 {
			return Outcome{Kind: PermanentFailure, Code: smtpErr.Code, Err: err}
		}
		return Outcome{Kind: TemporaryFailure, Code: smtpErr.Code, Err: err}
	}

	if lenient {
		return Outcome{Kind: Delivered, Err: err}
	}
	return Outcome{Kind: TemporaryFailure, Err: err}
}

// envelopeSender picks the reverse path from the Sender header, falling back
// to From. An empty string yields the null reverse path.
func envelopeSender(msg []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(msg)))
	if err != nil {
		return ""
	}

	header := mail.Header{Header: message.Header{Header: h}}
	for _, key := range []string{"Sender", "From"} {
		addrs, err := header.AddressList(key)
		if err == nil && len(addrs) > 0 {
			return addrs[0].Address
		}
	}

	return ""
}
