package forwarder

import (
	"bufio"
	"bytes"
	"log/slog"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// summary is the part of a message worth logging. Only the header is parsed;
// the message itself is forwarded untouched.
type summary struct {
	From      string
	To        string
	Subject   string
	Date      string
	MessageID string
}

// summarize parses the header of raw. Parse failures go to log and leave the
// defaults in place.
func summarize(log *slog.Logger, raw []byte) summary {
	s := summary{Subject: "(No subject)"}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		log.Debug("Failed to parse message header", "error", err)
		return s
	}
	header := mail.Header{Header: message.Header{Header: h}}

	s.From = firstAddress(header, "From")
	s.To = firstAddress(header, "To")

	// Undecodable subjects fall back to the raw header value.
	if subject, err := header.Subject(); err == nil && subject != "" {
		s.Subject = subject
	} else if rawSubject := header.Get("Subject"); rawSubject != "" {
		s.Subject = rawSubject
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		s.Date = date.UTC().Format("2006-01-02 15:04:05")
	}
	if id, err := header.MessageID(); err == nil {
		s.MessageID = id
	}

	return s
}

func firstAddress(header mail.Header, key string) string {
	addrs, err := header.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return header.Get(key)
	}
	return addrs[0].Address
}

func (s summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("from", s.From),
		slog.String("to", s.To),
		slog.String("subject", s.Subject),
		slog.String("date", s.Date),
		slog.String("message_id", s.MessageID),
	)
}
