package relay

import (
	"bytes"
	"fmt"
	"os"
	"time"

	gomail "gopkg.in/gomail.v2"
)

// ProbeMessage composes a short plain-text test message addressed to to.
// It is submitted through a regular Session to check the forwarding path
// end to end.
func ProbeMessage(from, to string, now time.Time) ([]byte, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "[imap2smtp] Probe")
	msg.SetHeader("Message-ID", fmt.Sprintf("<%d.probe@%s>", now.UnixNano(), hostname))
	msg.SetDateHeader("Date", now)
	msg.SetBody("text/plain", fmt.Sprintf(
		"This is a probe sent by imap2smtp on %s at %s.\n\nIf you can read this, forwarding to %s works.\n",
		hostname, now.Format(time.RFC1123Z), to))

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to compose probe message: %w", err)
	}

	return buf.Bytes(), nil
}
