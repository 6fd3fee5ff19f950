// Package mail is the outbound email boundary: a Sender interface the
// engine depends on, an SMTP implementation for the service binary, and
// the static message builders used by the reset and OTP flows.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Sender delivers messages. Implementations must not log message bodies;
// they carry one-time codes.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends through a plain SMTP relay.
type SMTPSender struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

// Send writes the message synchronously. Context is consulted before the
// dial since net/smtp has no context support.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)

	return smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.To}, []byte(b.String()))
}

// Discard drops every message. Default when no sender is configured, so
// engine flows stay enumeration-safe without a relay.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }
