package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"taskhub/internal/runtime"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type emailPayload struct {
	To      string `json:"to_email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// EmailBuilder returns a job that sends one email through the given sender.
func EmailBuilder(sender Sender) Builder {
	return func(payload json.RawMessage) (runtime.UnitOfWork, error) {
		var p emailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid email payload: %w", err)
		}
		if p.To == "" || !strings.Contains(p.To, "@") {
			return nil, fmt.Errorf("valid to_email is required")
		}

		return func(ctx context.Context) error {
			return sender.Send(ctx, p.To, p.Subject, p.Message)
		}, nil
	}
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	Addr string // host:port
	From string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{Addr: addr, From: from}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.From, to, subject, body)
	if err := smtp.SendMail(s.Addr, nil, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
