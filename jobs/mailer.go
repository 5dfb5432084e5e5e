package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Message is a plain-text mail.
type Message struct {
	To      []string
	Subject string
	Body    string
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer delivers messages through a relay.
type SMTPMailer struct {
	from   string
	client mailSender
}

const smtpTimeout = 15 * time.Second

// NewSMTPMailer constructs a mailer. Empty credentials disable AUTH, which is
// what local relays such as Mailpit expect.
func NewSMTPMailer(host string, port int, from, username, password string) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(smtpTimeout),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password))
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: client for %s: %w", host, err)
	}
	return &SMTPMailer{from: from, client: client}, nil
}

// Send writes the message to the relay.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if m == nil || m.client == nil {
		return errors.New("mailer: not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := m.compose(msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) compose(msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("mailer: no recipients")
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, errors.New("mailer: subject contains line breaks")
	}
	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return nil, fmt.Errorf("mailer: sender %q: %w", m.from, err)
	}
	if err := out.To(msg.To...); err != nil {
		return nil, fmt.Errorf("mailer: recipients: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetDate()
	out.SetMessageID()
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}
