package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	mail "gopkg.in/mail.v2"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/template"
)

// Email is one rendered outbound message.
type Email struct {
	FromName string
	ReplyTo  string
	To       []string
	Subject  string
	Body     string
}

// MailTransport hands a message to a mail server.
type MailTransport interface {
	Send(ctx context.Context, msg Email) error
}

// EmailExecutor renders subject and body and hands the message to a transport.
type EmailExecutor struct {
	transport MailTransport
}

func NewEmail(transport MailTransport) *EmailExecutor {
	return &EmailExecutor{transport: transport}
}

func (e *EmailExecutor) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	s, err := settingsAs[domain.EmailSettings](domain.ChannelEmail, settings)
	if err != nil {
		return err
	}

	msg := Email{
		FromName: s.FromName,
		ReplyTo:  s.ReplyTo,
		To:       s.Recipients,
		Subject:  template.Render(s.Subject, sub),
		Body:     template.Render(s.Body, sub),
	}
	if err := e.transport.Send(ctx, msg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewChannelError(domain.ChannelEmail, domain.KindTimeout, err)
		}
		return domain.NewChannelError(domain.ChannelEmail, domain.KindDeliveryFailed, err)
	}
	return nil
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport delivers messages through an SMTP relay.
type SMTPTransport struct {
	dialer *mail.Dialer
	from   string
	sender mail.Sender
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	d.RetryFailure = false
	return &SMTPTransport{dialer: d, from: cfg.From}
}

// WithSender bypasses dialing and hands messages to s.
func (t *SMTPTransport) WithSender(s mail.Sender) *SMTPTransport {
	t.sender = s
	return t
}

// Send blocks until the relay accepts the message or ctx is done. A send that
// is abandoned on cancellation may still complete in the background.
func (t *SMTPTransport) Send(ctx context.Context, msg Email) error {
	m := t.buildMessage(msg)

	done := make(chan error, 1)
	go func() {
		if t.sender != nil {
			done <- mail.Send(t.sender, m)
			return
		}
		done <- t.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SMTPTransport) buildMessage(msg Email) *mail.Message {
	m := mail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", t.from, msg.FromName)
	} else {
		m.SetHeader("From", t.from)
	}
	m.SetHeader("To", msg.To...)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}
