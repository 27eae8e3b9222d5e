// Package mail delivers magic links.  The auth service only knows the Sender
// interface; whether the message reached the inbox is not its concern.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
)

// Sender delivers a magic link to an email address.
type Sender interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

// New returns the sender selected by cfg.Driver.
func New(cfg config.MailConfig, log *zap.Logger) Sender {
	if strings.EqualFold(cfg.Driver, "smtp") {
		return NewSMTPSender(cfg, log)
	}
	return NewLogSender(log)
}

// sendMail is swapped in tests.
var sendMail = smtp.SendMail

// SMTPSender sends plain-text mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	cfg config.MailConfig
	log *zap.Logger
}

func NewSMTPSender(cfg config.MailConfig, log *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log}
}

func (s *SMTPSender) SendMagicLink(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	msg := buildMessage(s.cfg.From, to, s.cfg.Subject, magicLinkBody(link))
	// net/smtp has no context support; a relay that hangs is abandoned
	// when ctx ends and its goroutine exits with the connection.
	send, errc := sendMail, make(chan error, 1)
	go func() { errc <- send(addr, auth, s.cfg.From, []string{to}, msg) }()
	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.log.Error("magic link mail failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send magic link: %w", err)
	}
	s.log.Info("magic link mail sent", zap.String("to", to))
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func magicLinkBody(link string) string {
	return "Use the link below to sign in. It works once and expires in 24 hours.\r\n\r\n" +
		link + "\r\n\r\n" +
		"If you did not ask for this email you can ignore it.\r\n"
}

// LogSender writes the link to the log instead of sending mail.  Local
// development only: the link is a live credential.
type LogSender struct{ log *zap.Logger }

func NewLogSender(log *zap.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) SendMagicLink(_ context.Context, to, link string) error {
	s.log.Info("magic link (log driver)", zap.String("to", to), zap.String("link", link))
	return nil
}
