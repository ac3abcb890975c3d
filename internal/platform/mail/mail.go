// Package mail delivers outbound email. Delivery is fire-and-forget: callers
// must not let a send failure corrupt state they have already committed.
package mail

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message to a recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls SMTP delivery.
type Config struct {
	Addr     string `env:"FORTRESS_SMTP_ADDR"`
	Username string `env:"FORTRESS_SMTP_USERNAME"`
	Password string `env:"FORTRESS_SMTP_PASSWORD"`
	From     string `env:"FORTRESS_SMTP_FROM" envDefault:"noreply@localhost"`
}

// LoadConfigFromEnv loads SMTP configuration.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg
}

// NewSenderFromEnv returns an SMTP sender when an address is configured, and a
// log-only sender otherwise so local development works without a mail server.
func NewSenderFromEnv() Sender {
	cfg := LoadConfigFromEnv()
	if strings.TrimSpace(cfg.Addr) == "" {
		return &LogSender{}
	}
	return &SMTPSender{Config: cfg}
}

// SMTPSender delivers mail over SMTP with plain auth.
type SMTPSender struct {
	Config Config
}

// Send delivers one message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("recipient is required")
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", s.Config.From)
	fmt.Fprintf(&body, "To: %s\r\n", to)
	fmt.Fprintf(&body, "Subject: %s\r\n", msg.Subject)
	body.WriteString("MIME-Version: 1.0\r\n")
	body.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	body.WriteString("\r\n")
	body.WriteString(msg.HTML)

	var auth smtp.Auth
	if s.Config.Username != "" {
		host := s.Config.Addr
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Config.Username, s.Config.Password, host)
	}
	if err := smtp.SendMail(s.Config.Addr, auth, s.Config.From, []string{to}, []byte(body.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender writes message metadata to the process log instead of delivering.
type LogSender struct{}

// Send logs the message. The body is omitted because it contains the magic link.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("mail: would send %q to %s", msg.Subject, msg.To)
	return nil
}
