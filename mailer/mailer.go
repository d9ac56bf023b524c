// Package mailer delivers authpwn verification and password reset links over
// SMTP.
package mailer

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

// Config holds SMTP configuration for sending emails
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// LoadConfig reads the SMTP configuration from environment variables
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing SMTP_HOST environment variable")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP_PORT environment variable")
	}
	if c.From == "" {
		return fmt.Errorf("missing SMTP_FROM environment variable")
	}
	return nil
}

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender implements authpwn.SendEmail
type SMTPSender struct {
	From   string
	Dialer Dialer
	Logger *slog.Logger
}

// NewSMTPSender creates a sender that dials the configured SMTP server
func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{
		From:   cfg.From,
		Dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *SMTPSender) SendVerificationEmail(to string, verificationLink string) error {
	return s.send(to, "Verify your email address",
		"Please verify your email by clicking: "+verificationLink)
}

func (s *SMTPSender) SendPasswordResetEmail(to string, resetLink string) error {
	return s.send(to, "Reset your password",
		"Reset your password by clicking: "+resetLink+"\n\nIf you did not ask for this, ignore this message.")
}

func (s *SMTPSender) send(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("no recipients specified")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := s.Dialer.DialAndSend(msg); err != nil {
		s.logger().Error("failed to send email", "subject", subject, "err", err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
