// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers invite and password reset messages.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	"github.com/wneessen/go-mail"
)

// Paths of the frontend pages that receive the token.
const (
	RegisterPath      = "/register"
	PasswordResetPath = "/password-reset"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
	URL     string
}

// Renderer builds localized invite and reset messages.
type Renderer struct {
	baseURL string
}

// NewRenderer creates a Renderer for links below baseURL.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Invite renders the registration email.
func (r *Renderer) Invite(ctx context.Context, to, rawToken string, expiresAt time.Time) Message {
	return r.render(ctx, "email_invite", RegisterPath, to, rawToken, expiresAt)
}

// PasswordReset renders the password reset email.
func (r *Renderer) PasswordReset(ctx context.Context, to, rawToken string, expiresAt time.Time) Message {
	return r.render(ctx, "email_reset", PasswordResetPath, to, rawToken, expiresAt)
}

func (r *Renderer) render(ctx context.Context, key, path, to, rawToken string, expiresAt time.Time) Message {
	link := r.link(path, rawToken, to)
	return Message{
		To:      to,
		Subject: i18n.T(ctx, key+"_subject"),
		Body: i18n.TData(ctx, key+"_body", map[string]any{
			"URL":       link,
			"Token":     rawToken,
			"ExpiresAt": expiresAt.UTC().Format(time.RFC1123),
		}),
		URL: link,
	}
}

func (r *Renderer) link(path, rawToken, to string) string {
	q := url.Values{}
	q.Set("token", rawToken)
	q.Set("email", to)
	return r.baseURL + path + "?" + q.Encode()
}

// Service sends email via SMTP.
type Service struct {
	*Renderer
	cfg *config.SMTPConfig
}

// NewService creates a new SMTP email service.
func NewService(cfg *config.SMTPConfig, baseURL string) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{
		Renderer: NewRenderer(baseURL),
		cfg:      cfg,
	}, nil
}

// SendInvite mails a registration token.
func (s *Service) SendInvite(ctx context.Context, to, rawToken string, expiresAt time.Time) error {
	return s.send(ctx, s.Invite(ctx, to, rawToken, expiresAt))
}

// SendPasswordReset mails a password reset token.
func (s *Service) SendPasswordReset(ctx context.Context, to, rawToken string, expiresAt time.Time) error {
	return s.send(ctx, s.PasswordReset(ctx, to, rawToken, expiresAt))
}

// BuildMsg converts m into a go-mail message with the configured sender.
func (s *Service) BuildMsg(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}

// clientOptions maps the SMTP config onto go-mail options.
func (s *Service) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// implicit TLS on 465, STARTTLS elsewhere
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func (s *Service) send(ctx context.Context, m Message) error {
	msg, err := s.BuildMsg(m)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	slog.DebugContext(ctx, "email_sent", "to", m.To, "subject", m.Subject)
	return nil
}

// LogSender writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogSender struct {
	*Renderer
}

// NewLogSender creates a LogSender.
func NewLogSender(baseURL string) *LogSender {
	return &LogSender{Renderer: NewRenderer(baseURL)}
}

// SendInvite logs the invite link.
func (l *LogSender) SendInvite(ctx context.Context, to, rawToken string, expiresAt time.Time) error {
	l.log(ctx, "invite", l.Invite(ctx, to, rawToken, expiresAt))
	return nil
}

// SendPasswordReset logs the reset link.
func (l *LogSender) SendPasswordReset(ctx context.Context, to, rawToken string, expiresAt time.Time) error {
	l.log(ctx, "password_reset", l.PasswordReset(ctx, to, rawToken, expiresAt))
	return nil
}

func (l *LogSender) log(ctx context.Context, kind string, m Message) {
	slog.InfoContext(ctx, "email_logged",
		"kind", kind,
		"to", m.To,
		"subject", m.Subject,
		"url", m.URL,
	)
}
