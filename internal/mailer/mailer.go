// Package mailer delivers password reset emails
package mailer

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

const resetSubject = "Password Reset Request"

// ResendSender sends mail through the Resend API
type ResendSender struct {
	client *resend.Client
	from   string
	ttl    time.Duration
}

// NewResendSender sends from the given address. ttl is the reset link
// lifetime quoted in the email body.
func NewResendSender(apiKey, from string, ttl time.Duration) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from, ttl: ttl}
}

// WithBaseURL points the client at another API endpoint
func (s *ResendSender) WithBaseURL(base string) (*ResendSender, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid resend base url: %w", err)
	}
	s.client.BaseURL = u
	return s, nil
}

func (s *ResendSender) SendPasswordReset(ctx context.Context, to, username, link string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: resetSubject,
		Html:    resetBody(username, link, s.ttl),
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

func resetBody(username, link string, ttl time.Duration) string {
	return fmt.Sprintf(
		`<p>Hello %s,</p><p>A password reset was requested for your account. Use the link below to choose a new password:</p><p><a href="%s">Reset password</a></p><p>The link expires in %s. If you did not request a reset, ignore this email.</p>`,
		html.EscapeString(username), html.EscapeString(link), expiry(ttl),
	)
}

// expiry renders ttl in whole minutes, at least one
func expiry(ttl time.Duration) string {
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// redactLink drops the query and fragment of a reset link, which carry the
// token
func redactLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	u.RawQuery, u.Fragment, u.User = "", "", nil
	return u.String()
}

// LogSender records reset requests in the log instead of sending them.
// The token never reaches the log.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, to, username, link string) error {
	logger.FromContext(ctx, s.log).Info().
		Str("to", to).
		Str("username", username).
		Str("reset_url", redactLink(link)).
		Msg("Password reset email")
	return nil
}

// Sender is satisfied by every mailer in this package
type Sender interface {
	SendPasswordReset(ctx context.Context, to, username, link string) error
}

// New returns the sender selected by cfg.Provider. resetTTL is the lifetime
// of reset tokens.
func New(cfg config.MailConfig, resetTTL time.Duration, log *logger.Logger) Sender {
	if cfg.Provider == "resend" {
		return NewResendSender(cfg.ResendAPIKey, cfg.From, resetTTL)
	}
	return NewLogSender(log)
}
