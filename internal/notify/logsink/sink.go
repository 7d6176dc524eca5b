// Package logsink is the diagnostic notification channel used when no real mailer is configured.
package logsink

import (
	"context"
	"log/slog"

	"account-auth/internal/notify"
)

// Sink writes reset-link notifications to a structured logger. The link itself, which carries a
// live reset token, is only written when RevealSecrets is set (testing mode).
type Sink struct {
	logger        *slog.Logger
	revealSecrets bool
}

// New returns a Sink writing to logger. A nil logger uses slog.Default().
func New(logger *slog.Logger, revealSecrets bool) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger, revealSecrets: revealSecrets}
}

// SendResetLink logs that a reset link was issued for email. Without RevealSecrets the link reaches
// nobody, so it returns notify.ErrNotConfigured and the caller reports the link as undelivered.
func (s *Sink) SendResetLink(ctx context.Context, email, link string) error {
	attrs := []slog.Attr{slog.String("channel", "log"), slog.String("to", email)}
	if s.revealSecrets {
		attrs = append(attrs, slog.String("link", link))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "password reset link issued", attrs...)
	if !s.revealSecrets {
		return notify.ErrNotConfigured
	}
	return nil
}
