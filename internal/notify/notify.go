// Package notify defines the outbound channels the auth flows dispatch secrets through.
// Dispatch is synchronous and reports failure to the caller, which decides how to degrade.
package notify

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a channel that has no credentials or endpoint configured.
var ErrNotConfigured = errors.New("notify: channel not configured")

// SMSSender delivers a one-time passcode to a mobile number.
type SMSSender interface {
	SendOTP(ctx context.Context, mobile, otp string) error
}

// EmailSender delivers a password reset link to an email address.
type EmailSender interface {
	SendResetLink(ctx context.Context, email, link string) error
}
