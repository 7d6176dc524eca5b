package repository

import (
	"context"
	"errors"
	"time"

	"account-auth/internal/user/domain"
)

// ErrDuplicateKey is returned by Save when another record already holds the email or mobile.
var ErrDuplicateKey = errors.New("duplicate key")

// Repository defines persistence for user records. Lookups return (nil, nil) when no record
// matches; errors are reserved for storage failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByMobile(ctx context.Context, mobile string) (*domain.User, error)
	// GetByMobileAndValidOTP matches only when the stored OTP digest equals otpHash and its expiry is after now.
	GetByMobileAndValidOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error)
	// GetByValidResetToken matches only when the stored reset digest equals tokenHash and its expiry is after now.
	GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)
	// Save inserts or replaces the record by ID. Returns ErrDuplicateKey if the email or mobile is
	// held by a different record.
	Save(ctx context.Context, u *domain.User) error
	// SetOTP stores an OTP digest on an existing record, touching only the OTP pair and updated_at.
	// Returns the updated record, or nil if id is unknown.
	SetOTP(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (*domain.User, error)
	// SetResetToken stores a reset digest on an existing record, touching only the reset pair and
	// updated_at. Returns the updated record, or nil if id is unknown.
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt, now time.Time) (*domain.User, error)
	// ConsumeOTP atomically matches a valid OTP for mobile and clears it. Returns the updated
	// record, or nil if nothing matched. Concurrent callers with the same OTP see at most one match.
	ConsumeOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error)
	// ConsumeResetToken atomically matches a valid reset token, replaces the password hash and
	// clears the token. Returns the updated record, or nil if nothing matched.
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (*domain.User, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
