package domain

import (
	"errors"
	"time"

	"account-auth/internal/security"
)

// User is the sole account record. Email and Mobile are optional but unique when present;
// a mobile-only record is created lazily by the OTP flow and carries no password.
type User struct {
	ID           string
	Email        string // optional; "" means absent
	PasswordHash string // optional; absent for OTP-only records
	Mobile       string // optional; "" means absent

	// OTPHash and OTPExpiresAt are set and cleared together.
	OTPHash      string
	OTPExpiresAt *time.Time

	// ResetTokenHash and ResetTokenExpiresAt are set and cleared together.
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the projection returned to an authenticated caller. It never carries the password
// hash or ephemeral secrets.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Mobile    string    `json:"mobile,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" && u.Mobile == "" {
		return errors.New("email or mobile is required")
	}
	if (u.OTPHash == "") != (u.OTPExpiresAt == nil) {
		return errors.New("otp and otp expiry must be set together")
	}
	if (u.ResetTokenHash == "") != (u.ResetTokenExpiresAt == nil) {
		return errors.New("reset token and reset token expiry must be set together")
	}
	return nil
}

// SetOTP stores an OTP digest valid until expiresAt, replacing any earlier one.
func (u *User) SetOTP(otpHash string, expiresAt time.Time) {
	u.OTPHash = otpHash
	t := expiresAt.UTC()
	u.OTPExpiresAt = &t
}

// ClearOTP removes the OTP pair.
func (u *User) ClearOTP() {
	u.OTPHash = ""
	u.OTPExpiresAt = nil
}

// OTPValid reports whether otpHash matches the stored digest and has not expired at now.
func (u *User) OTPValid(otpHash string, now time.Time) bool {
	return security.DigestEqual(u.OTPHash, otpHash) && u.OTPExpiresAt != nil && u.OTPExpiresAt.After(now)
}

// SetResetToken stores a reset token digest valid until expiresAt, replacing any earlier one.
func (u *User) SetResetToken(tokenHash string, expiresAt time.Time) {
	u.ResetTokenHash = tokenHash
	t := expiresAt.UTC()
	u.ResetTokenExpiresAt = &t
}

// ClearResetToken removes the reset token pair.
func (u *User) ClearResetToken() {
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = nil
}

// ResetTokenValid reports whether tokenHash matches the stored digest and has not expired at now.
func (u *User) ResetTokenValid(tokenHash string, now time.Time) bool {
	return security.DigestEqual(u.ResetTokenHash, tokenHash) &&
		u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now)
}

// Profile returns the caller-safe projection of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Mobile:    u.Mobile,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Clone returns a deep copy of u so stores can hand out records without sharing pointers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.OTPExpiresAt != nil {
		t := *u.OTPExpiresAt
		c.OTPExpiresAt = &t
	}
	if u.ResetTokenExpiresAt != nil {
		t := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}
