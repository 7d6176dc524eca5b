package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestUser_Validate(t *testing.T) {
	exp := time.Now()
	cases := []struct {
		name    string
		u       User
		wantErr bool
	}{
		{"email only", User{ID: "1", Email: "a@b.co"}, false},
		{"mobile only", User{ID: "1", Mobile: "9999999999"}, false},
		{"no id", User{Email: "a@b.co"}, true},
		{"no identity", User{ID: "1"}, true},
		{"otp without expiry", User{ID: "1", Mobile: "1", OTPHash: "h"}, true},
		{"otp expiry without otp", User{ID: "1", Mobile: "1", OTPExpiresAt: &exp}, true},
		{"reset without expiry", User{ID: "1", Email: "a@b.co", ResetTokenHash: "h"}, true},
		{"reset pair", User{ID: "1", Email: "a@b.co", ResetTokenHash: "h", ResetTokenExpiresAt: &exp}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.u.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestUser_OTPLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	u := &User{ID: "1", Mobile: "9999999999"}
	if u.OTPValid("h", now) {
		t.Fatal("no OTP set should not be valid")
	}
	u.SetOTP("h", now.Add(5*time.Minute))
	if !u.OTPValid("h", now) {
		t.Error("fresh OTP should be valid")
	}
	if u.OTPValid("other", now) {
		t.Error("wrong digest should not be valid")
	}
	if u.OTPValid("h", now.Add(5*time.Minute)) {
		t.Error("OTP at exactly expiry should not be valid")
	}
	u.ClearOTP()
	if u.OTPHash != "" || u.OTPExpiresAt != nil {
		t.Error("ClearOTP should clear both fields")
	}
	if u.OTPValid("h", now) {
		t.Error("cleared OTP should not be valid")
	}
}

func TestUser_ResetTokenLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	u := &User{ID: "1", Email: "a@b.co"}
	u.SetResetToken("t", now.Add(15*time.Minute))
	if !u.ResetTokenValid("t", now.Add(14*time.Minute)) {
		t.Error("token inside window should be valid")
	}
	if u.ResetTokenValid("t", now.Add(16*time.Minute)) {
		t.Error("token after window should not be valid")
	}
	u.ClearResetToken()
	if u.ResetTokenValid("t", now) {
		t.Error("cleared token should not be valid")
	}
}

func TestUser_ProfileOmitsSecrets(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	u := &User{
		ID: "1", Email: "a@b.co", PasswordHash: "$2a$10$secret",
		OTPHash: "otp", OTPExpiresAt: &exp,
		ResetTokenHash: "reset", ResetTokenExpiresAt: &exp,
	}
	b, err := json.Marshal(u.Profile())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, forbidden := range []string{"password", "$2a$10$secret", "otp", "reset"} {
		if strings.Contains(strings.ToLower(s), forbidden) {
			t.Errorf("profile JSON %s contains %q", s, forbidden)
		}
	}
}

func TestUser_Clone(t *testing.T) {
	orig := time.Now()
	exp := orig
	u := &User{ID: "1", Mobile: "1", OTPHash: "h", OTPExpiresAt: &exp}
	c := u.Clone()
	*u.OTPExpiresAt = orig.Add(time.Hour)
	if !c.OTPExpiresAt.Equal(orig) {
		t.Fatal("clone shares OTP expiry with original")
	}
	if (*User)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
