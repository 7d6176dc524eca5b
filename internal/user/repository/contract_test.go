package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"account-auth/internal/user/domain"
)

var contractNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newUser(id, email, mobile string) *domain.User {
	return &domain.User{
		ID:        id,
		Email:     email,
		Mobile:    mobile,
		CreatedAt: contractNow,
		UpdatedAt: contractNow,
	}
}

// runRepositoryContract exercises the behaviour every Repository implementation must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("save and lookups", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "a@example.com", "9000000001")
		u.PasswordHash = "hash"
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		for name, get := range map[string]func() (*domain.User, error){
			"id":     func() (*domain.User, error) { return r.GetByID(ctx, "u1") },
			"email":  func() (*domain.User, error) { return r.GetByEmail(ctx, "a@example.com") },
			"mobile": func() (*domain.User, error) { return r.GetByMobile(ctx, "9000000001") },
		} {
			got, err := get()
			if err != nil {
				t.Fatalf("get by %s: %v", name, err)
			}
			if got == nil || got.ID != "u1" || got.PasswordHash != "hash" {
				t.Fatalf("get by %s: got %+v", name, got)
			}
		}
		for name, get := range map[string]func() (*domain.User, error){
			"id":     func() (*domain.User, error) { return r.GetByID(ctx, "nope") },
			"email":  func() (*domain.User, error) { return r.GetByEmail(ctx, "nope@example.com") },
			"mobile": func() (*domain.User, error) { return r.GetByMobile(ctx, "0") },
			"empty":  func() (*domain.User, error) { return r.GetByEmail(ctx, "") },
		} {
			got, err := get()
			if err != nil || got != nil {
				t.Errorf("missing by %s: got %+v, %v; want nil, nil", name, got, err)
			}
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		r := newRepo(t)
		if err := r.Save(ctx, newUser("u1", "dup@example.com", "")); err != nil {
			t.Fatalf("Save first: %v", err)
		}
		err := r.Save(ctx, newUser("u2", "dup@example.com", ""))
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Save second: want ErrDuplicateKey, got %v", err)
		}
		got, _ := r.GetByEmail(ctx, "dup@example.com")
		if got == nil || got.ID != "u1" {
			t.Fatalf("email owner = %+v, want u1", got)
		}
		if again, _ := r.GetByID(ctx, "u2"); again != nil {
			t.Fatal("rejected record must not be stored")
		}
	})

	t.Run("duplicate mobile rejected", func(t *testing.T) {
		r := newRepo(t)
		if err := r.Save(ctx, newUser("u1", "", "9000000002")); err != nil {
			t.Fatalf("Save first: %v", err)
		}
		if err := r.Save(ctx, newUser("u2", "", "9000000002")); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Save second: want ErrDuplicateKey, got %v", err)
		}
	})

	t.Run("absent identifiers do not collide", func(t *testing.T) {
		r := newRepo(t)
		if err := r.Save(ctx, newUser("m1", "", "9000000003")); err != nil {
			t.Fatalf("Save m1: %v", err)
		}
		if err := r.Save(ctx, newUser("m2", "", "9000000004")); err != nil {
			t.Fatalf("Save m2 with same absent email: %v", err)
		}
		if err := r.Save(ctx, newUser("e1", "e1@example.com", "")); err != nil {
			t.Fatalf("Save e1: %v", err)
		}
		if err := r.Save(ctx, newUser("e2", "e2@example.com", "")); err != nil {
			t.Fatalf("Save e2 with same absent mobile: %v", err)
		}
	})

	t.Run("update replaces indexes", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "old@example.com", "")
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		u.Email = "new@example.com"
		u.Mobile = "9000000005"
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save update: %v", err)
		}
		if old, _ := r.GetByEmail(ctx, "old@example.com"); old != nil {
			t.Error("old email should no longer resolve")
		}
		if got, _ := r.GetByMobile(ctx, "9000000005"); got == nil || got.ID != "u1" {
			t.Errorf("new mobile lookup = %+v", got)
		}
		if err := r.Save(ctx, newUser("u2", "old@example.com", "")); err != nil {
			t.Errorf("released email should be claimable: %v", err)
		}
	})

	t.Run("otp lookup and consume", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "", "9000000006")
		u.SetOTP("otp-digest", contractNow.Add(5*time.Minute))
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got, _ := r.GetByMobileAndValidOTP(ctx, "9000000006", "otp-digest", contractNow); got == nil {
			t.Fatal("valid otp should match")
		}
		if got, _ := r.GetByMobileAndValidOTP(ctx, "9000000006", "wrong", contractNow); got != nil {
			t.Error("wrong otp should not match")
		}
		if got, _ := r.GetByMobileAndValidOTP(ctx, "9000000006", "otp-digest", contractNow.Add(5*time.Minute)); got != nil {
			t.Error("expired otp should not match")
		}
		if got, _ := r.ConsumeOTP(ctx, "9000000006", "otp-digest", contractNow.Add(6*time.Minute)); got != nil {
			t.Error("expired otp should not be consumable")
		}
		got, err := r.ConsumeOTP(ctx, "9000000006", "otp-digest", contractNow.Add(time.Minute))
		if err != nil || got == nil {
			t.Fatalf("ConsumeOTP = %+v, %v", got, err)
		}
		if got.OTPHash != "" || got.OTPExpiresAt != nil {
			t.Error("consumed record must have otp cleared")
		}
		again, err := r.ConsumeOTP(ctx, "9000000006", "otp-digest", contractNow.Add(time.Minute))
		if err != nil || again != nil {
			t.Fatalf("second ConsumeOTP = %+v, %v; want nil", again, err)
		}
		stored, _ := r.GetByID(ctx, "u1")
		if stored.OTPHash != "" || stored.OTPExpiresAt != nil {
			t.Error("stored record must have otp cleared")
		}
	})

	t.Run("reset token lookup and consume", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "r@example.com", "")
		u.PasswordHash = "old-hash"
		u.SetResetToken("reset-digest", contractNow.Add(15*time.Minute))
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got, _ := r.GetByValidResetToken(ctx, "reset-digest", contractNow); got == nil || got.ID != "u1" {
			t.Fatalf("valid token lookup = %+v", got)
		}
		if got, _ := r.GetByValidResetToken(ctx, "reset-digest", contractNow.Add(16*time.Minute)); got != nil {
			t.Error("expired token should not match")
		}
		got, err := r.ConsumeResetToken(ctx, "reset-digest", "new-hash", contractNow.Add(time.Minute))
		if err != nil || got == nil {
			t.Fatalf("ConsumeResetToken = %+v, %v", got, err)
		}
		if got.PasswordHash != "new-hash" || got.ResetTokenHash != "" || got.ResetTokenExpiresAt != nil {
			t.Errorf("consumed record = %+v", got)
		}
		if again, _ := r.ConsumeResetToken(ctx, "reset-digest", "other", contractNow.Add(time.Minute)); again != nil {
			t.Error("reset token must be single-use")
		}
		stored, _ := r.GetByID(ctx, "u1")
		if stored.PasswordHash != "new-hash" {
			t.Errorf("stored password hash = %q", stored.PasswordHash)
		}
	})

	t.Run("concurrent otp consumption succeeds once", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "", "9000000007")
		u.SetOTP("race", contractNow.Add(5*time.Minute))
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := r.ConsumeOTP(ctx, "9000000007", "race", contractNow)
				if err != nil {
					t.Errorf("ConsumeOTP: %v", err)
					return
				}
				if got != nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("otp consumed %d times, want 1", wins.Load())
		}
	})

	t.Run("set otp and reset token keep other fields", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "s@example.com", "9000000008")
		u.PasswordHash = "old-hash"
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := r.SetResetToken(ctx, "u1", "first", contractNow.Add(15*time.Minute), contractNow); err != nil {
			t.Fatalf("SetResetToken: %v", err)
		}
		if got, err := r.ConsumeResetToken(ctx, "first", "new-hash", contractNow); err != nil || got == nil {
			t.Fatalf("ConsumeResetToken = %+v, %v", got, err)
		}

		later := contractNow.Add(time.Minute)
		got, err := r.SetOTP(ctx, "u1", "otp-digest", later.Add(5*time.Minute), later)
		if err != nil || got == nil {
			t.Fatalf("SetOTP = %+v, %v", got, err)
		}
		if got.PasswordHash != "new-hash" || !got.UpdatedAt.Equal(later) {
			t.Errorf("SetOTP result = %+v", got)
		}
		got, err = r.SetResetToken(ctx, "u1", "second", later.Add(15*time.Minute), later)
		if err != nil || got == nil {
			t.Fatalf("SetResetToken = %+v, %v", got, err)
		}

		stored, _ := r.GetByID(ctx, "u1")
		if stored.PasswordHash != "new-hash" {
			t.Errorf("password hash = %q, want new-hash", stored.PasswordHash)
		}
		if !stored.OTPValid("otp-digest", later) || !stored.ResetTokenValid("second", later) {
			t.Errorf("stored record = %+v", stored)
		}
		if old, _ := r.GetByValidResetToken(ctx, "first", later); old != nil {
			t.Error("consumed token should not resolve")
		}
		if cur, _ := r.GetByValidResetToken(ctx, "second", later); cur == nil || cur.ID != "u1" {
			t.Errorf("current token lookup = %+v", cur)
		}
	})

	t.Run("set on unknown id", func(t *testing.T) {
		r := newRepo(t)
		if got, err := r.SetOTP(ctx, "ghost", "d", contractNow.Add(time.Minute), contractNow); err != nil || got != nil {
			t.Errorf("SetOTP = %+v, %v; want nil, nil", got, err)
		}
		if got, err := r.SetResetToken(ctx, "ghost", "d", contractNow.Add(time.Minute), contractNow); err != nil || got != nil {
			t.Errorf("SetResetToken = %+v, %v; want nil, nil", got, err)
		}
		if again, _ := r.GetByID(ctx, "ghost"); again != nil {
			t.Error("set must not create a record")
		}
	})

	t.Run("concurrent reset consumption succeeds once", func(t *testing.T) {
		r := newRepo(t)
		u := newUser("u1", "race@example.com", "")
		u.PasswordHash = "old-hash"
		u.SetResetToken("race", contractNow.Add(15*time.Minute))
		if err := r.Save(ctx, u); err != nil {
			t.Fatalf("Save: %v", err)
		}
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := r.ConsumeResetToken(ctx, "race", "new-hash", contractNow)
				if err != nil {
					t.Errorf("ConsumeResetToken: %v", err)
					return
				}
				if got != nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("reset token consumed %d times, want 1", wins.Load())
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newRepo(t).Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
