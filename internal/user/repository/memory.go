package repository

import (
	"context"
	"sync"
	"time"

	"account-auth/internal/user/domain"
)

// MemoryRepository is an in-process Repository. Every operation holds a single mutex, so
// uniqueness checks and consume operations are atomic. Records are copied in and out.
type MemoryRepository struct {
	mu       sync.Mutex
	byID     map[string]*domain.User
	byEmail  map[string]string
	byMobile map[string]string
}

// NewMemoryRepository returns an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		byMobile: make(map[string]string),
	}
}

// GetByID returns the user for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id].Clone(), nil
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[r.byEmail[email]].Clone(), nil
}

// GetByMobile returns the user with the given mobile, or nil if not found.
func (r *MemoryRepository) GetByMobile(ctx context.Context, mobile string) (*domain.User, error) {
	if mobile == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[r.byMobile[mobile]].Clone(), nil
}

// GetByMobileAndValidOTP returns the user for mobile when otpHash is current, or nil.
func (r *MemoryRepository) GetByMobileAndValidOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.matchOTP(mobile, otpHash, now)
	return u.Clone(), nil
}

// GetByValidResetToken returns the user holding tokenHash when it is current, or nil.
func (r *MemoryRepository) GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchResetToken(tokenHash, now).Clone(), nil
}

// Save inserts or replaces u by ID, enforcing email and mobile uniqueness.
func (r *MemoryRepository) Save(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Email != "" {
		if owner, ok := r.byEmail[u.Email]; ok && owner != u.ID {
			return ErrDuplicateKey
		}
	}
	if u.Mobile != "" {
		if owner, ok := r.byMobile[u.Mobile]; ok && owner != u.ID {
			return ErrDuplicateKey
		}
	}
	if prev, ok := r.byID[u.ID]; ok {
		if prev.Email != u.Email {
			delete(r.byEmail, prev.Email)
		}
		if prev.Mobile != u.Mobile {
			delete(r.byMobile, prev.Mobile)
		}
	}
	r.byID[u.ID] = u.Clone()
	if u.Email != "" {
		r.byEmail[u.Email] = u.ID
	}
	if u.Mobile != "" {
		r.byMobile[u.Mobile] = u.ID
	}
	return nil
}

// SetOTP replaces the OTP pair of user id. Returns the updated user, or nil if id is unknown.
func (r *MemoryRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.byID[id]
	if u == nil {
		return nil, nil
	}
	u.SetOTP(otpHash, expiresAt)
	u.UpdatedAt = now.UTC()
	return u.Clone(), nil
}

// SetResetToken replaces the reset token pair of user id. Returns the updated user, or nil if id is unknown.
func (r *MemoryRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.byID[id]
	if u == nil {
		return nil, nil
	}
	u.SetResetToken(tokenHash, expiresAt)
	u.UpdatedAt = now.UTC()
	return u.Clone(), nil
}

// ConsumeOTP clears a matching, unexpired OTP and returns the updated user, or nil.
func (r *MemoryRepository) ConsumeOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.matchOTP(mobile, otpHash, now)
	if u == nil {
		return nil, nil
	}
	u.ClearOTP()
	u.UpdatedAt = now.UTC()
	return u.Clone(), nil
}

// ConsumeResetToken replaces the password of the user holding a current tokenHash and clears
// the token. Returns the updated user, or nil.
func (r *MemoryRepository) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.matchResetToken(tokenHash, now)
	if u == nil {
		return nil, nil
	}
	u.PasswordHash = newPasswordHash
	u.ClearResetToken()
	u.UpdatedAt = now.UTC()
	return u.Clone(), nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// matchOTP and matchResetToken return the stored pointer; callers hold r.mu.
func (r *MemoryRepository) matchOTP(mobile, otpHash string, now time.Time) *domain.User {
	if mobile == "" || otpHash == "" {
		return nil
	}
	u := r.byID[r.byMobile[mobile]]
	if u == nil || !u.OTPValid(otpHash, now) {
		return nil
	}
	return u
}

func (r *MemoryRepository) matchResetToken(tokenHash string, now time.Time) *domain.User {
	if tokenHash == "" {
		return nil
	}
	for _, u := range r.byID {
		if u.ResetTokenValid(tokenHash, now) {
			return u
		}
	}
	return nil
}
