// Package devotp provides an in-memory store of the latest OTP per mobile, used only when testing mode
// is enabled (GET /dev/otp).
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds the plain OTP by mobile for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores otp for mobile until expiresAt, replacing any earlier code. Used by SendOtp in testing mode.
	Put(ctx context.Context, mobile, otp string, expiresAt time.Time)
	// Get returns the otp for mobile if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, mobile string) (otp string, ok bool)
	// Delete forgets the otp for mobile once it has been consumed.
	Delete(ctx context.Context, mobile string)
}

type entry struct {
	otp       string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryStoreWithClock returns a store that evaluates expiry against now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: now,
	}
}

// Put stores otp for mobile until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, mobile, otp string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[mobile] = entry{otp: otp, expiresAt: expiresAt}
}

// Get returns the otp for mobile if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, mobile string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[mobile]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		// Re-check: a fresh Put may have landed between the locks.
		if cur, ok := s.m[mobile]; ok && !cur.expiresAt.After(s.nowF()) {
			delete(s.m, mobile)
		}
		s.mu.Unlock()
		return "", false
	}
	return e.otp, true
}

// Delete removes the otp for mobile.
func (s *MemoryStore) Delete(ctx context.Context, mobile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, mobile)
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
