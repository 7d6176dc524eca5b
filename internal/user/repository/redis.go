package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"account-auth/internal/user/domain"
)

// maxTxRetries bounds optimistic-transaction retries when a watched key changes mid-flight.
const maxTxRetries = 16

const (
	fieldID             = "id"
	fieldEmail          = "email"
	fieldPasswordHash   = "password_hash"
	fieldMobile         = "mobile"
	fieldOTPHash        = "otp_hash"
	fieldOTPExpires     = "otp_expires_at"
	fieldResetHash      = "reset_token_hash"
	fieldResetExpires   = "reset_token_expires_at"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
	redisTimeLayout     = time.RFC3339Nano
	defaultRedisKeyRoot = "auth"
)

// RedisRepository stores each user as a hash plus string index keys for email, mobile and the
// current reset digest. Writes run as WATCH/MULTI transactions so uniqueness checks and
// consume operations are atomic against concurrent writers.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Redis-backed user store. prefix namespaces all keys; empty uses "auth".
func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = defaultRedisKeyRoot
	}
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisRepository) userKey(id string) string       { return r.prefix + ":user:" + id }
func (r *RedisRepository) emailKey(email string) string   { return r.prefix + ":email:" + email }
func (r *RedisRepository) mobileKey(mobile string) string { return r.prefix + ":mobile:" + mobile }
func (r *RedisRepository) resetKey(hash string) string    { return r.prefix + ":reset:" + hash }

// GetByID returns the user for id, or nil if not found.
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	return r.load(ctx, r.rdb, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *RedisRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.loadByIndex(ctx, r.emailKey(email))
}

// GetByMobile returns the user with the given mobile, or nil if not found.
func (r *RedisRepository) GetByMobile(ctx context.Context, mobile string) (*domain.User, error) {
	if mobile == "" {
		return nil, nil
	}
	return r.loadByIndex(ctx, r.mobileKey(mobile))
}

// GetByMobileAndValidOTP returns the user for mobile when otpHash is current, or nil.
func (r *RedisRepository) GetByMobileAndValidOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	u, err := r.GetByMobile(ctx, mobile)
	if err != nil || u == nil || !u.OTPValid(otpHash, now) {
		return nil, err
	}
	return u, nil
}

// GetByValidResetToken returns the user holding tokenHash when it is current, or nil.
func (r *RedisRepository) GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	u, err := r.loadByIndex(ctx, r.resetKey(tokenHash))
	if err != nil || u == nil || !u.ResetTokenValid(tokenHash, now) {
		return nil, err
	}
	return u, nil
}

// Save inserts or replaces u by ID, enforcing email and mobile uniqueness.
func (r *RedisRepository) Save(ctx context.Context, u *domain.User) error {
	keys := []string{r.userKey(u.ID)}
	if u.Email != "" {
		keys = append(keys, r.emailKey(u.Email))
	}
	if u.Mobile != "" {
		keys = append(keys, r.mobileKey(u.Mobile))
	}
	return r.retryTx(ctx, func(tx *redis.Tx) error {
		if err := r.checkOwner(ctx, tx, r.emailKey(u.Email), u.Email, u.ID); err != nil {
			return err
		}
		if err := r.checkOwner(ctx, tx, r.mobileKey(u.Mobile), u.Mobile, u.ID); err != nil {
			return err
		}
		prev, err := r.load(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, prev, u)
			return nil
		})
		return err
	}, keys...)
}

// SetOTP replaces the OTP pair of user id. Returns the updated user, or nil if id is unknown.
func (r *RedisRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	return r.update(ctx, id, func(u *domain.User) bool {
		u.SetOTP(otpHash, expiresAt)
		u.UpdatedAt = now.UTC()
		return true
	})
}

// SetResetToken replaces the reset token pair of user id and moves the reset index to the new
// digest. Returns the updated user, or nil if id is unknown.
func (r *RedisRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt, now time.Time) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	return r.update(ctx, id, func(u *domain.User) bool {
		u.SetResetToken(tokenHash, expiresAt)
		u.UpdatedAt = now.UTC()
		return true
	})
}

// ConsumeOTP clears a matching, unexpired OTP and returns the updated user, or nil.
func (r *RedisRepository) ConsumeOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	if mobile == "" || otpHash == "" {
		return nil, nil
	}
	id, err := r.rdb.Get(ctx, r.mobileKey(mobile)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.update(ctx, id, func(u *domain.User) bool {
		if u.Mobile != mobile || !u.OTPValid(otpHash, now) {
			return false
		}
		u.ClearOTP()
		u.UpdatedAt = now.UTC()
		return true
	})
}

// ConsumeResetToken replaces the password of the user holding a current tokenHash and clears the token.
func (r *RedisRepository) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (*domain.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	id, err := r.rdb.Get(ctx, r.resetKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.update(ctx, id, func(u *domain.User) bool {
		if !u.ResetTokenValid(tokenHash, now) {
			return false
		}
		u.PasswordHash = newPasswordHash
		u.ClearResetToken()
		u.UpdatedAt = now.UTC()
		return true
	})
}

// Ping checks the Redis connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// update loads the user under WATCH, applies mutate, and commits only if mutate reports a change.
// A concurrent write to the user hash aborts the transaction and the whole step is retried.
func (r *RedisRepository) update(ctx context.Context, id string, mutate func(*domain.User) bool) (*domain.User, error) {
	var out *domain.User
	err := r.retryTx(ctx, func(tx *redis.Tx) error {
		out = nil
		prev, err := r.load(ctx, tx, id)
		if err != nil || prev == nil {
			return err
		}
		next := prev.Clone()
		if !mutate(next) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, prev, next)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, r.userKey(id))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisRepository) retryTx(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrDuplicateKey) {
			return fmt.Errorf("redis error: %w", err)
		}
		return err
	}
	return fmt.Errorf("redis error: transaction retries exhausted")
}

func (r *RedisRepository) checkOwner(ctx context.Context, tx *redis.Tx, key, value, id string) error {
	if value == "" {
		return nil
	}
	owner, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != id {
		return ErrDuplicateKey
	}
	return nil
}

// write queues the commands that replace prev (may be nil) with next, including index upkeep.
func (r *RedisRepository) write(ctx context.Context, pipe redis.Pipeliner, prev, next *domain.User) {
	key := r.userKey(next.ID)
	if prev != nil {
		if prev.Email != "" && prev.Email != next.Email {
			pipe.Del(ctx, r.emailKey(prev.Email))
		}
		if prev.Mobile != "" && prev.Mobile != next.Mobile {
			pipe.Del(ctx, r.mobileKey(prev.Mobile))
		}
		if prev.ResetTokenHash != "" && prev.ResetTokenHash != next.ResetTokenHash {
			pipe.Del(ctx, r.resetKey(prev.ResetTokenHash))
		}
	}
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeUser(next))
	if next.Email != "" {
		pipe.Set(ctx, r.emailKey(next.Email), next.ID, 0)
	}
	if next.Mobile != "" {
		pipe.Set(ctx, r.mobileKey(next.Mobile), next.ID, 0)
	}
	if next.ResetTokenHash != "" && next.ResetTokenExpiresAt != nil {
		pipe.Set(ctx, r.resetKey(next.ResetTokenHash), next.ID, 0)
		pipe.ExpireAt(ctx, r.resetKey(next.ResetTokenHash), *next.ResetTokenExpiresAt)
	}
}

func (r *RedisRepository) loadByIndex(ctx context.Context, indexKey string) (*domain.User, error) {
	id, err := r.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.load(ctx, r.rdb, id)
}

// hashReader is satisfied by both the client and a WATCH transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (r *RedisRepository) load(ctx context.Context, c hashReader, id string) (*domain.User, error) {
	fields, err := c.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeUser(fields)
}

func encodeUser(u *domain.User) map[string]any {
	m := map[string]any{
		fieldID:        u.ID,
		fieldCreatedAt: u.CreatedAt.UTC().Format(redisTimeLayout),
		fieldUpdatedAt: u.UpdatedAt.UTC().Format(redisTimeLayout),
	}
	setIf := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	setIf(fieldEmail, u.Email)
	setIf(fieldPasswordHash, u.PasswordHash)
	setIf(fieldMobile, u.Mobile)
	setIf(fieldOTPHash, u.OTPHash)
	setIf(fieldResetHash, u.ResetTokenHash)
	if u.OTPExpiresAt != nil {
		m[fieldOTPExpires] = u.OTPExpiresAt.UTC().Format(redisTimeLayout)
	}
	if u.ResetTokenExpiresAt != nil {
		m[fieldResetExpires] = u.ResetTokenExpiresAt.UTC().Format(redisTimeLayout)
	}
	return m
}

func decodeUser(f map[string]string) (*domain.User, error) {
	u := &domain.User{
		ID:             f[fieldID],
		Email:          f[fieldEmail],
		PasswordHash:   f[fieldPasswordHash],
		Mobile:         f[fieldMobile],
		OTPHash:        f[fieldOTPHash],
		ResetTokenHash: f[fieldResetHash],
	}
	var err error
	if u.CreatedAt, err = parseRedisTime(f[fieldCreatedAt]); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseRedisTime(f[fieldUpdatedAt]); err != nil {
		return nil, err
	}
	if v, ok := f[fieldOTPExpires]; ok {
		t, err := parseRedisTime(v)
		if err != nil {
			return nil, err
		}
		u.OTPExpiresAt = &t
	}
	if v, ok := f[fieldResetExpires]; ok {
		t, err := parseRedisTime(v)
		if err != nil {
			return nil, err
		}
		u.ResetTokenExpiresAt = &t
	}
	return u, nil
}

func parseRedisTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(redisTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis error: corrupt timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
