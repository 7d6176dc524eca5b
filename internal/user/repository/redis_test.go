package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRepo(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	// EXPIREAT on reset indexes is evaluated against this clock.
	mr.SetTime(contractNow)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRepository(rdb, "test"), mr
}

func TestRedisRepository_Contract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		r, _ := newRedisRepo(t)
		return r
	})
}

func TestRedisRepository_KeyLayout(t *testing.T) {
	r, mr := newRedisRepo(t)
	ctx := context.Background()
	u := newUser("u1", "k@example.com", "9000000100")
	u.PasswordHash = "hash"
	u.SetResetToken("digest", contractNow.Add(15*time.Minute))
	require.NoError(t, r.Save(ctx, u))

	assert.True(t, mr.Exists("test:user:u1"))
	id, err := mr.Get("test:email:k@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	id, err = mr.Get("test:mobile:9000000100")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.True(t, mr.Exists("test:reset:digest"))
	assert.Equal(t, "hash", mr.HGet("test:user:u1", "password_hash"))
	assert.Empty(t, mr.HGet("test:user:u1", "otp_hash"), "absent fields are not written")
}

func TestRedisRepository_ConsumeResetDropsIndex(t *testing.T) {
	r, mr := newRedisRepo(t)
	ctx := context.Background()
	u := newUser("u1", "d@example.com", "")
	u.SetResetToken("digest", contractNow.Add(15*time.Minute))
	require.NoError(t, r.Save(ctx, u))

	got, err := r.ConsumeResetToken(ctx, "digest", "new", contractNow)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, mr.Exists("test:reset:digest"))
}

func TestRedisRepository_CorruptRecord(t *testing.T) {
	r, mr := newRedisRepo(t)
	mr.HSet("test:user:bad", "id", "bad", "created_at", "yesterday")
	_, err := r.GetByID(context.Background(), "bad")
	assert.Error(t, err)
}

func TestRedisRepository_Unreachable(t *testing.T) {
	r, mr := newRedisRepo(t)
	mr.Close()
	ctx := context.Background()
	assert.Error(t, r.Ping(ctx))
	_, err := r.GetByEmail(ctx, "x@example.com")
	assert.Error(t, err)
	assert.Error(t, r.Save(ctx, newUser("u1", "x@example.com", "")))
}
