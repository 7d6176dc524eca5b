package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"account-auth/internal/user/domain"
)

const userColumns = `id, email, password_hash, mobile, otp_hash, otp_expires_at,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

const (
	getUserByIDQuery     = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailQuery  = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	getUserByMobileQuery = `SELECT ` + userColumns + ` FROM users WHERE mobile = $1`

	getUserByValidOTPQuery = `SELECT ` + userColumns + ` FROM users
	WHERE mobile = $1 AND otp_hash = $2 AND otp_expires_at > $3`

	getUserByValidResetTokenQuery = `SELECT ` + userColumns + ` FROM users
	WHERE reset_token_hash = $1 AND reset_token_expires_at > $2`

	saveUserQuery = `INSERT INTO users (` + userColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		email = EXCLUDED.email,
		password_hash = EXCLUDED.password_hash,
		mobile = EXCLUDED.mobile,
		otp_hash = EXCLUDED.otp_hash,
		otp_expires_at = EXCLUDED.otp_expires_at,
		reset_token_hash = EXCLUDED.reset_token_hash,
		reset_token_expires_at = EXCLUDED.reset_token_expires_at,
		updated_at = EXCLUDED.updated_at`

	setOTPQuery = `UPDATE users SET otp_hash = $2, otp_expires_at = $3, updated_at = $4
	WHERE id = $1
	RETURNING ` + userColumns

	setResetTokenQuery = `UPDATE users SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = $4
	WHERE id = $1
	RETURNING ` + userColumns

	consumeOTPQuery =`UPDATE users SET otp_hash = NULL, otp_expires_at = NULL, updated_at = $4
	WHERE mobile = $1 AND otp_hash = $2 AND otp_expires_at > $3
	RETURNING ` + userColumns

	consumeResetTokenQuery = `UPDATE users SET password_hash = $2, reset_token_hash = NULL,
		reset_token_expires_at = NULL, updated_at = $4
	WHERE reset_token_hash = $1 AND reset_token_expires_at > $3
	RETURNING ` + userColumns
)

// PostgresRepository stores users in the users table. Consume operations are single
// conditional UPDATE statements, so row locking serializes concurrent consumers.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.queryOne(ctx, getUserByIDQuery, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.queryOne(ctx, getUserByEmailQuery, email)
}

// GetByMobile returns the user with the given mobile, or nil if not found.
func (r *PostgresRepository) GetByMobile(ctx context.Context, mobile string) (*domain.User, error) {
	if mobile == "" {
		return nil, nil
	}
	return r.queryOne(ctx, getUserByMobileQuery, mobile)
}

// GetByMobileAndValidOTP returns the user for mobile when otpHash is current, or nil.
func (r *PostgresRepository) GetByMobileAndValidOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, getUserByValidOTPQuery, mobile, otpHash, now.UTC())
}

// GetByValidResetToken returns the user holding tokenHash when it is current, or nil.
func (r *PostgresRepository) GetByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, getUserByValidResetTokenQuery, tokenHash, now.UTC())
}

// Save upserts u by id. A unique violation on email or mobile maps to ErrDuplicateKey.
func (r *PostgresRepository) Save(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, saveUserQuery,
		u.ID,
		nullString(u.Email),
		nullString(u.PasswordHash),
		nullString(u.Mobile),
		nullString(u.OTPHash),
		nullTime(u.OTPExpiresAt),
		nullString(u.ResetTokenHash),
		nullTime(u.ResetTokenExpiresAt),
		u.CreatedAt.UTC(),
		u.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetOTP replaces the OTP pair of user id. Returns the updated user, or nil if id is unknown.
func (r *PostgresRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, setOTPQuery, id, otpHash, expiresAt.UTC(), now.UTC())
}

// SetResetToken replaces the reset token pair of user id. Returns the updated user, or nil if id is unknown.
func (r *PostgresRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, setResetTokenQuery, id, tokenHash, expiresAt.UTC(), now.UTC())
}

// ConsumeOTP clears a matching, unexpired OTP and returns the updated user, or nil.
func (r *PostgresRepository) ConsumeOTP(ctx context.Context, mobile, otpHash string, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, consumeOTPQuery, mobile, otpHash, now.UTC(), now.UTC())
}

// ConsumeResetToken replaces the password of the user holding a current tokenHash and clears the token.
func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (*domain.User, error) {
	return r.queryOne(ctx, consumeResetTokenQuery, tokenHash, newPasswordHash, now.UTC(), now.UTC())
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                                               domain.User
		email, passwordHash, mobile, otpHash, resetHash sql.NullString
		otpExpiresAt, resetExpiresAt                    sql.NullTime
	)
	if err := row.Scan(&u.ID, &email, &passwordHash, &mobile, &otpHash, &otpExpiresAt,
		&resetHash, &resetExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.PasswordHash = passwordHash.String
	u.Mobile = mobile.String
	u.OTPHash = otpHash.String
	u.OTPExpiresAt = timePtr(otpExpiresAt)
	u.ResetTokenHash = resetHash.String
	u.ResetTokenExpiresAt = timePtr(resetExpiresAt)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// nullString maps "" to NULL so absent emails and mobiles never collide on the unique indexes.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
