package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"account-auth/internal/devotp"
	"account-auth/internal/notify"
	"account-auth/internal/security"
	userdomain "account-auth/internal/user/domain"
	"account-auth/internal/user/repository"
)

const (
	instrumentationName = "account-auth/identity"

	defaultOTPTTL        = 5 * time.Minute
	defaultResetTokenTTL = 15 * time.Minute
	dispatchTimeout      = 5 * time.Second

	// saveAttempts bounds SendOTP retries when a concurrent request creates the same mobile record.
	saveAttempts = 2
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SessionResult is returned by the flows that authenticate a user.
type SessionResult struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
}

// OTPResult is the outcome of SendOTP. OTP is only set in testing mode when SMS dispatch failed.
type OTPResult struct {
	Delivered bool
	OTP       string
	ExpiresAt time.Time
}

// ResetResult is the outcome of ForgotPassword. Link is only set in testing mode.
type ResetResult struct {
	Delivered bool
	Link      string
	ExpiresAt time.Time
}

// Options configures an AuthService. Zero values select the defaults.
type Options struct {
	// OTPTTL is how long an OTP stays valid (default 5m).
	OTPTTL time.Duration
	// ResetTokenTTL is how long a reset token stays valid (default 15m).
	ResetTokenTTL time.Duration
	// ResetURL is the page the reset link points at; the token is added as the token query parameter.
	ResetURL string
	// TestingMode returns OTPs on SMS failure and reset links in responses, and feeds DevOTP.
	TestingMode bool
	// DevOTP records issued OTPs for GET /dev/otp. Only used in testing mode.
	DevOTP devotp.Store
	Logger *slog.Logger
	// Now is the clock used for expiry; defaults to time.Now.
	Now func() time.Time
	// NewID generates record IDs; defaults to random UUIDs.
	NewID func() string
	// TracerProvider and MeterProvider default to the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// AuthService implements register, password login, OTP issue/verify, forgot/reset password and profile lookup.
type AuthService struct {
	users    repository.Repository
	hasher   *security.Hasher
	tokens   *security.TokenProvider
	sms      notify.SMSSender
	email    notify.EmailSender
	devOTP   devotp.Store
	logger   *slog.Logger
	otpTTL   time.Duration
	resetTTL time.Duration
	resetURL string
	testing  bool
	now      func() time.Time
	newID    func() string

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewAuthService returns an AuthService with the given dependencies. sms and email may be nil, in
// which case every dispatch is reported as failed.
func NewAuthService(
	users repository.Repository,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	sms notify.SMSSender,
	email notify.EmailSender,
	opts Options,
) *AuthService {
	s := &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		sms:      sms,
		email:    email,
		devOTP:   opts.DevOTP,
		logger:   opts.Logger,
		otpTTL:   opts.OTPTTL,
		resetTTL: opts.ResetTokenTTL,
		resetURL: opts.ResetURL,
		testing:  opts.TestingMode,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.otpTTL <= 0 {
		s.otpTTL = defaultOTPTTL
	}
	if s.resetTTL <= 0 {
		s.resetTTL = defaultResetTokenTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	s.tracer = tp.Tracer(instrumentationName)
	counter, err := mp.Meter(instrumentationName).Int64Counter("auth.flow.outcomes",
		metric.WithDescription("Auth flow completions by flow and outcome"))
	if err != nil {
		s.logger.Warn("auth: outcome counter unavailable", slog.Any("error", err))
	}
	s.outcomes = counter
	return s
}

// Register creates an account with email and password. No session is issued.
func (s *AuthService) Register(ctx context.Context, email, password string) (userID string, err error) {
	ctx, end := s.startFlow(ctx, "Register")
	defer func() { end(err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", invalid("All fields required")
	}
	if err := validateEmail(email); err != nil {
		return "", err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", fault("lookup user by email", err)
	}
	if existing != nil {
		return "", ErrConflict
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return "", fault("hash password", err)
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return "", fault("validate user", err)
	}
	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Lost a race with a concurrent registration of the same email.
			return "", ErrConflict
		}
		return "", fault("save user", err)
	}
	return user.ID, nil
}

// PasswordLogin authenticates email and password and issues a session token.
func (s *AuthService) PasswordLogin(ctx context.Context, email, password string) (res *SessionResult, err error) {
	ctx, end := s.startFlow(ctx, "PasswordLogin")
	defer func() { end(err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("Email and password required")
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fault("lookup user by email", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if !s.hasher.Verify(user.PasswordHash, []byte(password)) {
		return nil, ErrInvalidCredential
	}
	return s.issueSession(user.ID)
}

// SendOTP issues a fresh OTP for mobile, creating a mobile-only account on first use, and dispatches
// it by SMS. A dispatch failure does not fail the flow: the result reports Delivered=false and, in
// testing mode only, carries the OTP itself.
func (s *AuthService) SendOTP(ctx context.Context, mobile string) (res *OTPResult, err error) {
	ctx, end := s.startFlow(ctx, "SendOtp")
	defer func() { end(err) }()

	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return nil, invalid("Mobile number required")
	}
	otp, err := security.GenerateOTP()
	if err != nil {
		return nil, fault("generate otp", err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.otpTTL)

	otpHash := security.HashSecret(otp)
	for attempt := 1; ; attempt++ {
		user, err := s.users.GetByMobile(ctx, mobile)
		if err != nil {
			return nil, fault("lookup user by mobile", err)
		}
		if user != nil {
			updated, err := s.users.SetOTP(ctx, user.ID, otpHash, expiresAt, now)
			if err != nil {
				return nil, fault("save otp", err)
			}
			if updated != nil {
				break
			}
			// The record vanished after the lookup; create a fresh one.
		}
		user = &userdomain.User{ID: s.newID(), Mobile: mobile, CreatedAt: now, UpdatedAt: now}
		user.SetOTP(otpHash, expiresAt)
		err = s.users.Save(ctx, user)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateKey) && attempt < saveAttempts {
			// A concurrent SendOTP created the record first; reload it and set the code on that one.
			continue
		}
		return nil, fault("save otp", err)
	}

	if s.testing && s.devOTP != nil {
		s.devOTP.Put(ctx, mobile, otp, expiresAt)
	}

	res = &OTPResult{Delivered: true, ExpiresAt: expiresAt}
	if err := s.dispatchOTP(ctx, mobile, otp); err != nil {
		s.logger.WarnContext(ctx, "auth: otp dispatch failed",
			slog.String("flow", "SendOtp"),
			slog.Any("error", err),
			slog.Bool("testing_mode", s.testing))
		res.Delivered = false
		if s.testing {
			res.OTP = otp
		}
	}
	return res, nil
}

// VerifyOTP consumes a current OTP for mobile and issues a session token. The code is cleared in the
// same store operation that matches it, so it can succeed only once.
func (s *AuthService) VerifyOTP(ctx context.Context, mobile, otp string) (res *SessionResult, err error) {
	ctx, end := s.startFlow(ctx, "VerifyOtp")
	defer func() { end(err) }()

	mobile = strings.TrimSpace(mobile)
	otp = strings.TrimSpace(otp)
	if mobile == "" || otp == "" {
		return nil, invalid("All fields required")
	}
	user, err := s.users.ConsumeOTP(ctx, mobile, security.HashSecret(otp), s.now().UTC())
	if err != nil {
		return nil, fault("consume otp", err)
	}
	if user == nil {
		return nil, ErrInvalidOrExpired
	}
	if s.devOTP != nil {
		s.devOTP.Delete(ctx, mobile)
	}
	return s.issueSession(user.ID)
}

// ForgotPassword issues a reset token for email and dispatches a reset link. The link is returned in
// the result only in testing mode.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (res *ResetResult, err error) {
	ctx, end := s.startFlow(ctx, "ForgotPassword")
	defer func() { end(err) }()

	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid("Email required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fault("lookup user by email", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	token, err := security.GenerateResetToken()
	if err != nil {
		return nil, fault("generate reset token", err)
	}
	link, err := buildResetLink(s.resetURL, token)
	if err != nil {
		return nil, fault("build reset link", err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.resetTTL)
	updated, err := s.users.SetResetToken(ctx, user.ID, security.HashSecret(token), expiresAt, now)
	if err != nil {
		return nil, fault("save reset token", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	res = &ResetResult{Delivered: true, ExpiresAt: expiresAt}
	if err := s.dispatchResetLink(ctx, user.Email, link); err != nil {
		s.logger.WarnContext(ctx, "auth: reset link dispatch failed",
			slog.String("flow", "ForgotPassword"),
			slog.Any("error", err))
		res.Delivered = false
	}
	if s.testing {
		res.Link = link
	}
	return res, nil
}

// ResetPassword sets a new password for the holder of a current reset token and clears the token.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, end := s.startFlow(ctx, "ResetPassword")
	defer func() { end(err) }()

	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return invalid("All fields required")
	}
	tokenHash := security.HashSecret(token)
	now := s.now().UTC()
	// Cheap read first so an unknown token does not pay for a bcrypt hash.
	holder, err := s.users.GetByValidResetToken(ctx, tokenHash, now)
	if err != nil {
		return fault("lookup reset token", err)
	}
	if holder == nil {
		return ErrInvalidOrExpired
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return fault("hash password", err)
	}
	user, err := s.users.ConsumeResetToken(ctx, tokenHash, hashed, now)
	if err != nil {
		return fault("consume reset token", err)
	}
	if user == nil {
		return ErrInvalidOrExpired
	}
	return nil
}

// GetProfile verifies a session token and returns the caller's profile.
func (s *AuthService) GetProfile(ctx context.Context, token string) (profile *userdomain.Profile, err error) {
	ctx, end := s.startFlow(ctx, "GetProfile")
	defer func() { end(err) }()

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	return s.profile(ctx, userID)
}

// GetProfileByID returns the profile for an already authenticated user ID (e.g. from middleware).
func (s *AuthService) GetProfileByID(ctx context.Context, userID string) (profile *userdomain.Profile, err error) {
	ctx, end := s.startFlow(ctx, "GetProfile")
	defer func() { end(err) }()

	if userID == "" {
		return nil, ErrInvalidCredential
	}
	return s.profile(ctx, userID)
}

// VerifySession returns the user ID bound to a session token, or ErrInvalidCredential.
func (s *AuthService) VerifySession(token string) (string, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return "", ErrInvalidCredential
	}
	return userID, nil
}

// Ready reports whether the credential store is reachable.
func (s *AuthService) Ready(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *AuthService) profile(ctx context.Context, userID string) (*userdomain.Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fault("lookup user by id", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	p := user.Profile()
	return &p, nil
}

func (s *AuthService) issueSession(userID string) (*SessionResult, error) {
	token, expiresAt, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, fault("issue session token", err)
	}
	return &SessionResult{Token: token, ExpiresAt: expiresAt, UserID: userID}, nil
}

func (s *AuthService) dispatchOTP(ctx context.Context, mobile, otp string) error {
	if s.sms == nil {
		return notify.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	return s.sms.SendOTP(ctx, mobile, otp)
}

func (s *AuthService) dispatchResetLink(ctx context.Context, email, link string) error {
	if s.email == nil {
		return notify.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	return s.email.SendResetLink(ctx, email, link)
}

// startFlow opens the flow span; the returned func records the outcome on the span and counter.
func (s *AuthService) startFlow(ctx context.Context, flow string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "auth."+flow)
	return ctx, func(err error) {
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		if outcome == OutcomeServerFault {
			span.RecordError(err)
			span.SetStatus(codes.Error, "server fault")
		}
		span.End()
		if s.outcomes != nil {
			s.outcomes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("flow", flow),
				attribute.String("outcome", outcome),
			))
		}
	}
}

// Flow outcomes reported on spans and the auth.flow.outcomes counter.
const (
	OutcomeSuccess           = "success"
	OutcomeValidation        = "validation"
	OutcomeNotFound          = "not_found"
	OutcomeConflict          = "conflict"
	OutcomeInvalidCredential = "invalid_credential"
	OutcomeInvalidOrExpired  = "invalid_or_expired"
	OutcomeServerFault       = "server_fault"
)

// Outcome classifies err into one of the Outcome* values.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return OutcomeValidation
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidCredential):
		return OutcomeInvalidCredential
	case errors.Is(err, ErrInvalidOrExpired):
		return OutcomeInvalidOrExpired
	default:
		return OutcomeServerFault
	}
}

func buildResetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return invalid("Invalid email format")
	}
	return nil
}
