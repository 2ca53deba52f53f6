package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"simpletask-backend/internal/observability"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultResetTTL    = time.Hour
	defaultMaxAttempts = 5
	defaultLockout     = 30 * time.Minute
	defaultLoginLimit  = 10
	defaultLoginWindow = time.Minute

	purposeLogin         = "login"
	purposePasswordReset = "password_reset"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevokedToken       = errors.New("token revoked")
)

// RateLimitedError carries retry-after information for 429 responses.
type RateLimitedError struct {
	RetryAfter time.Duration
	Limit      int
}

func (e *RateLimitedError) Error() string {
	return "rate limit exceeded"
}

// ResetTokenSink receives issued password-reset tokens for out-of-band
// delivery. Production deployments plug a mailer; the default sink logs
// the issuance so local setups can complete the flow.
type ResetTokenSink interface {
	DeliverResetToken(ctx context.Context, email, token string)
}

type LogResetTokenSink struct {
	Logger *observability.Logger
}

func (s *LogResetTokenSink) DeliverResetToken(_ context.Context, email, token string) {
	s.Logger.Info("password_reset_token_issued", map[string]any{"email": email})
	s.Logger.Debug("password_reset_token", map[string]any{"email": email, "token": token})
}

type ServiceConfig struct {
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	ResetTokenTTL    time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	LoginRateLimit   int
	LoginRateWindow  time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = defaultAccessTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = defaultRefreshTTL
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = defaultResetTTL
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = defaultMaxAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = defaultLockout
	}
	if c.LoginRateLimit <= 0 {
		c.LoginRateLimit = defaultLoginLimit
	}
	if c.LoginRateWindow <= 0 {
		c.LoginRateWindow = defaultLoginWindow
	}
}

// Service orchestrates the hasher, token codec, revocation store, rate
// limiter, and credential store into the register/login/refresh/logout and
// password flows. All collaborators are injected at construction.
type Service struct {
	store       CredentialStore
	hasher      *Hasher
	codec       *TokenCodec
	revocations *RevocationStore
	limiter     *RateLimiter
	resetSink   ResetTokenSink
	logger      *observability.Logger
	cfg         ServiceConfig
}

func NewService(
	store CredentialStore,
	hasher *Hasher,
	codec *TokenCodec,
	revocations *RevocationStore,
	limiter *RateLimiter,
	resetSink ResetTokenSink,
	logger *observability.Logger,
	cfg ServiceConfig,
) *Service {
	cfg.applyDefaults()
	return &Service{
		store:       store,
		hasher:      hasher,
		codec:       codec,
		revocations: revocations,
		limiter:     limiter,
		resetSink:   resetSink,
		logger:      logger,
		cfg:         cfg,
	}
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (*User, error) {
	email = normalizeEmail(email)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		IsActive:     true,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create credential: %w", err)
	}

	return user, nil
}

// Login authenticates email+password. Unknown email, wrong password, and a
// locked or inactive account all surface the same ErrInvalidCredentials so
// the response cannot be used to enumerate users.
func (s *Service) Login(ctx context.Context, email, password, clientKey string) (Tokens, *User, error) {
	email = normalizeEmail(email)

	if !s.limiter.Allow(ctx, clientKey, s.cfg.LoginRateLimit, s.cfg.LoginRateWindow, purposeLogin) {
		_, reset := s.limiter.Remaining(ctx, clientKey, s.cfg.LoginRateLimit, purposeLogin)
		return Tokens{}, nil, &RateLimitedError{RetryAfter: reset, Limit: s.cfg.LoginRateLimit}
	}

	now := time.Now().UTC()
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, nil, ErrInvalidCredentials
		}
		return Tokens{}, nil, fmt.Errorf("look up credential: %w", err)
	}

	if !user.CanLogin() || !s.hasher.Verify(password, user.PasswordHash) {
		if err := s.store.RecordLoginFailure(ctx, user.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration, now); err != nil {
			s.logger.Warn("record_login_failure_failed", map[string]any{"error": err.Error()})
		}
		return Tokens{}, nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updateErr := s.store.UpdatePassword(ctx, user.ID, newHash); updateErr == nil {
				user.PasswordHash = newHash
			} else {
				s.logger.Warn("rehash_upgrade_failed", map[string]any{"error": updateErr.Error()})
			}
		}
	}

	if err := s.store.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return Tokens{}, nil, fmt.Errorf("record login success: %w", err)
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	tokens, err := s.issueTokenPair(user.ID)
	if err != nil {
		return Tokens{}, nil, err
	}

	return tokens, user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. Rotation is mandatory; a refresh token is
// single-use, and a second presentation fails with ErrRevokedToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	claims, err := s.codec.Decode(refreshToken, true)
	if err != nil {
		return Tokens{}, ErrInvalidToken
	}
	if !claims.IsType(TokenTypeRefresh) {
		return Tokens{}, ErrInvalidToken
	}

	jti, err := claims.JTI()
	if err != nil {
		return Tokens{}, ErrInvalidToken
	}
	if s.revocations.IsRevoked(ctx, jti) {
		return Tokens{}, ErrRevokedToken
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, fmt.Errorf("look up credential: %w", err)
	}
	if !user.CanLogin() {
		return Tokens{}, ErrInvalidCredentials
	}

	if err := s.revocations.Revoke(ctx, jti, claims.RemainingLifetime(time.Now().UTC())); err != nil {
		return Tokens{}, fmt.Errorf("revoke rotated refresh token: %w", err)
	}

	return s.issueTokenPair(user.ID)
}

// Logout revokes the presented token's JTI for the remainder of its
// lifetime. It is best-effort: nothing here can fail the caller-visible
// flow, because a client that cannot log out has no remedy and the token
// expires on its own regardless. Expired tokens are still decoded (with
// expiry verification off) so they can be revoked cleanly.
func (s *Service) Logout(ctx context.Context, token string) {
	claims, err := s.codec.Decode(token, false)
	if err != nil {
		s.logger.Warn("logout_decode_failed", map[string]any{"error": err.Error()})
		return
	}

	jti, err := claims.JTI()
	if err != nil {
		s.logger.Warn("logout_missing_jti", nil)
		return
	}

	if err := s.revocations.Revoke(ctx, jti, claims.RemainingLifetime(time.Now().UTC())); err != nil {
		s.logger.Warn("logout_revoke_failed", map[string]any{"error": err.Error()})
	}
}

func (s *Service) ChangePassword(ctx context.Context, user *User, currentPassword, newPassword string) error {
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("persist new password: %w", err)
	}

	return nil
}

// RequestPasswordReset issues a reset token when the email is registered.
// The caller-facing outcome is identical whether or not the account
// exists; only the sink learns about real issuances.
func (s *Service) RequestPasswordReset(ctx context.Context, email, clientKey string) error {
	email = normalizeEmail(email)

	if !s.limiter.Allow(ctx, clientKey, s.cfg.LoginRateLimit, s.cfg.LoginRateWindow, purposePasswordReset) {
		_, reset := s.limiter.Remaining(ctx, clientKey, s.cfg.LoginRateLimit, purposePasswordReset)
		return &RateLimitedError{RetryAfter: reset, Limit: s.cfg.LoginRateLimit}
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("password_reset_lookup_failed", map[string]any{"error": err.Error()})
		}
		return nil
	}

	token, err := s.codec.Issue(user.ID, TokenTypePasswordReset, s.cfg.ResetTokenTTL, nil)
	if err != nil {
		s.logger.Error("password_reset_issue_failed", map[string]any{"error": err.Error()})
		return nil
	}

	s.resetSink.DeliverResetToken(ctx, email, token)
	return nil
}

// ConfirmPasswordReset validates a reset token, persists the new password,
// and clears any lockout. The token is single-use: its JTI is revoked for
// the remainder of its lifetime on success.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	claims, err := s.codec.Decode(token, true)
	if err != nil {
		return ErrInvalidToken
	}
	if !claims.IsType(TokenTypePasswordReset) {
		return ErrInvalidToken
	}

	jti, err := claims.JTI()
	if err != nil {
		return ErrInvalidToken
	}
	if s.revocations.IsRevoked(ctx, jti) {
		return ErrInvalidToken
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("look up credential: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("persist new password: %w", err)
	}
	if err := s.store.ClearLockout(ctx, user.ID); err != nil {
		s.logger.Warn("clear_lockout_failed", map[string]any{"error": err.Error()})
	}

	if err := s.revocations.Revoke(ctx, jti, claims.RemainingLifetime(time.Now().UTC())); err != nil {
		s.logger.Warn("reset_token_revoke_failed", map[string]any{"error": err.Error()})
	}

	return nil
}

// Authenticate resolves a bearer access token to a loadable, login-capable
// credential. Used by the middleware on every authenticated request.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.codec.Decode(token, true)
	if err != nil {
		return nil, err
	}

	jti, err := claims.JTI()
	if err != nil {
		return nil, ErrMalformedToken
	}
	if s.revocations.IsRevoked(ctx, jti) {
		return nil, ErrRevokedToken
	}
	if !claims.IsType(TokenTypeAccess) {
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up credential: %w", err)
	}
	if !user.CanLogin() {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// AccessTokenTTLSeconds is surfaced in token responses as expires_in.
func (s *Service) AccessTokenTTLSeconds() int64 {
	return int64(s.cfg.AccessTokenTTL.Seconds())
}

func (s *Service) issueTokenPair(userID string) (Tokens, error) {
	access, err := s.codec.Issue(userID, TokenTypeAccess, s.cfg.AccessTokenTTL, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.codec.Issue(userID, TokenTypeRefresh, s.cfg.RefreshTokenTTL, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTokenTTLSeconds(),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
