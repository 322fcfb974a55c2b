package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/logging"
	"github.com/milad7akbari/sysense/internal/metrics"
	"github.com/milad7akbari/sysense/internal/model"
	"github.com/milad7akbari/sysense/internal/ratelimit"
	"github.com/milad7akbari/sysense/internal/repo"
)

// Rate limiter key prefixes.
const (
	sendOTPKey   = "otp:send:"
	verifyOTPKey = "otp:verify:"
	loginKey     = "login:"
)

// Deliverer hands a plain code to the out-of-band channel. It must not block
// on the delivery itself.
type Deliverer interface {
	Deliver(phone, code string)
}

// TokenPair is returned by every successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// SendOTPResult carries the plain code only when debug responses are enabled.
type SendOTPResult struct {
	DebugCode string
}

// PruneResult reports how many rows Prune removed.
type PruneResult struct {
	OTPRequests   int64
	RefreshTokens int64
}

// Config tunes the service.
type Config struct {
	AccessTokenTTL   time.Duration
	DebugOTPResponse bool
	RevokeAllOnReuse bool
	PruneRetention   time.Duration
}

// Deps are the collaborators of the service.
type Deps struct {
	Store     repo.Store
	OTPs      *OTPStore
	Ledger    *Ledger
	Codec     *TokenCodec
	Hasher    Hasher
	Limiter   ratelimit.Limiter
	Deliverer Deliverer
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Clock     clockwork.Clock
}

// Service orchestrates authentication operations
type Service struct {
	Deps
	cfg Config

	// dummyDigest is verified against when a login names an unknown phone,
	// so that path costs the same as a wrong password.
	dummyDigest string
}

// NewService creates the auth service.
func NewService(d Deps, cfg Config) (*Service, error) {
	dummy, err := d.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy digest: %w", err)
	}
	return &Service{Deps: d, cfg: cfg, dummyDigest: dummy}, nil
}

// SendOTP throttles per phone, issues a code and queues its delivery.
// Delivery failures never fail the request.
func (s *Service) SendOTP(ctx context.Context, phone string) (SendOTPResult, error) {
	if err := s.throttle(ctx, sendOTPKey+phone); err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.Metrics.OTPRateLimited.Inc()
			s.Logger.Info("otp request rate limited", logging.Phone("phone", phone))
		}
		return SendOTPResult{}, err
	}

	code, err := s.OTPs.Issue(ctx, s.Store.OTPs(), phone)
	if err != nil {
		return SendOTPResult{}, fmt.Errorf("issue otp: %w", err)
	}

	s.Deliverer.Deliver(phone, code)
	s.Metrics.OTPSent.Inc()
	s.Logger.Info("otp issued", logging.Phone("phone", phone))

	var res SendOTPResult
	if s.cfg.DebugOTPResponse {
		res.DebugCode = code
	}
	return res, nil
}

// VerifyOTP redeems a code and logs the phone's user in, creating the user
// on first login. Consumption, user creation and the refresh ledger entry
// commit together.
func (s *Service) VerifyOTP(ctx context.Context, phone, code string, meta ClientMeta) (TokenPair, error) {
	if err := s.throttle(ctx, verifyOTPKey+phone); err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	err := s.OTPs.VerifyAndConsume(ctx, s.Store, phone, code, func(tx repo.Store) error {
		now := s.Clock.Now()
		user, err := tx.Users().GetOrCreateByPhone(ctx, phone, now)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return ErrInvalidCredential
		}
		if pair, err = s.issuePair(ctx, tx, user.ID, meta); err != nil {
			return err
		}
		return tx.Users().TouchLogin(ctx, user.ID, now)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			s.Metrics.OTPVerifyFailed.Inc()
			s.Logger.Info("otp verification failed", logging.Phone("phone", phone))
			return TokenPair{}, ErrInvalidCredential
		}
		return TokenPair{}, fmt.Errorf("verify otp: %w", err)
	}
	return pair, nil
}

// LoginWithPassword logs in a user that has set a password. Unknown phone,
// missing password, wrong password and inactive user are indistinguishable.
func (s *Service) LoginWithPassword(ctx context.Context, phone, password string, meta ClientMeta) (TokenPair, error) {
	if err := s.throttle(ctx, loginKey+phone); err != nil {
		return TokenPair{}, err
	}

	user, err := s.Store.Users().GetByPhone(ctx, phone)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("login: %w", err)
	}

	digest := s.dummyDigest
	if err == nil && user.PasswordHash != nil {
		digest = *user.PasswordHash
	}
	ok := s.Hasher.Verify(password, digest)
	if err != nil || user.PasswordHash == nil || !ok || !user.IsActive {
		s.Logger.Info("password login failed", logging.Phone("phone", phone))
		return TokenPair{}, ErrInvalidCredential
	}

	var pair TokenPair
	err = s.Store.WithTx(ctx, func(tx repo.Store) error {
		var err error
		if pair, err = s.issuePair(ctx, tx, user.ID, meta); err != nil {
			return err
		}
		return tx.Users().TouchLogin(ctx, user.ID, s.Clock.Now())
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("login: %w", err)
	}
	return pair, nil
}

// Refresh rotates a refresh token and returns a new pair. Every failure is
// reported as ErrInvalidRefreshToken. Presenting an already revoked token is
// treated as theft: it is logged and, if configured, every session of the
// user is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (TokenPair, error) {
	rot, err := s.Ledger.Rotate(ctx, s.Store, refreshToken, meta, requireActive(ctx))
	if err != nil {
		var reused *ReusedTokenError
		if errors.As(err, &reused) {
			s.handleReuse(ctx, reused.UserID)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		if errors.Is(err, ErrInvalidRefreshToken) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	access, err := s.accessToken(rot.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh: %w", err)
	}
	s.Metrics.RefreshRotated.Inc()
	return TokenPair{AccessToken: access, RefreshToken: rot.RefreshToken, TokenType: "bearer"}, nil
}

func requireActive(ctx context.Context) func(tx repo.Store, userID uuid.UUID) error {
	return func(tx repo.Store, userID uuid.UUID) error {
		user, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if !user.IsActive {
			return ErrInvalidRefreshToken
		}
		return nil
	}
}

func (s *Service) handleReuse(ctx context.Context, userID uuid.UUID) {
	s.Metrics.RefreshReuseDetected.Inc()
	if !s.cfg.RevokeAllOnReuse {
		s.Logger.Warn("revoked refresh token presented", zap.String("user_id", userID.String()))
		return
	}
	n, err := s.Ledger.RevokeAll(ctx, s.Store.RefreshTokens(), userID)
	if err != nil {
		s.Logger.Error("failed to revoke sessions after refresh token reuse",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	s.Logger.Warn("revoked refresh token presented, all sessions revoked",
		zap.String("user_id", userID.String()), zap.Int64("revoked", n))
}

// Logout revokes the refresh token if it is known and active. Invalid or
// unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := s.Ledger.Revoke(ctx, s.Store.RefreshTokens(), refreshToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// LogoutAll revokes every active refresh token of the user.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	n, err := s.Ledger.RevokeAll(ctx, s.Store.RefreshTokens(), userID)
	if err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	s.Logger.Info("all sessions revoked", zap.String("user_id", userID.String()), zap.Int64("revoked", n))
	return nil
}

// Authenticate resolves a bearer access token to an active user. Every
// rejection is ErrUnauthorized; storage failures are returned as is.
func (s *Service) Authenticate(ctx context.Context, bearer string) (model.User, error) {
	claims, err := s.Codec.Decode(bearer)
	if err != nil {
		return model.User{}, ErrUnauthorized
	}
	ac, ok := claims.(AccessClaims)
	if !ok {
		return model.User{}, ErrUnauthorized
	}

	user, err := s.Store.Users().GetByID(ctx, ac.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrUnauthorized
		}
		return model.User{}, fmt.Errorf("authenticate: %w", err)
	}
	if !user.IsActive {
		return model.User{}, ErrUnauthorized
	}
	return user, nil
}

// SetPassword enables password login for the user.
func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	digest, err := s.Hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Store.Users().SetPassword(ctx, userID, digest, s.Clock.Now()); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// UpdateProfile changes the optional name fields. Nil leaves a field as is.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, lastName *string) (model.User, error) {
	user, err := s.Store.Users().UpdateProfile(ctx, userID, firstName, lastName, s.Clock.Now())
	if err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// Prune deletes expired one-time codes and refresh ledger entries that
// expired more than the retention period ago.
func (s *Service) Prune(ctx context.Context) (PruneResult, error) {
	now := s.Clock.Now()
	var res PruneResult

	n, err := s.Store.OTPs().DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("prune otp requests: %w", err)
	}
	res.OTPRequests = n

	n, err = s.Store.RefreshTokens().DeleteExpired(ctx, now.Add(-s.cfg.PruneRetention))
	if err != nil {
		return res, fmt.Errorf("prune refresh tokens: %w", err)
	}
	res.RefreshTokens = n
	return res, nil
}

// RunJanitor calls Prune every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := s.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			res, err := s.Prune(ctx)
			if err != nil {
				s.Logger.Error("prune failed", zap.Error(err))
				continue
			}
			s.Logger.Debug("pruned expired rows",
				zap.Int64("otp_requests", res.OTPRequests),
				zap.Int64("refresh_tokens", res.RefreshTokens))
		}
	}
}

func (s *Service) throttle(ctx context.Context, key string) error {
	d, err := s.Limiter.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		return &RateLimitError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *Service) issuePair(ctx context.Context, tx repo.Store, userID uuid.UUID, meta ClientMeta) (TokenPair, error) {
	refresh, _, err := s.Ledger.Issue(ctx, tx.RefreshTokens(), userID, meta)
	if err != nil {
		return TokenPair{}, err
	}
	access, err := s.accessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *Service) accessToken(userID uuid.UUID) (string, error) {
	return s.Codec.Encode(AccessClaims{UserID: userID, ExpiresAt: s.Clock.Now().Add(s.cfg.AccessTokenTTL)})
}
