package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/milad7akbari/sysense/internal/model"
	"github.com/milad7akbari/sysense/internal/repo"
)

// ClientMeta is recorded on each ledger entry for auditing.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// ReusedTokenError is returned by Rotate when the presented refresh token
// belongs to an entry that was already revoked. It matches
// ErrInvalidRefreshToken so callers that do not care see the uniform error.
type ReusedTokenError struct {
	UserID uuid.UUID
}

func (e *ReusedTokenError) Error() string {
	return "refresh token reused"
}

func (e *ReusedTokenError) Is(target error) bool {
	return target == ErrInvalidRefreshToken
}

// Rotation is the result of a successful Rotate.
type Rotation struct {
	UserID       uuid.UUID
	RefreshToken string
	Entry        model.RefreshToken
}

// Ledger mints refresh tokens and tracks them by jti hash.
type Ledger struct {
	codec *TokenCodec
	ttl   time.Duration
	clock clockwork.Clock
}

// NewLedger creates a ledger issuing refresh tokens valid for ttl.
func NewLedger(codec *TokenCodec, ttl time.Duration, clock clockwork.Clock) *Ledger {
	return &Ledger{codec: codec, ttl: ttl, clock: clock}
}

// Issue mints a refresh token for userID and persists its ledger entry.
func (l *Ledger) Issue(ctx context.Context, tokens repo.RefreshRepo, userID uuid.UUID, meta ClientMeta) (string, model.RefreshToken, error) {
	token, entry, err := l.mint(userID, meta)
	if err != nil {
		return "", model.RefreshToken{}, err
	}
	if err := tokens.Create(ctx, entry); err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return token, entry, nil
}

func (l *Ledger) mint(userID uuid.UUID, meta ClientMeta) (string, model.RefreshToken, error) {
	now := l.clock.Now()
	jti := NewJTI()
	claims := RefreshClaims{UserID: userID, ExpiresAt: now.Add(l.ttl), JTI: jti}

	token, err := l.codec.Encode(claims)
	if err != nil {
		return "", model.RefreshToken{}, err
	}
	entry := model.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		JTIHash:   HashJTI(jti),
		CreatedAt: now,
		ExpiresAt: claims.ExpiresAt,
		UserAgent: optional(meta.UserAgent),
		IP:        optional(meta.IP),
	}
	return token, entry, nil
}

// Rotate exchanges a refresh token for a new one. The old entry is revoked
// and the new one created in a single transaction. guard, when set, runs
// inside that transaction before anything is written and may veto the
// rotation.
//
// Absent, expired and lost-race entries all yield ErrInvalidRefreshToken. A
// revoked entry yields *ReusedTokenError.
func (l *Ledger) Rotate(ctx context.Context, store repo.Store, old string, meta ClientMeta, guard func(tx repo.Store, userID uuid.UUID) error) (Rotation, error) {
	rc, err := l.decodeRefresh(old)
	if err != nil {
		return Rotation{}, ErrInvalidRefreshToken
	}

	var rot Rotation
	err = store.WithTx(ctx, func(tx repo.Store) error {
		entry, err := tx.RefreshTokens().FindByJTIHash(ctx, HashJTI(rc.JTI), rc.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if entry.Revoked {
			return &ReusedTokenError{UserID: rc.UserID}
		}
		if !entry.Usable(l.clock.Now()) {
			return ErrInvalidRefreshToken
		}
		if guard != nil {
			if err := guard(tx, rc.UserID); err != nil {
				return err
			}
		}

		token, next, err := l.mint(rc.UserID, meta)
		if err != nil {
			return err
		}
		ok, err := tx.RefreshTokens().Revoke(ctx, entry.ID, &next.ID, l.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidRefreshToken
		}
		if err := tx.RefreshTokens().Create(ctx, next); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}

		rot = Rotation{UserID: rc.UserID, RefreshToken: token, Entry: next}
		return nil
	})
	if err != nil {
		return Rotation{}, err
	}
	return rot, nil
}

// Revoke marks the entry behind token revoked. Tokens that do not decode, are
// not refresh tokens, or have no active entry are ignored. Only storage
// failures are returned.
func (l *Ledger) Revoke(ctx context.Context, tokens repo.RefreshRepo, token string) error {
	rc, err := l.decodeRefresh(token)
	if err != nil {
		return nil
	}
	entry, err := tokens.FindByJTIHash(ctx, HashJTI(rc.JTI), rc.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := tokens.Revoke(ctx, entry.ID, nil, l.clock.Now()); err != nil {
		return err
	}
	return nil
}

// RevokeAll revokes every active entry of userID and returns how many were revoked.
func (l *Ledger) RevokeAll(ctx context.Context, tokens repo.RefreshRepo, userID uuid.UUID) (int64, error) {
	return tokens.RevokeAllForUser(ctx, userID, l.clock.Now())
}

func (l *Ledger) decodeRefresh(token string) (RefreshClaims, error) {
	claims, err := l.codec.Decode(token)
	if err != nil {
		return RefreshClaims{}, err
	}
	rc, ok := claims.(RefreshClaims)
	if !ok {
		return RefreshClaims{}, ErrInvalidToken
	}
	return rc, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
