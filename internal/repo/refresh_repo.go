package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/milad7akbari/sysense/internal/model"
)

// RefreshRepo defines the interface for the refresh token ledger
type RefreshRepo interface {
	Create(ctx context.Context, t model.RefreshToken) error
	FindByJTIHash(ctx context.Context, jtiHash string, userID uuid.UUID) (model.RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID, replacedBy *uuid.UUID, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type refreshRepo struct {
	q querier
	d Dialect
}

// Create inserts a new ledger entry
func (r *refreshRepo) Create(ctx context.Context, t model.RefreshToken) error {
	query := rebind(r.d, `
		INSERT INTO refresh_tokens (id, user_id, jti_hash, created_at, expires_at, revoked, user_agent, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.UserID, t.JTIHash, t.CreatedAt.UTC(), t.ExpiresAt.UTC(), t.Revoked, t.UserAgent, t.IP)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// FindByJTIHash returns the entry regardless of revocation or expiry; the
// caller decides what a revoked entry means.
func (r *refreshRepo) FindByJTIHash(ctx context.Context, jtiHash string, userID uuid.UUID) (model.RefreshToken, error) {
	query := rebind(r.d, `
		SELECT id, user_id, jti_hash, created_at, expires_at, revoked, revoked_at, replaced_by, user_agent, ip
		FROM refresh_tokens
		WHERE jti_hash = ? AND user_id = ?
	`)
	var (
		t          model.RefreshToken
		replacedBy uuid.NullUUID
	)
	err := r.q.QueryRowContext(ctx, query, jtiHash, userID).Scan(
		&t.ID,
		&t.UserID,
		&t.JTIHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.Revoked,
		&t.RevokedAt,
		&replacedBy,
		&t.UserAgent,
		&t.IP,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	if replacedBy.Valid {
		id := replacedBy.UUID
		t.ReplacedBy = &id
	}
	return t, nil
}

// Revoke flips an active entry to revoked. It reports false when the entry
// was already revoked, which makes it the serialization point between
// concurrent rotations and logouts of the same token.
func (r *refreshRepo) Revoke(ctx context.Context, id uuid.UUID, replacedBy *uuid.UUID, now time.Time) (bool, error) {
	query := rebind(r.d, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = ?, replaced_by = ?
		WHERE id = ? AND revoked = FALSE
	`)
	var replaced any
	if replacedBy != nil {
		replaced = *replacedBy
	}
	res, err := r.q.ExecContext(ctx, query, now.UTC(), replaced, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// RevokeAllForUser revokes all active entries for a user (logout-all, reuse response)
func (r *refreshRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	query := rebind(r.d, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE user_id = ? AND revoked = FALSE
	`)
	res, err := r.q.ExecContext(ctx, query, now.UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens for user: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired prunes entries whose expiry is older than before. Entries
// that are still inside their lifetime are kept as the audit trail.
func (r *refreshRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := rebind(r.d, `DELETE FROM refresh_tokens WHERE expires_at < ?`)
	res, err := r.q.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
