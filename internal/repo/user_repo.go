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

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, phone string, now time.Time) (model.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName *string, now time.Time) (model.User, error)
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error
	TouchLogin(ctx context.Context, id uuid.UUID, now time.Time) error
}

type userRepo struct {
	q querier
	d Dialect
}

const userColumns = `id, phone_number, first_name, last_name, password_hash, is_active, created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.PhoneNumber,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := rebind(r.d, `SELECT `+userColumns+` FROM users WHERE id = ?`)
	return scanUser(r.q.QueryRowContext(ctx, query, id))
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := rebind(r.d, `SELECT `+userColumns+` FROM users WHERE phone_number = ?`)
	return scanUser(r.q.QueryRowContext(ctx, query, phone))
}

// GetOrCreateByPhone retrieves a user by phone number or creates one if it doesn't exist
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, phone string, now time.Time) (model.User, error) {
	now = now.UTC()
	// Insert first; a concurrent creator for the same phone makes this a no-op.
	query := rebind(r.d, `
		INSERT INTO users (id, phone_number, is_active, created_at, updated_at)
		VALUES (?, ?, TRUE, ?, ?)
		ON CONFLICT (phone_number) DO NOTHING
	`)
	if _, err := r.q.ExecContext(ctx, query, uuid.New(), phone, now, now); err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	// Now select the user (whether it was just created or already existed)
	return r.GetByPhone(ctx, phone)
}

// UpdateProfile sets the non-nil profile fields and keeps the others.
func (r *userRepo) UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName *string, now time.Time) (model.User, error) {
	query := rebind(r.d, `
		UPDATE users
		SET first_name = COALESCE(?, first_name), last_name = COALESCE(?, last_name), updated_at = ?
		WHERE id = ?
	`)
	res, err := r.q.ExecContext(ctx, query, firstName, lastName, now.UTC(), id)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := expectRow(res); err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// SetPassword stores a password digest for the user.
func (r *userRepo) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	query := rebind(r.d, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, passwordHash, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return expectRow(res)
}

// SetActive activates or deactivates a user. Users are never deleted.
func (r *userRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error {
	query := rebind(r.d, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, active, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set active: %w", err)
	}
	return expectRow(res)
}

// TouchLogin records a successful login.
func (r *userRepo) TouchLogin(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := rebind(r.d, `UPDATE users SET last_login_at = ? WHERE id = ?`)
	res, err := r.q.ExecContext(ctx, query, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch login: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
