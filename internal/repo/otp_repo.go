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

// OtpRepo defines the interface for OTP request repository operations
type OtpRepo interface {
	Create(ctx context.Context, otp model.OtpRequest) error
	LatestValid(ctx context.Context, phone string, now time.Time) (model.OtpRequest, error)
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type otpRepo struct {
	q querier
	d Dialect
}

// Create inserts a new OTP request. Earlier requests for the same phone are left alone.
func (r *otpRepo) Create(ctx context.Context, otp model.OtpRequest) error {
	query := rebind(r.d, `
		INSERT INTO otp_requests (id, phone_number, code_hash, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.q.ExecContext(ctx, query,
		otp.ID, otp.PhoneNumber, otp.CodeHash, otp.CreatedAt.UTC(), otp.ExpiresAt.UTC(), otp.Used)
	if err != nil {
		return fmt.Errorf("insert otp request: %w", err)
	}
	return nil
}

// LatestValid returns the newest unused, unexpired request for the phone.
func (r *otpRepo) LatestValid(ctx context.Context, phone string, now time.Time) (model.OtpRequest, error) {
	query := rebind(r.d, `
		SELECT id, phone_number, code_hash, created_at, expires_at, used
		FROM otp_requests
		WHERE phone_number = ?
		  AND used = FALSE
		  AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`)
	var otp model.OtpRequest
	err := r.q.QueryRowContext(ctx, query, phone, now.UTC()).Scan(
		&otp.ID,
		&otp.PhoneNumber,
		&otp.CodeHash,
		&otp.CreatedAt,
		&otp.ExpiresAt,
		&otp.Used,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpRequest{}, ErrNotFound
		}
		return model.OtpRequest{}, fmt.Errorf("query otp request: %w", err)
	}
	return otp, nil
}

// Consume marks the request used. It reports false when another caller
// consumed it first, so a code can only ever be redeemed once.
func (r *otpRepo) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	query := rebind(r.d, `UPDATE otp_requests SET used = TRUE WHERE id = ? AND used = FALSE`)
	res, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("consume otp request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes requests that expired before the given time.
func (r *otpRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := rebind(r.d, `DELETE FROM otp_requests WHERE expires_at < ?`)
	res, err := r.q.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired otp requests: %w", err)
	}
	return res.RowsAffected()
}
