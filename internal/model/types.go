package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID
	PhoneNumber  string
	FirstName    *string
	LastName     *string
	PasswordHash *string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// OtpRequest is a single issued one-time code. Only the hash of the code is kept.
type OtpRequest struct {
	ID          uuid.UUID
	PhoneNumber string
	CodeHash    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
}

// Valid reports whether the code can still be consumed at now.
func (o OtpRequest) Valid(now time.Time) bool {
	return !o.Used && o.ExpiresAt.After(now)
}

// RefreshToken is the ledger entry backing an issued refresh token.
// JTIHash is the SHA-256 of the token's jti; the raw token is never stored.
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	JTIHash    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
	UserAgent  *string
	IP         *string
}

// Usable reports whether the entry may still be rotated.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
