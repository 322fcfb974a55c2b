package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/milad7akbari/sysense/internal/model"
	"github.com/milad7akbari/sysense/internal/repo"
)

// OTPStore issues and redeems hashed one-time codes.
type OTPStore struct {
	hasher Hasher
	length int
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewOTPStore creates an OTP store issuing numeric codes of the given length.
func NewOTPStore(hasher Hasher, length int, ttl time.Duration, clock clockwork.Clock) *OTPStore {
	return &OTPStore{
		hasher: hasher,
		length: length,
		ttl:    ttl,
		clock:  clock,
	}
}

// Issue generates a code, persists its hash and returns the plain code for
// delivery. Earlier codes for the phone are left to expire.
func (s *OTPStore) Issue(ctx context.Context, otps repo.OtpRepo, phone string) (string, error) {
	code, err := generateCode(s.length)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}

	now := s.clock.Now()
	req := model.OtpRequest{
		ID:          uuid.New(),
		PhoneNumber: phone,
		CodeHash:    hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := otps.Create(ctx, req); err != nil {
		return "", fmt.Errorf("create otp request: %w", err)
	}
	return code, nil
}

// VerifyAndConsume checks candidate against the newest valid code for phone.
// On a match it marks the code used and runs then in the same transaction,
// so consumption and its side effects commit or roll back together. Any
// mismatch, missing or expired code, or lost race yields ErrInvalidCredential.
func (s *OTPStore) VerifyAndConsume(ctx context.Context, store repo.Store, phone, candidate string, then func(tx repo.Store) error) error {
	req, err := store.OTPs().LatestValid(ctx, phone, s.clock.Now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidCredential
		}
		return err
	}

	// Hashing is slow; keep it outside the transaction.
	if !s.hasher.Verify(candidate, req.CodeHash) {
		return ErrInvalidCredential
	}

	return store.WithTx(ctx, func(tx repo.Store) error {
		ok, err := tx.OTPs().Consume(ctx, req.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredential
		}
		if then == nil {
			return nil
		}
		return then(tx)
	})
}

func generateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}
