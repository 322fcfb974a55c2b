package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewJTI returns a fresh random token id.
func NewJTI() string {
	return uuid.NewString()
}

// HashJTI returns SHA256 hex of the jti. Only this value is stored in the ledger.
func HashJTI(jti string) string {
	hash := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(hash[:])
}
