package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hasher hashes and verifies passwords and one-time codes.
type Hasher interface {
	Hash(secret string) (string, error)
	// Verify reports whether secret produced digest. Malformed digests yield false.
	Verify(secret, digest string) bool
}

// Argon2Params tunes the argon2id cost.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP minimum for argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Upper bounds accepted when parsing a stored digest.
const (
	maxArgon2Memory     = 1 << 20
	maxArgon2Iterations = 16
)

// Argon2Hasher produces PHC-formatted argon2id digests:
//
//	$argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher creates a hasher. Zero salt/key lengths fall back to the defaults.
func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	def := DefaultArgon2Params()
	if p.SaltLength == 0 {
		p.SaltLength = def.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = def.KeyLength
	}
	if p.Memory == 0 {
		p.Memory = def.Memory
	}
	if p.Iterations == 0 {
		p.Iterations = def.Iterations
	}
	if p.Parallelism == 0 {
		p.Parallelism = def.Parallelism
	}
	return &Argon2Hasher{params: p}
}

// Hash implements Hasher.
func (h *Argon2Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify implements Hasher. The parameters stored in the digest are used, so
// digests created before a cost change still verify.
func (h *Argon2Hasher) Verify(secret, digest string) bool {
	p, salt, key, ok := parseArgon2Digest(digest)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1
}

func parseArgon2Digest(digest string) (Argon2Params, []byte, []byte, bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, false
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, false
	}
	if p.Memory == 0 || p.Memory > maxArgon2Memory || p.Iterations == 0 || p.Iterations > maxArgon2Iterations || p.Parallelism == 0 {
		return Argon2Params{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2Params{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, false
	}
	return p, salt, key, true
}
