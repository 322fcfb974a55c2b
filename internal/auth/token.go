package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// TokenType tags the two token variants on the wire.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// ErrInvalidToken is returned by Decode for any token that is malformed,
// wrongly signed or expired.
var ErrInvalidToken = errors.New("invalid token")

var signingMethod = jwt.SigningMethodHS256

// Claims is either AccessClaims or RefreshClaims.
type Claims interface {
	Type() TokenType
	Subject() uuid.UUID
	Expiry() time.Time
}

// AccessClaims authorizes API calls for UserID until ExpiresAt.
type AccessClaims struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
}

func (c AccessClaims) Type() TokenType { return TokenAccess }
func (c AccessClaims) Subject() uuid.UUID { return c.UserID }
func (c AccessClaims) Expiry() time.Time { return c.ExpiresAt }

// RefreshClaims can be exchanged once for a new token pair. JTI identifies
// its ledger entry.
type RefreshClaims struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
	JTI       string
}

func (c RefreshClaims) Type() TokenType { return TokenRefresh }
func (c RefreshClaims) Subject() uuid.UUID { return c.UserID }
func (c RefreshClaims) Expiry() time.Time { return c.ExpiresAt }

// wireClaims is the JSON payload of a token.
type wireClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenCodec signs and parses HS256 tokens with a shared secret.
type TokenCodec struct {
	secret []byte
	clock  clockwork.Clock
}

// NewTokenCodec creates a codec. Expiry is checked against clock.
func NewTokenCodec(secret string, clock clockwork.Clock) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		clock:  clock,
	}
}

// Encode signs claims. Expiry is truncated to whole seconds on the wire.
func (c *TokenCodec) Encode(claims Claims) (string, error) {
	if claims.Expiry().IsZero() {
		return "", fmt.Errorf("encode token: missing expiry")
	}

	wire := wireClaims{
		Type: claims.Type(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject().String(),
			IssuedAt:  jwt.NewNumericDate(c.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(claims.Expiry()),
		},
	}
	if rc, ok := claims.(RefreshClaims); ok {
		if rc.JTI == "" {
			return "", fmt.Errorf("encode token: refresh token without jti")
		}
		wire.ID = rc.JTI
	}

	token := jwt.NewWithClaims(signingMethod, wire)
	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Decode verifies signature and expiry and returns the typed claims. It does
// not check whether the subject exists or the type fits the caller.
func (c *TokenCodec) Decode(tokenString string) (Claims, error) {
	var wire wireClaims
	_, err := jwt.ParseWithClaims(tokenString, &wire,
		func(token *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(wire.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	expiry := wire.ExpiresAt.Time.UTC()

	switch wire.Type {
	case TokenAccess:
		return AccessClaims{UserID: userID, ExpiresAt: expiry}, nil
	case TokenRefresh:
		if wire.ID == "" {
			return nil, fmt.Errorf("%w: refresh token without jti", ErrInvalidToken)
		}
		return RefreshClaims{UserID: userID, ExpiresAt: expiry, JTI: wire.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidToken, wire.Type)
	}
}
