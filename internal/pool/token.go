package pool

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quern/quern/internal/errs"
)

// sessionClaims are the fields Quern embeds in a claim token, identifying
// which session holds a device and since when.
type sessionClaims struct {
	jwt.RegisteredClaims
	UDID string `json:"udid"`
}

// TokenSigner mints and verifies the HS256 session tokens a pool claim
// returns as claimed_by, so a resolve and a later release can be matched
// to the same caller without the pool trusting a bare string. Grounded on
// r3e-network-service_layer's services/accountpool claim-ownership-by-opaque-id idea,
// generalized to a signed token since Quern's pool is file-backed rather
// than behind an authenticated RPC boundary.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner builds a signer from secret. An empty secret generates a
// random one, scoped to this process's lifetime — acceptable since claim
// tokens never need to survive a daemon restart (the pool file's
// claimed_by is matched by exact string, not by re-verifying the token).
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(b)
	}
	return &TokenSigner{secret: []byte(secret)}, nil
}

// Issue mints a session token claiming udid, valid until expiry.
func (s *TokenSigner) Issue(udid string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		UDID: udid,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a session token, returning the udid it
// claims.
func (s *TokenSigner) Verify(tokenString string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errs.Unauthenticated("invalid or expired session token")
	}
	return claims.UDID, nil
}
