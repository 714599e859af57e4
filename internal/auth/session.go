package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/majeggstics/snapshotd/internal/models"
)

// ErrInvalidToken is returned for any malformed, unsigned, or expired
// bearer token (C10).
var ErrInvalidToken = errors.New("auth: invalid or expired session token")

// Verifier verifies session tokens minted by an Exchanger.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier bound to the shared signing secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks a bearer token's signature and expiry and returns the
// Principal it encodes.
func (v *Verifier) Verify(bearerToken string) (models.Principal, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(bearerToken, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Principal{}, ErrInvalidToken
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Before(time.Now()) {
		return models.Principal{}, ErrInvalidToken
	}

	return models.Principal{
		SubjectID:   claims.DiscordID,
		AccessLevel: models.AccessLevel(claims.AccessLevel),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
