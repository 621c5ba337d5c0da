package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("security: invalid token")

const claimUserID = "userID"

// TokenIssuer signs and verifies HS256 bearer tokens carrying a user id.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (t *TokenIssuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("security: user id is required")
	}
	claims := jwt.MapClaims{
		claimUserID: userID,
		"exp":       t.now().Add(t.TTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the user id of a valid, unexpired token.
func (t *TokenIssuer) Verify(raw string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, _ := claims[claimUserID].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidToken, claimUserID)
	}
	return userID, nil
}

func (t *TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
