package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "filevault"

const minSecretLen = 32

var ErrInvalidSession = errors.New("invalid or expired session")

// SessionClaims identifies a user. Epoch must match the user's current
// session epoch; bumping it on logout revokes every earlier token.
type SessionClaims struct {
	UserID int64 `json:"uid"`
	Epoch  int   `json:"epoch"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates an issuer. The secret must be at least 32 bytes.
func NewSessionIssuer(secret string, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for the user and its expiry.
func (s *SessionIssuer) Issue(userID int64, epoch int) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl).Truncate(time.Second)

	claims := SessionClaims{
		UserID: userID,
		Epoch:  epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies a token's signature, issuer and expiry and returns its claims.
func (s *SessionIssuer) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return claims, nil
}
