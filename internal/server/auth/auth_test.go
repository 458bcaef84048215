package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	hashCost = bcrypt.MinCost
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
	assert.False(t, CheckPassword(hash, ""))
	assert.False(t, CheckPassword("", "hunter22"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestRejectPassword(t *testing.T) {
	assert.False(t, RejectPassword("filevault-no-such-user"))
	assert.False(t, RejectPassword(""))

	cost, err := bcrypt.Cost(dummyHash())
	require.NoError(t, err)
	assert.Equal(t, hashCost, cost, "unknown accounts must cost as much as known ones")
}

func TestSessionIssuer(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	newIssuer := func(t *testing.T) *SessionIssuer {
		t.Helper()
		s, err := NewSessionIssuer(testSecret, time.Hour)
		require.NoError(t, err)
		s.now = func() time.Time { return now }
		return s
	}

	t.Run("round trip", func(t *testing.T) {
		s := newIssuer(t)
		token, expiresAt, err := s.Issue(42, 3)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Hour), expiresAt)

		claims, err := s.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), claims.UserID)
		assert.Equal(t, 3, claims.Epoch)
	})

	t.Run("expired", func(t *testing.T) {
		s := newIssuer(t)
		token, _, err := s.Issue(1, 0)
		require.NoError(t, err)

		s.now = func() time.Time { return now.Add(2 * time.Hour) }
		_, err = s.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("wrong secret", func(t *testing.T) {
		s := newIssuer(t)
		token, _, err := s.Issue(1, 0)
		require.NoError(t, err)

		other, err := NewSessionIssuer(strings.Repeat("x", 32), time.Hour)
		require.NoError(t, err)
		other.now = s.now
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("rejects none algorithm", func(t *testing.T) {
		s := newIssuer(t)
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = s.Parse(unsigned)
		assert.True(t, errors.Is(err, ErrInvalidSession))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := newIssuer(t).Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("short secret", func(t *testing.T) {
		_, err := NewSessionIssuer("short", time.Hour)
		assert.Error(t, err)
	})
}
