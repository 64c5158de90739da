package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "a-process-wide-secret-at-least-32b"
	testServerID = "trusted_FinLLM_server_1975"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithBcryptCost(4)}, opts...)
	s, err := NewService(testSecret, "HS256", testServerID, 10*time.Minute, 2*time.Minute, opts...)
	require.NoError(t, err)
	return s
}

func TestPasswordHashVerify(t *testing.T) {
	s := newTestService(t)

	hash, err := s.HashPassword("password1")
	require.NoError(t, err)
	assert.NotEqual(t, "password1", hash)
	assert.True(t, s.VerifyPassword("password1", hash))
	assert.False(t, s.VerifyPassword("password2", hash))
	assert.False(t, s.VerifyPassword("password1", "not-a-hash"))
}

func TestSessionTokenRoundTrip(t *testing.T) {
	s := newTestService(t)

	token, err := s.EncodeSession("teller1", []string{"teller", "customer_service"})
	require.NoError(t, err)

	claims, err := s.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "teller1", claims.Subject)
	assert.Equal(t, []string{"teller", "customer_service"}, claims.Roles)
	assert.Equal(t, testServerID, claims.Auth)
}

func TestDelegationShorterThanSession(t *testing.T) {
	s := newTestService(t)

	session, err := s.EncodeSession("teller1", []string{"teller"})
	require.NoError(t, err)
	delegation, err := s.EncodeDelegation("teller1", []string{"teller", "scope_data=dHJhbnNmZXI6c2F2aW5ncw"})
	require.NoError(t, err)

	sc, err := s.Decode(session)
	require.NoError(t, err)
	dc, err := s.Decode(delegation)
	require.NoError(t, err)

	sessionLife := sc.ExpiresAt.Sub(sc.IssuedAt.Time)
	delegationLife := dc.ExpiresAt.Sub(dc.IssuedAt.Time)
	assert.Equal(t, 2*time.Minute, delegationLife)
	assert.Less(t, delegationLife, sessionLife)
}

func TestDecodeExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := newTestService(t, WithClock(func() time.Time { return clock() }))

	token, err := s.EncodeDelegation("teller1", []string{"teller"})
	require.NoError(t, err)

	_, err = s.Decode(token)
	require.NoError(t, err)

	// Step past the delegation TTL; there is no leeway.
	clock = func() time.Time { return now.Add(2*time.Minute + time.Second) }
	_, err = s.Decode(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeWrongSecret(t *testing.T) {
	s := newTestService(t)
	other, err := NewService("different-secret-entirely-32-byte", "HS256", testServerID, 10*time.Minute, 2*time.Minute)
	require.NoError(t, err)

	token, err := other.EncodeSession("teller1", []string{"teller"})
	require.NoError(t, err)

	_, err = s.Decode(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeWrongServerID(t *testing.T) {
	s := newTestService(t)
	other, err := NewService(testSecret, "HS256", "some_other_server", 10*time.Minute, 2*time.Minute)
	require.NoError(t, err)

	token, err := other.EncodeSession("teller1", []string{"teller"})
	require.NoError(t, err)

	_, err = s.Decode(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeRejectsNoneAlgorithm(t *testing.T) {
	s := newTestService(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "teller1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"teller"},
		Auth:  testServerID,
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Decode(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeGarbage(t *testing.T) {
	s := newTestService(t)
	_, err := s.Decode("not.a.token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService("", "HS256", testServerID, 10*time.Minute, 2*time.Minute)
	assert.Error(t, err)

	_, err = NewService(testSecret, "RS256", testServerID, 10*time.Minute, 2*time.Minute)
	assert.Error(t, err, "non-HMAC algorithms are rejected")

	_, err = NewService(testSecret, "HS256", testServerID, 2*time.Minute, 2*time.Minute)
	assert.Error(t, err, "delegation TTL must be strictly shorter")
}
