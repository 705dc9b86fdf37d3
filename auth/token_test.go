package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", 15*time.Minute, 24*time.Hour)
	userID := uuid.New()

	access, refresh, err := m.GenerateTokens(userID)
	require.NoError(t, err)

	got, err := m.ValidateToken(access, accessTokenType)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	got, err = m.ValidateToken(refresh, refreshTokenType)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// a refresh token is not an access token
	_, err = m.ValidateToken(refresh, accessTokenType)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsTamperingAndExpiry(t *testing.T) {
	m := NewTokenManager("secret", time.Minute, time.Hour)
	access, _, err := m.GenerateTokens(uuid.New())
	require.NoError(t, err)

	other := NewTokenManager("other", time.Minute, time.Hour)
	_, err = other.ValidateToken(access, accessTokenType)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not-a-token", accessTokenType)
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.ValidateToken(access, accessTokenType)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}
