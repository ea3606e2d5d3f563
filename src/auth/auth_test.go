package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatwave/playsync/src/types"
)

func TestValidateRoundTrip(t *testing.T) {
	v := NewValidator("test-secret")

	token, err := v.Issue(types.Claims{
		UserID: "user-1",
		Email:  "user@example.com",
		Plan:   "premium",
	}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "premium", claims.Plan)
}

func TestValidateMissingCredential(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate("")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestValidateExpiredCredential(t *testing.T) {
	v := NewValidator("test-secret")

	token, err := v.Issue(types.Claims{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredCredential)
}

func TestValidateWrongSecret(t *testing.T) {
	v := NewValidator("test-secret")
	token, err := v.Issue(types.Claims{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	other := NewValidator("other-secret")
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidateMalformedToken(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidateMissingSubject(t *testing.T) {
	v := NewValidator("test-secret")
	token, err := v.Issue(types.Claims{Plan: "free"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
