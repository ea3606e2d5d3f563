package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beatwave/playsync/src/types"
)

// Validation failures. ErrMissingCredential and ErrExpiredCredential are
// distinguished so the handshake can report them separately; every other
// verification failure collapses into ErrInvalidCredential.
var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrExpiredCredential = errors.New("auth: expired credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Plan  string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens presented at connection time. The signing
// secret is shared with the REST API's auth, so a token minted there admits a
// playback sync connection.
type Validator struct {
	secret []byte
	now    func() time.Time
}

// NewValidator creates a Validator for HMAC-SHA256 tokens signed with secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret), now: time.Now}
}

// Validate verifies the token and returns the identity claims it carries.
// It runs exactly once per connection attempt, before any registry mutation.
func (v *Validator) Validate(token string) (types.Claims, error) {
	if token == "" {
		return types.Claims{}, ErrMissingCredential
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Claims{}, ErrExpiredCredential
		}
		return types.Claims{}, ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Subject == "" {
		return types.Claims{}, ErrInvalidCredential
	}
	return types.Claims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Plan:   claims.Plan,
	}, nil
}

// Issue mints a token for the given identity, valid for ttl. Used by tooling
// and tests; production tokens come from the REST API's login flow.
func (v *Validator) Issue(c types.Claims, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: c.Email,
		Plan:  c.Plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
