// Package auth implements the single-user login that guards the API.
//
// There is exactly one account, configured at startup with a bcrypt
// password hash. A successful login yields an HS256-signed JWT that the
// client presents on later requests either as a bearer token or in the
// "token" cookie.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is how long a token is valid when no other lifetime is
// configured.
const DefaultTokenTTL = 60 * time.Minute

type staticError string

func (err staticError) Error() string {
	return string(err)
}

// ErrInvalidCredentials is returned by [Authenticator.Login] when the
// username or password doesn't match.
const ErrInvalidCredentials = staticError("invalid name or password")

// ErrInvalidToken is returned by [Authenticator.Validate] for any token
// that is malformed, badly signed or expired.
const ErrInvalidToken = staticError("invalid or expired token")

// Authenticator checks credentials and issues and validates tokens.
type Authenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration

	now func() time.Time
}

// New returns an [Authenticator] for the given account. ttl of zero
// selects [DefaultTokenTTL].
func New(username, passwordHash string, secret []byte, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       secret,
		ttl:          ttl,
		now:          time.Now,
	}
}

// Login checks the given credentials and, if they are correct, returns a
// newly-signed token for the account.
func (a *Authenticator) Login(username, password string) (string, error) {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passwordErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !usernameMatch || passwordErr != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   a.username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Validate checks the given token and returns the subject it was issued
// to.
func (a *Authenticator) Validate(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject != a.username {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
