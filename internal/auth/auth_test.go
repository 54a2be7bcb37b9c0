package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return New("admin", string(hash), []byte("test-secret"), time.Hour)
}

func TestLoginAndValidate(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.Login("admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	subject, err := a.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if subject != "admin" {
		t.Errorf("wrong subject %q", subject)
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	a := newTestAuthenticator(t)

	tests := map[string][2]string{
		"wrong password": {"admin", "hunter3"},
		"wrong username": {"root", "hunter2"},
		"empty":          {"", ""},
	}
	for name, creds := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Login(creds[0], creds[1])
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("wrong error: %v", err)
			}
		})
	}
}

func TestValidateExpired(t *testing.T) {
	a := newTestAuthenticator(t)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }

	token, err := a.Login("admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	a.now = func() time.Time { return issued.Add(59 * time.Minute) }
	if _, err := a.Validate(token); err != nil {
		t.Errorf("token rejected before expiry: %s", err)
	}

	a.now = func() time.Time { return issued.Add(61 * time.Minute) }
	if _, err := a.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong error for expired token: %v", err)
	}
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	a := newTestAuthenticator(t)

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "admin",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	otherSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"garbage":       "not-a-jwt",
		"other secret":  otherSecret,
		"no expiry":     noExpiry,
		"other subject": otherSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Validate(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("wrong error: %v", err)
			}
		})
	}
}
