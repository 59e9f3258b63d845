package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestVerifyValidToken(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)

	userID, err := v.Verify(signedToken(t, testSecret, "user-42"))
	if err != nil {
		t.Fatal(err)
	}
	if userID != "user-42" {
		t.Fatalf("expected user-42, got %q", userID)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)

	if _, err := v.Verify(signedToken(t, "other-secret", "user-42")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsEmpty(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)
	if _, err := v.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyDevModeWithoutSecret(t *testing.T) {
	v := NewTokenVerifier("", true)

	userID, err := v.Verify(signedToken(t, "anything", "dev-user"))
	if err != nil {
		t.Fatal(err)
	}
	if userID != "dev-user" {
		t.Fatalf("expected dev-user, got %q", userID)
	}
}

func TestVerifyProductionRequiresSecret(t *testing.T) {
	v := NewTokenVerifier("", false)
	if _, err := v.Verify(signedToken(t, "anything", "u")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	v := NewTokenVerifier(testSecret, false)

	var gotUser string
	handler := v.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserIDFrom(r.Context())
	}))

	// No header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/meetings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	// Bad token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/meetings", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	// Valid token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/meetings", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "user-42"))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser != "user-42" {
		t.Fatalf("expected user id on context, got %q", gotUser)
	}
}
