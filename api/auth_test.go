package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-secret"

func testModeAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, testSecret)
	return NewAuth(nil, "kanban-api", "https://issuer.test/")
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"aud": "kanban-api",
		"iss": "https://issuer.test/",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestUserIDFromAuthHeaderTestMode(t *testing.T) {
	auth := testModeAuth(t)
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signedToken(t, validClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected subject: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejects(t *testing.T) {
	auth := testModeAuth(t)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-2 * time.Hour).Unix()

	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.test/"

	missingSub := validClaims()
	delete(missingSub, "sub")

	notYetValid := validClaims()
	notYetValid["nbf"] = time.Now().Add(2 * time.Hour).Unix()

	cases := []struct {
		name   string
		header string
	}{
		{"expired", "Bearer " + signedToken(t, expired)},
		{"wrong audience", "Bearer " + signedToken(t, wrongAudience)},
		{"wrong issuer", "Bearer " + signedToken(t, wrongIssuer)},
		{"missing sub", "Bearer " + signedToken(t, missingSub)},
		{"not yet valid", "Bearer " + signedToken(t, notYetValid)},
		{"garbage token", "Bearer a.b.c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.UserIDFromAuthHeader(tc.header); err == nil {
				t.Fatalf("expected %s to be rejected", tc.name)
			}
		})
	}
}

func TestUserIDFromAuthHeaderWrongSecret(t *testing.T) {
	auth := testModeAuth(t)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	signed, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}

func TestBearerTokenFromString(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		token   string
		wantErr error
	}{
		{"valid", "Bearer aaa.bbb.ccc", "aaa.bbb.ccc", nil},
		{"padded", "  Bearer aaa.bbb.ccc  ", "aaa.bbb.ccc", nil},
		{"empty", "", "", errMissingAuthorization},
		{"blank", "   ", "", errMissingAuthorization},
		{"no prefix", "aaa.bbb.ccc", "", errBadAuthorization},
		{"prefix only", "Bearer ", "", errBadAuthorization},
		{"wrong segment count", "Bearer aaa.bbb", "", errBadAuthorization},
		{"too many segments", "Bearer a.b.c.d", "", errBadAuthorization},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := bearerTokenFromString(tc.raw)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if token != tc.token {
				t.Fatalf("expected token %q, got %q", tc.token, token)
			}
		})
	}
}
