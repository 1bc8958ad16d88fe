package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"aud": "api://board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer header.payload.signature", "header.payload.signature", nil},
		{"  Bearer a.b.c  ", "a.b.c", nil},
		{"", "", errMissingAuthorization},
		{"   ", "", errMissingAuthorization},
		{"Basic dXNlcjpwdw==", "", errBadAuthorization},
		{"Bearer ", "", errBadAuthorization},
		{"Bearer a.b", "", errBadAuthorization},
		{"Bearer ....", "", errBadAuthorization},
	}
	for _, tc := range cases {
		got, err := bearerToken(tc.header)
		if err != tc.err || got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, err, tc.want, tc.err)
		}
	}
}

func TestSharedSecretAuth(t *testing.T) {
	auth := NewSharedSecretAuth(testSecret, "api://board", "https://issuer/")

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signedToken(t, validClaims("user-123")))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestSharedSecretAuthRejects(t *testing.T) {
	auth := NewSharedSecretAuth(testSecret, "api://board", "https://issuer/")

	expired := validClaims("u")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims("u")
	wrongAud["aud"] = "api://other"
	noSub := validClaims("")
	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("u")).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("u")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, token := range map[string]string{
		"expired":        signedToken(t, expired),
		"wrong audience": signedToken(t, wrongAud),
		"missing sub":    signedToken(t, noSub),
		"wrong key":      otherKey,
		"alg none":       unsigned,
	} {
		if _, err := auth.UserIDFromAuthHeader("Bearer " + token); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}

func TestAuthWithoutJWKSFails(t *testing.T) {
	auth := NewAuth(nil, "", "", DefaultJWKSCacheTTL)
	if _, err := auth.UserIDFromAuthHeader("Bearer a.b.c"); err == nil {
		t.Fatalf("expected failure without jwks")
	}
}
