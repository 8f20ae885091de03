package usertoken

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"booklib/pkg/domain"
)

const testSecret = "verifier-test-secret"

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	v, err := NewVerifier(cfg)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyValidToken(t *testing.T) {
	v := newVerifier(t, Config{})
	token := sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"role": "Admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	ident, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ident.UserID != "user-1" || ident.Role != domain.RoleAdmin {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestVerifyUnknownRoleDowngradesToUser(t *testing.T) {
	v := newVerifier(t, Config{})
	for _, role := range []string{"", "User", "superadmin", "admin"} {
		token := sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "user-1",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		ident, err := v.Verify(token)
		if err != nil {
			t.Fatalf("role %q: %v", role, err)
		}
		if ident.Role != domain.RoleUser {
			t.Fatalf("role %q must not grant %s", role, ident.Role)
		}
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := newVerifier(t, Config{Issuer: "idp", Audience: "catalog"})
	future := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "exp": future, "iss": "idp", "aud": "catalog",
		}),
		"expired": sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "exp": time.Now().Add(-time.Hour).Unix(), "iss": "idp", "aud": "catalog",
		}),
		"no expiry": sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "iss": "idp", "aud": "catalog",
		}),
		"wrong issuer": sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "exp": future, "iss": "other", "aud": "catalog",
		}),
		"wrong audience": sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u", "exp": future, "iss": "idp", "aud": "other",
		}),
		"empty subject": sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "  ", "exp": future, "iss": "idp", "aud": "catalog",
		}),
		"garbage": "not.a.token",
	}
	for name, token := range cases {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	v := newVerifier(t, Config{})
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u", "role": "Admin", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("none algorithm must be rejected, got %v", err)
	}
}

func TestVerifyLeewayAcceptsRecentlyExpired(t *testing.T) {
	v := newVerifier(t, Config{Leeway: time.Minute})
	token := sign(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u", "exp": time.Now().Add(-10 * time.Second).Unix(),
	})
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("expected leeway to cover 10s skew, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(Config{Secret: "   "}); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
