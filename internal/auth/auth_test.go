package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.Claims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func verifierConfig(now time.Time) VerifierConfig {
	return VerifierConfig{
		Secret: testSecret,
		Issuer: "pointing.space",
		Now:    func() time.Time { return now },
	}
}

func TestVerifyTokenSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pointing.space",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: "u1",
	}, testSecret)

	claims, err := VerifyToken(token, verifierConfig(now))
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected user u1, got %q", claims.UserID)
	}
	if claims.Issuer != "pointing.space" {
		t.Fatalf("expected issuer pointing.space, got %q", claims.Issuer)
	}
}

func TestVerifyTokenRejectsBadInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		token    string
		wantCode apperrors.Code
	}{
		{
			name:     "empty token",
			token:    "  ",
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name:     "garbage token",
			token:    "not-a-jwt",
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name: "wrong secret",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "pointing.space",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				UserID: "u1",
			}, []byte("other-secret")),
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name: "wrong issuer",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "someone-else",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				UserID: "u1",
			}, testSecret),
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name: "missing user id",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "pointing.space",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			}, testSecret),
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name: "missing expiry",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{Issuer: "pointing.space"},
				UserID:           "u1",
			}, testSecret),
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
		{
			name: "expired",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "pointing.space",
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
				},
				UserID: "u1",
			}, testSecret),
			wantCode: apperrors.CodeAuthTokenExpired,
		},
		{
			name: "not active yet",
			token: signToken(t, tokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "pointing.space",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
					NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
				},
				UserID: "u1",
			}, testSecret),
			wantCode: apperrors.CodeAuthTokenInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyToken(tc.token, verifierConfig(now))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.CodeOf(err); got != tc.wantCode {
				t.Fatalf("expected code %s, got %s (%v)", tc.wantCode, got, err)
			}
		})
	}
}

func TestVerifyTokenUnconfigured(t *testing.T) {
	_, err := VerifyToken("token", VerifierConfig{})
	if err == nil {
		t.Fatal("expected error for unconfigured verifier")
	}
}

func TestLoadVerifierConfigFromEnv(t *testing.T) {
	t.Setenv("POINTING_SPACE_AUTH_SECRET", "s3cret")
	t.Setenv("POINTING_SPACE_AUTH_ISSUER", "pointing.space")

	cfg, err := LoadVerifierConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if string(cfg.Secret) != "s3cret" {
		t.Fatalf("unexpected secret %q", cfg.Secret)
	}
	if cfg.Issuer != "pointing.space" {
		t.Fatalf("unexpected issuer %q", cfg.Issuer)
	}
	if cfg.Now == nil {
		t.Fatal("expected default clock")
	}
}

func TestLoadVerifierConfigRequiresSecret(t *testing.T) {
	t.Setenv("POINTING_SPACE_AUTH_SECRET", "")
	if _, err := LoadVerifierConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestStaticModerators(t *testing.T) {
	authz := StaticModerators{"p1": {"u1", "u2"}}

	if err := authz.CanModerate(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("expected u1 authorized: %v", err)
	}
	err := authz.CanModerate(context.Background(), "u3", "p1")
	if err == nil {
		t.Fatal("expected denial for u3")
	}
	if got := apperrors.CodeOf(err); got != apperrors.CodeSessionModeratorDenied {
		t.Fatalf("expected moderator denied code, got %s", got)
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected structured error")
	}
	if appErr.Metadata["project_id"] != "p1" {
		t.Fatalf("expected project metadata, got %v", appErr.Metadata)
	}
}

func TestAllowAll(t *testing.T) {
	if err := (AllowAll{}).CanModerate(context.Background(), "anyone", "anywhere"); err != nil {
		t.Fatalf("expected allow all: %v", err)
	}
}
