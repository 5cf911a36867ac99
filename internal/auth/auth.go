// Package auth establishes caller identity for the poker engine and decides
// who may moderate a project's sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
)

// verifierEnv holds raw env values before post-parse validation.
type verifierEnv struct {
	Secret string `env:"POINTING_SPACE_AUTH_SECRET"`
	Issuer string `env:"POINTING_SPACE_AUTH_ISSUER"`
}

// VerifierConfig defines how access tokens are verified.
type VerifierConfig struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// Claims captures validated access token claims.
type Claims struct {
	UserID    string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// tokenClaims is the internal claims type used for JWT parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// LoadVerifierConfigFromEnv reads token verification configuration.
func LoadVerifierConfigFromEnv(now func() time.Time) (VerifierConfig, error) {
	var raw verifierEnv
	if err := env.Parse(&raw); err != nil {
		return VerifierConfig{}, fmt.Errorf("parse auth env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return VerifierConfig{}, fmt.Errorf("POINTING_SPACE_AUTH_SECRET is required")
	}
	if now == nil {
		now = time.Now
	}
	return VerifierConfig{
		Secret: []byte(secret),
		Issuer: strings.TrimSpace(raw.Issuer),
		Now:    now,
	}, nil
}

// VerifyToken verifies an HS256 access token and returns its claims.
func VerifyToken(token string, cfg VerifierConfig) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "access token is required")
	}
	if len(cfg.Secret) == 0 {
		return Claims{}, errors.New("token verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if cfg.Issuer != "" && parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeAuthTokenInvalid,
			"access token issuer mismatch",
			map[string]string{"issuer": parsed.Issuer})
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "access token user_id is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "access token exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeAuthTokenExpired, "access token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "access token not active yet")
	}

	claims := Claims{
		UserID:    parsed.UserID,
		Issuer:    parsed.Issuer,
		ExpiresAt: exp,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeAuthTokenInvalid, "access token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeAuthTokenInvalid, "access token alg is invalid")
	}
	return apperrors.New(apperrors.CodeAuthTokenInvalid, "access token is invalid")
}

// Authorizer decides whether a user may moderate sessions for a project.
// The poker engine treats this as an injected predicate; the surrounding
// application owns project membership.
type Authorizer interface {
	// CanModerate returns nil when userID may run session mutations for
	// projectID, or an error carrying CodeSessionModeratorDenied.
	CanModerate(ctx context.Context, userID, projectID string) error
}

// AllowAll authorizes every caller. Intended for tests and single-team
// deployments without project membership.
type AllowAll struct{}

// CanModerate always authorizes.
func (AllowAll) CanModerate(context.Context, string, string) error {
	return nil
}

// StaticModerators authorizes from a fixed project-to-moderators mapping.
type StaticModerators map[string][]string

// CanModerate checks the mapping for the (project, user) pair.
func (m StaticModerators) CanModerate(_ context.Context, userID, projectID string) error {
	for _, moderator := range m[projectID] {
		if moderator == userID {
			return nil
		}
	}
	return apperrors.WithMetadata(apperrors.CodeSessionModeratorDenied,
		"user may not moderate this project",
		map[string]string{"user_id": userID, "project_id": projectID})
}
