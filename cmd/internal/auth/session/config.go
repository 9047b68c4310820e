package session

import (
	"fmt"
	"strings"
	"time"
)

// MinJWTSecretBytes is the minimum HS256 secret size.
const MinJWTSecretBytes = 32

// Config holds the token and session lifetimes used by Service.
type Config struct {
	// Issuer is set as the "iss" claim and required on verification when non-empty.
	Issuer string

	// JWTSecret signs HS256 access tokens.
	JWTSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is the leeway applied to exp/nbf/iat during verification.
	ClockSkew time.Duration

	// InactiveSessionTTL is how long a session may go unseen before the sweep terminates it.
	InactiveSessionTTL time.Duration

	// RevokedRetention is how long revoked refresh tokens are kept before purge.
	RevokedRetention time.Duration

	// TerminateCascade revokes a session's live refresh tokens when the session is terminated.
	TerminateCascade bool
}

// DefaultConfig returns the production defaults. JWTSecret must still be set.
func DefaultConfig() Config {
	return Config{
		Issuer:             "authd",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		ClockSkew:          30 * time.Second,
		InactiveSessionTTL: 30 * 24 * time.Hour,
		RevokedRetention:   60 * 24 * time.Hour,
		TerminateCascade:   true,
	}
}

// Validate returns an error wrapping ErrConfig when cfg is unusable.
func (c Config) Validate() error {
	switch {
	case len(strings.TrimSpace(c.JWTSecret)) < MinJWTSecretBytes:
		return fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
	case c.AccessTokenTTL <= 0:
		return fmt.Errorf("%w: access token ttl must be positive", ErrConfig)
	case c.RefreshTokenTTL <= c.AccessTokenTTL:
		return fmt.Errorf("%w: refresh token ttl must exceed access token ttl", ErrConfig)
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrConfig)
	case c.InactiveSessionTTL <= 0:
		return fmt.Errorf("%w: inactive session ttl must be positive", ErrConfig)
	case c.RevokedRetention <= 0:
		return fmt.Errorf("%w: revoked retention must be positive", ErrConfig)
	}
	return nil
}
