package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// AccessSubject is what an access token asserts.
type AccessSubject struct {
	UserID    string
	Email     string
	SessionID string
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    string
	Email     string
	SessionID string
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// AccessTokenManager signs and verifies access tokens.
type AccessTokenManager interface {
	Issue(sub AccessSubject, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

type accessClaims struct {
	Email     string `json:"email"`
	Type      string `json:"type"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager is an HS256 AccessTokenManager.
type JWTManager struct {
	key    []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
}

// NewJWTManager builds a JWTManager from cfg's secret, issuer, TTL and clock skew.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if len(secret) < MinJWTSecretBytes {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("%w: access token ttl must be positive", ErrConfig)
	}
	return &JWTManager{
		key:    []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    cfg.AccessTokenTTL,
		skew:   cfg.ClockSkew,
	}, nil
}

// Issue signs an access token valid from now until now+TTL.
func (m *JWTManager) Issue(sub AccessSubject, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return "", time.Time{}, errors.New("access token: empty subject")
	}

	now = now.UTC().Truncate(time.Second)
	exp := now.Add(m.ttl)

	claims := accessClaims{
		Email:     sub.Email,
		Type:      accessTokenType,
		SessionID: sub.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("access token: sign: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, type, issuer and time claims.
// Every failure is reported as ErrInvalidToken.
func (m *JWTManager) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var c accessClaims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if c.Type != accessTokenType || c.Subject == "" || c.IssuedAt == nil || c.NotBefore == nil {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		UserID:    c.Subject,
		Email:     c.Email,
		SessionID: c.SessionID,
		Issuer:    c.Issuer,
		IssuedAt:  c.IssuedAt.Time,
		NotBefore: c.NotBefore.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
