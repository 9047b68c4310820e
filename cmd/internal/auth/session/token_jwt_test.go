package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWT(t *testing.T) (*JWTManager, Config) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	m, err := NewJWTManager(cfg)
	require.NoError(t, err)
	return m, cfg
}

func TestJWT_IssueAndVerify(t *testing.T) {
	t.Parallel()
	m, cfg := newTestJWT(t)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, exp, err := m.Issue(AccessSubject{UserID: "u1", Email: "a@x.com", SessionID: "s1"}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(cfg.AccessTokenTTL), exp)

	claims, err := m.Verify(tok, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, claims.IssuedAt, claims.NotBefore)
	assert.Equal(t, claims.IssuedAt.Add(cfg.AccessTokenTTL), claims.ExpiresAt)
}

func TestJWT_ClaimSet(t *testing.T) {
	t.Parallel()
	m, _ := newTestJWT(t)

	tok, _, err := m.Issue(AccessSubject{UserID: "u1", Email: "a@x.com"}, time.Now())
	require.NoError(t, err)

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, raw)
	require.NoError(t, err)

	assert.Equal(t, "u1", raw["sub"])
	assert.Equal(t, "a@x.com", raw["email"])
	assert.Equal(t, "access", raw["type"])
	assert.Equal(t, raw["iat"], raw["nbf"])
	assert.NotContains(t, raw, "sid")
}

func TestJWT_ExpiryHonorsClockSkew(t *testing.T) {
	t.Parallel()
	m, cfg := newTestJWT(t)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, exp, err := m.Issue(AccessSubject{UserID: "u1"}, now)
	require.NoError(t, err)

	_, err = m.Verify(tok, exp.Add(cfg.ClockSkew/2))
	require.NoError(t, err, "within skew")

	_, err = m.Verify(tok, exp.Add(cfg.ClockSkew+time.Second))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_RejectsNotYetValid(t *testing.T) {
	t.Parallel()
	m, cfg := newTestJWT(t)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, _, err := m.Issue(AccessSubject{UserID: "u1"}, now)
	require.NoError(t, err)

	_, err = m.Verify(tok, now.Add(-cfg.ClockSkew-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_RejectsForeignTokens(t *testing.T) {
	t.Parallel()
	m, cfg := newTestJWT(t)
	now := time.Now().UTC()

	good, _, err := m.Issue(AccessSubject{UserID: "u1"}, now)
	require.NoError(t, err)

	otherCfg := cfg
	otherCfg.JWTSecret = strings.Repeat("z", MinJWTSecretBytes)
	other, err := NewJWTManager(otherCfg)
	require.NoError(t, err)
	foreign, _, err := other.Issue(AccessSubject{UserID: "u1"}, now)
	require.NoError(t, err)

	wrongIss := cfg
	wrongIss.Issuer = "someone-else"
	issMgr, err := NewJWTManager(wrongIss)
	require.NoError(t, err)
	wrongIssuer, _, err := issMgr.Issue(AccessSubject{UserID: "u1"}, now)
	require.NoError(t, err)

	refreshTyped, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Type: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, accessClaims{
		Type:             accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"other secret": foreign,
		"wrong issuer": wrongIssuer,
		"wrong type":   refreshTyped,
		"alg none":     unsigned,
		"tampered":     tampered,
	}
	for name, tok := range tests {
		_, err := m.Verify(tok, now)
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewJWTManager_RejectsShortSecret(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.JWTSecret = "short"
	_, err := NewJWTManager(cfg)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRefreshValue_Shape(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	a, err := newRefreshValue(now)
	require.NoError(t, err)
	b, err := newRefreshValue(now)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	prefix, suffix, ok := strings.Cut(a, "_")
	require.True(t, ok)
	assert.Len(t, prefix, 26)
	assert.NotEmpty(t, suffix)

	_, ok = sanitizeRefreshValue("   ")
	assert.False(t, ok)
	_, ok = sanitizeRefreshValue(strings.Repeat("x", maxRefreshTokenLen+1))
	assert.False(t, ok)
	v, ok := sanitizeRefreshValue("  " + a + "\n")
	assert.True(t, ok)
	assert.Equal(t, a, v)
}
