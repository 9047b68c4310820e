package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CleanupExpiredTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.SignUp(ctx, fakeSignUp())
		require.NoError(t, err)
	}

	n, err := h.svc.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(h.svc.Config().RefreshTokenTTL + time.Minute)
	fresh, err := h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)

	n, err = h.svc.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.svc.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "idempotent")

	_, err = h.svc.Refresh(ctx, fresh.RefreshToken, DeviceMeta{})
	require.NoError(t, err, "unexpired tokens are untouched")

	assert.Equal(t, 3, h.rec.swept[JobExpiredTokens])
}

func TestService_SweepInactiveSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	idle, err := h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)

	h.clock.Advance(h.svc.Config().InactiveSessionTTL - time.Hour)
	busy, err := h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	n, err := h.svc.SweepInactiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sessions, err := h.svc.GetSessions(ctx, idle.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	sessions, err = h.svc.GetSessions(ctx, busy.UserID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	live, err := h.svc.GetActiveRefreshTokens(ctx, idle.UserID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestService_PurgeRevokedTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	up, err := h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)
	_, err = h.svc.Refresh(ctx, up.RefreshToken, DeviceMeta{})
	require.NoError(t, err)

	n, err := h.svc.PurgeRevokedTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "within retention")

	h.clock.Advance(h.svc.Config().RevokedRetention + time.Hour)
	n, err = h.svc.PurgeRevokedTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_TokenStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)
	_, err = h.svc.SignUp(ctx, fakeSignUp())
	require.NoError(t, err)
	_, err = h.svc.Refresh(ctx, a.RefreshToken, DeviceMeta{})
	require.NoError(t, err)

	st, err := h.svc.TokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, TokenStats{Active: 2, Expired: 0, Revoked: 1, ActiveSessions: 2}, st)
	assert.Equal(t, st, h.rec.last)
}
