package session

import "context"

// Job names reported to Recorder.Swept and used by the scheduler.
const (
	JobExpiredTokens    = "expired_tokens"
	JobInactiveSessions = "inactive_sessions"
	JobRevokedPurge     = "revoked_purge"
)

// CleanupExpiredTokens revokes every unrevoked refresh token past its expiry
// and returns the number revoked. Rows are kept for auditing until purge.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (_ int, err error) {
	const op = "auth.cleanup_expired"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	n, err := s.tokens.RevokeExpiredTokens(ctx, s.clock())
	if err != nil {
		return 0, s.internal(ctx, op, err)
	}
	s.rec.Swept(JobExpiredTokens, n)
	s.log.InfoContext(ctx, "auth.cleanup_expired.ok", "deleted_count", n)
	return n, nil
}

// SweepInactiveSessions terminates sessions unseen for InactiveSessionTTL and
// returns how many were terminated.
func (s *Service) SweepInactiveSessions(ctx context.Context) (_ int, err error) {
	const op = "auth.sweep_inactive"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	now := s.clock()
	idle, err := s.sessions.TerminateIdleSessions(ctx, now.Add(-s.cfg.InactiveSessionTTL), now)
	if err != nil {
		return 0, s.internal(ctx, op, err)
	}

	revoked := 0
	if s.cfg.TerminateCascade && len(idle) > 0 {
		revoked, err = s.tokens.RevokeSessionTokens(ctx, idle, now)
		if err != nil {
			return 0, s.internal(ctx, op, err)
		}
	}

	s.rec.Swept(JobInactiveSessions, len(idle))
	s.log.InfoContext(ctx, "auth.sweep_inactive.ok", "terminated", len(idle), "revoked", revoked)
	return len(idle), nil
}

// PurgeRevokedTokens deletes refresh tokens revoked more than RevokedRetention ago.
func (s *Service) PurgeRevokedTokens(ctx context.Context) (_ int, err error) {
	const op = "auth.purge_revoked"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	n, err := s.tokens.PurgeRevokedTokens(ctx, s.clock().Add(-s.cfg.RevokedRetention))
	if err != nil {
		return 0, s.internal(ctx, op, err)
	}
	s.rec.Swept(JobRevokedPurge, n)
	s.log.InfoContext(ctx, "auth.purge_revoked.ok", "deleted_count", n)
	return n, nil
}

// TokenStats counts refresh tokens by state and active sessions.
func (s *Service) TokenStats(ctx context.Context) (_ TokenStats, err error) {
	const op = "auth.token_stats"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	st, err := s.tokens.TokenCounts(ctx, s.clock())
	if err != nil {
		return TokenStats{}, s.internal(ctx, op, err)
	}
	st.ActiveSessions, err = s.sessions.CountActiveSessions(ctx)
	if err != nil {
		return TokenStats{}, s.internal(ctx, op, err)
	}
	s.rec.Stats(st)
	return st, nil
}
