package session

import (
	"context"
	"time"

	"authd/cmd/identity"
)

// Session is a logical login on one device. It is terminated, never deleted.
type Session struct {
	ID        string
	UserID    string
	Device    string
	DeviceID  string
	Platform  Platform
	IP        string
	UserAgent string

	LastSeen  time.Time
	CreatedAt time.Time

	// Lifecycle is Active until the session is terminated.
	Lifecycle identity.Lifecycle
}

// IsActive reports whether the session has not been terminated.
func (s Session) IsActive() bool { return s.Lifecycle.IsActive() }

// RefreshToken is a single-use credential bound to a session.
//
// Value is the raw token and is only populated on the record returned at issue
// time; stores persist Hash alone.
type RefreshToken struct {
	ID        string
	UserID    string
	SessionID string // empty once the owning session row is gone

	Value string
	Hash  string

	UserAgent string
	IP        string
	DeviceID  string

	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// Live reports whether the token is unrevoked and not yet expired at now.
func (t RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && !t.ExpiresAt.Before(now)
}

// ConsumeStatus is the outcome of an atomic refresh-token consume.
type ConsumeStatus uint8

const (
	// ConsumeNotFound means no unrevoked token matched the hash.
	ConsumeNotFound ConsumeStatus = iota
	// ConsumeOK means the token was live and is now revoked.
	ConsumeOK
	// ConsumeExpired means the token matched but had expired. It is revoked as a side effect.
	ConsumeExpired
)

func (c ConsumeStatus) String() string {
	switch c {
	case ConsumeOK:
		return "ok"
	case ConsumeExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// ConsumeResult carries the consumed token for ConsumeOK and ConsumeExpired.
type ConsumeResult struct {
	Status ConsumeStatus
	Token  RefreshToken
}

// TokenStats is a point-in-time count of refresh tokens and sessions.
type TokenStats struct {
	Active         int64 `json:"active"`
	Expired        int64 `json:"expired"`
	Revoked        int64 `json:"revoked"`
	ActiveSessions int64 `json:"active_sessions"`
}

// SessionStore persists sessions.
type SessionStore interface {
	// CreateSession inserts an active session.
	CreateSession(ctx context.Context, s Session) error

	// GetSession loads a session regardless of lifecycle. Missing ids yield ErrNotFound.
	GetSession(ctx context.Context, id string) (Session, error)

	// TouchSession sets last_seen on an active session. Missing or terminated sessions are ignored.
	TouchSession(ctx context.Context, id string, now time.Time) error

	// TerminateSession moves a session to the terminated state. Missing ids yield
	// ErrNotFound; terminating a terminated session is a no-op.
	TerminateSession(ctx context.Context, id string, now time.Time) error

	// TerminateUserSessions terminates every active session of userID and returns the count.
	TerminateUserSessions(ctx context.Context, userID string, now time.Time) (int, error)

	// ListActiveSessions returns userID's active sessions, most recently seen first.
	ListActiveSessions(ctx context.Context, userID string) ([]Session, error)

	// TerminateIdleSessions terminates active sessions last seen before cutoff and returns their ids.
	TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) ([]string, error)

	// CountActiveSessions returns the number of active sessions.
	CountActiveSessions(ctx context.Context) (int64, error)
}

// RefreshTokenStore persists refresh tokens by hash.
type RefreshTokenStore interface {
	// InsertRefreshToken stores t. Value is never persisted.
	InsertRefreshToken(ctx context.Context, t RefreshToken) error

	// ConsumeRefreshToken atomically revokes the unrevoked token with hash.
	// Of any number of concurrent calls for one hash, at most one observes ConsumeOK.
	ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (ConsumeResult, error)

	// FindRefreshToken loads a token by hash regardless of state. Missing hashes yield ErrNotFound.
	FindRefreshToken(ctx context.Context, hash string) (RefreshToken, error)

	// RevokeRefreshToken revokes one token. Idempotent.
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) error

	// RevokeUserTokens revokes every unrevoked token of userID and returns the count.
	RevokeUserTokens(ctx context.Context, userID string, now time.Time) (int, error)

	// RevokeSessionTokens revokes every unrevoked token bound to the given sessions.
	RevokeSessionTokens(ctx context.Context, sessionIDs []string, now time.Time) (int, error)

	// ListLiveTokens returns userID's unrevoked, unexpired tokens, newest first.
	ListLiveTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)

	// RevokeExpiredTokens revokes every unrevoked token with expires_at < now.
	RevokeExpiredTokens(ctx context.Context, now time.Time) (int, error)

	// PurgeRevokedTokens deletes tokens revoked before cutoff.
	PurgeRevokedTokens(ctx context.Context, cutoff time.Time) (int, error)

	// TokenCounts returns Active, Expired and Revoked counts at now.
	TokenCounts(ctx context.Context, now time.Time) (TokenStats, error)
}
