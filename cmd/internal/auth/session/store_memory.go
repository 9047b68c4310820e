package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"authd/cmd/identity"
)

// MemoryStore is an in-process SessionStore and RefreshTokenStore.
// A single mutex serializes all access, which makes ConsumeRefreshToken atomic.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	tokens   map[string]RefreshToken // by id
	byHash   map[string]string       // hash -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		tokens:   make(map[string]RefreshToken),
		byHash:   make(map[string]string),
	}
}

var (
	_ SessionStore      = (*MemoryStore)(nil)
	_ RefreshTokenStore = (*MemoryStore)(nil)
)

func (m *MemoryStore) CreateSession(ctx context.Context, s Session) error {
	const op = "session.memory.create"
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" || s.UserID == "" {
		return fail(op, ErrInvalidInput, "session id and user id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fail(op, ErrAlreadyExists, "session exists")
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fail("session.memory.get", ErrNotFound, "session not found")
	}
	return s, nil
}

func (m *MemoryStore) TouchSession(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && s.IsActive() {
		s.LastSeen = now
		m.sessions[id] = s
	}
	return nil
}

func (m *MemoryStore) TerminateSession(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fail("session.memory.terminate", ErrNotFound, "session not found")
	}
	if s.IsActive() {
		s.Lifecycle = identity.Deleted(now)
		m.sessions[id] = s
	}
	return nil
}

func (m *MemoryStore) TerminateUserSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.UserID == userID && s.IsActive() {
			s.Lifecycle = identity.Deleted(now)
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, 4)
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

func (m *MemoryStore) TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if s.IsActive() && s.LastSeen.Before(cutoff) {
			s.Lifecycle = identity.Deleted(now)
			m.sessions[id] = s
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CountActiveSessions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.sessions {
		if s.IsActive() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertRefreshToken(ctx context.Context, t RefreshToken) error {
	const op = "session.memory.insert_token"
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ID == "" || t.Hash == "" || t.UserID == "" {
		return fail(op, ErrInvalidInput, "token id, hash and user id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[t.Hash]; ok {
		return fail(op, ErrAlreadyExists, "token hash exists")
	}
	if _, ok := m.tokens[t.ID]; ok {
		return fail(op, ErrAlreadyExists, "token exists")
	}

	t.Value = ""
	m.tokens[t.ID] = t
	m.byHash[t.Hash] = t.ID
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return ConsumeResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		return ConsumeResult{Status: ConsumeNotFound}, nil
	}
	t := m.tokens[id]
	if t.Revoked {
		return ConsumeResult{Status: ConsumeNotFound}, nil
	}

	revokeToken(&t, now)
	m.tokens[id] = t

	if t.ExpiresAt.Before(now) {
		return ConsumeResult{Status: ConsumeExpired, Token: t}, nil
	}
	return ConsumeResult{Status: ConsumeOK, Token: t}, nil
}

func (m *MemoryStore) FindRefreshToken(ctx context.Context, hash string) (RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return RefreshToken{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		return RefreshToken{}, fail("session.memory.find_token", ErrNotFound, "refresh token not found")
	}
	return m.tokens[id], nil
}

func (m *MemoryStore) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tokens[id]; ok && !t.Revoked {
		revokeToken(&t, now)
		m.tokens[id] = t
	}
	return nil
}

func (m *MemoryStore) RevokeUserTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	return m.revokeWhere(ctx, now, func(t RefreshToken) bool { return t.UserID == userID })
}

func (m *MemoryStore) RevokeSessionTokens(ctx context.Context, sessionIDs []string, now time.Time) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, ctx.Err()
	}
	set := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		set[id] = struct{}{}
	}
	return m.revokeWhere(ctx, now, func(t RefreshToken) bool {
		_, ok := set[t.SessionID]
		return ok && t.SessionID != ""
	})
}

func (m *MemoryStore) RevokeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	return m.revokeWhere(ctx, now, func(t RefreshToken) bool { return t.ExpiresAt.Before(now) })
}

func (m *MemoryStore) revokeWhere(ctx context.Context, now time.Time, match func(RefreshToken) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tokens {
		if !t.Revoked && match(t) {
			revokeToken(&t, now)
			m.tokens[id] = t
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListLiveTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RefreshToken, 0, 4)
	for _, t := range m.tokens {
		if t.UserID == userID && t.Live(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) PurgeRevokedTokens(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tokens {
		if t.Revoked && t.RevokedAt != nil && t.RevokedAt.Before(cutoff) {
			delete(m.tokens, id)
			delete(m.byHash, t.Hash)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) TokenCounts(ctx context.Context, now time.Time) (TokenStats, error) {
	if err := ctx.Err(); err != nil {
		return TokenStats{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var st TokenStats
	for _, t := range m.tokens {
		switch {
		case t.Revoked:
			st.Revoked++
		case t.ExpiresAt.Before(now):
			st.Expired++
		default:
			st.Active++
		}
	}
	return st, nil
}

func revokeToken(t *RefreshToken, now time.Time) {
	at := now
	t.Revoked = true
	t.RevokedAt = &at
}
