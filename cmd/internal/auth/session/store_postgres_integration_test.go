package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"

	"authd/cmd/identity"
	"authd/cmd/internal/storage"
)

// Integration tests are enabled when AUTHD_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_ConsumeAndRotate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, users := mustIntegrationDB(ctx, t)
	st := mustPostgresStore(t, pool)

	userID := mustCreateUser(ctx, t, pool, users)
	now := time.Now().UTC().Truncate(time.Microsecond)

	sess := Session{ID: mustULID(t, now), UserID: userID, Platform: PlatformWeb, IP: "203.0.113.7", LastSeen: now, CreatedAt: now}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	rt := seedToken(t, st, userID, sess.ID, now, time.Hour)

	res, err := st.ConsumeRefreshToken(ctx, rt.Hash, now)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken: %v", err)
	}
	if res.Status != ConsumeOK || res.Token.SessionID != sess.ID || !res.Token.Revoked {
		t.Fatalf("unexpected consume result: %+v", res)
	}

	res, err = st.ConsumeRefreshToken(ctx, rt.Hash, now)
	if err != nil {
		t.Fatalf("second ConsumeRefreshToken: %v", err)
	}
	if res.Status != ConsumeNotFound {
		t.Fatalf("expected not_found on reuse, got %s", res.Status)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.IP != "203.0.113.7" || got.Platform != PlatformWeb || !got.IsActive() {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestPostgresStore_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, users := mustIntegrationDB(ctx, t)
	st := mustPostgresStore(t, pool)

	userID := mustCreateUser(ctx, t, pool, users)
	now := time.Now().UTC()
	rt := seedToken(t, st, userID, "", now, time.Hour)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.ConsumeRefreshToken(ctx, rt.Hash, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Status == ConsumeOK {
				oks++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("consume errors: %v", errs)
	}
	if oks != 1 {
		t.Fatalf("expected exactly one winner, got %d", oks)
	}
}

func TestPostgresStore_ExpiredAndSweeps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, users := mustIntegrationDB(ctx, t)
	st := mustPostgresStore(t, pool)

	userID := mustCreateUser(ctx, t, pool, users)
	now := time.Now().UTC()

	expired := seedToken(t, st, userID, "", now.Add(-2*time.Hour), time.Hour)
	live := seedToken(t, st, userID, "", now, time.Hour)

	res, err := st.ConsumeRefreshToken(ctx, expired.Hash, now)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken: %v", err)
	}
	if res.Status != ConsumeExpired {
		t.Fatalf("expected expired, got %s", res.Status)
	}

	list, err := st.ListLiveTokens(ctx, userID, now)
	if err != nil {
		t.Fatalf("ListLiveTokens: %v", err)
	}
	if len(list) != 1 || list[0].ID != live.ID {
		t.Fatalf("unexpected live list: %+v", list)
	}

	n, err := st.RevokeUserTokens(ctx, userID, now)
	if err != nil || n != 1 {
		t.Fatalf("RevokeUserTokens: n=%d err=%v", n, err)
	}

	// Purge is global; only assert our rows are gone.
	if _, err := st.PurgeRevokedTokens(ctx, now.Add(time.Second)); err != nil {
		t.Fatalf("PurgeRevokedTokens: %v", err)
	}
	if _, err := st.FindRefreshToken(ctx, live.Hash); !IsNotFound(err) {
		t.Fatalf("expected purged token to be gone, got %v", err)
	}
}

func TestPostgresStore_SessionTermination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, users := mustIntegrationDB(ctx, t)
	st := mustPostgresStore(t, pool)

	userID := mustCreateUser(ctx, t, pool, users)
	now := time.Now().UTC().Truncate(time.Microsecond)

	var sessionIDs []string
	for i := 0; i < 3; i++ {
		at := now.Add(time.Duration(i) * time.Minute)
		s := Session{ID: mustULID(t, at), UserID: userID, LastSeen: at, CreatedAt: now}
		if err := st.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		sessionIDs = append(sessionIDs, s.ID)
		_ = seedToken(t, st, userID, s.ID, now, time.Hour)
	}

	list, err := st.ListActiveSessions(ctx, userID)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(list) != 3 || list[0].ID != sessionIDs[2] {
		t.Fatalf("unexpected order: %+v", list)
	}

	if err := st.TerminateSession(ctx, sessionIDs[0], now); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if err := st.TerminateSession(ctx, sessionIDs[0], now); err != nil {
		t.Fatalf("TerminateSession (again): %v", err)
	}
	if err := st.TerminateSession(ctx, mustULID(t, now), now); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := st.RevokeSessionTokens(ctx, sessionIDs[:1], now)
	if err != nil || n != 1 {
		t.Fatalf("RevokeSessionTokens: n=%d err=%v", n, err)
	}

	n, err = st.TerminateUserSessions(ctx, userID, now)
	if err != nil || n != 2 {
		t.Fatalf("TerminateUserSessions: n=%d err=%v", n, err)
	}
}

func mustIntegrationDB(ctx context.Context, t *testing.T) (*pgxpool.Pool, *identity.PostgresStore) {
	t.Helper()

	dbURL := os.Getenv("AUTHD_DATABASE_URL")
	if dbURL == "" {
		t.Skip("AUTHD_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool := mustPGXPool(ctx, t, dbURL)
	t.Cleanup(pool.Close)

	if err := storage.Migrate(dbURL, storage.Up); err != nil {
		t.Fatalf("storage.Migrate: %v", err)
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	return pool, users
}

func mustPGXPool(ctx context.Context, t *testing.T, dbURL string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}

	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (AUTHD_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	return pool
}

func mustPostgresStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return st
}

// mustCreateUser inserts a user and deletes it (cascading to sessions and tokens) on cleanup.
func mustCreateUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, users *identity.PostgresStore) string {
	t.Helper()

	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:        "it-" + strings.ToLower(gofakeit.LetterN(12)) + "@example.com",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), `DELETE FROM authd.users WHERE id = $1`, u.ID); err != nil {
			t.Errorf("cleanup user %s: %v", u.ID, err)
		}
	})
	return u.ID
}

func mustULID(t *testing.T, now time.Time) string {
	t.Helper()
	id, err := identity.NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	return id
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
