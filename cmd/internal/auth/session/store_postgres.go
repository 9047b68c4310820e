package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"authd/cmd/identity"
)

// PostgresStore implements SessionStore and RefreshTokenStore over the
// authd.sessions and authd.refresh_tokens tables.
//
// Refresh consume is a single conditional UPDATE ... RETURNING, so concurrent
// consumers of one hash are serialized by the row lock and only the first
// observes an unrevoked row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default identity.DefaultSchema).
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: identity.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

var (
	_ SessionStore      = (*PostgresStore)(nil)
	_ RefreshTokenStore = (*PostgresStore)(nil)
)

func (s *PostgresStore) sessions() string { return pgx.Identifier{s.schema, "sessions"}.Sanitize() }
func (s *PostgresStore) tokens() string   { return pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize() }

const sessionColumns = `id, user_id, device, device_id, platform, ip, user_agent,
	       last_seen, created_at, deleted_at`

const tokenColumns = `id, user_id, session_id, token_hash, user_agent, ip, device_id,
	       created_at, expires_at, is_revoked, revoked_at`

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	const op = "session.postgres.create"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.sessions()+` (
		     id, user_id, device, device_id, platform, ip, user_agent,
		     last_seen, created_at, is_active, deleted_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, NULL)`,
		sess.ID, sess.UserID,
		nullIfEmpty(sess.Device), nullIfEmpty(sess.DeviceID), string(ParsePlatform(string(sess.Platform))),
		nullIfEmpty(sess.IP), nullIfEmpty(sess.UserAgent),
		sess.LastSeen, sess.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fail(op, ErrAlreadyExists, "session exists")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	const op = "session.postgres.get"

	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.sessions()+` WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fail(op, ErrNotFound, "session not found")
	}
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET last_seen = GREATEST(last_seen, $2)
		  WHERE id = $1 AND is_active`, id, now)
	if err != nil {
		return fmt.Errorf("session.postgres.touch: %w", err)
	}
	return nil
}

func (s *PostgresStore) TerminateSession(ctx context.Context, id string, now time.Time) error {
	const op = "session.postgres.terminate"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET is_active = false,
		        deleted_at = COALESCE(deleted_at, $2)
		  WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fail(op, ErrNotFound, "session not found")
	}
	return nil
}

func (s *PostgresStore) TerminateUserSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET is_active = false, deleted_at = $2
		  WHERE user_id = $1 AND is_active`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("session.postgres.terminate_user: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	const op = "session.postgres.list_active"

	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		   FROM `+s.sessions()+`
		  WHERE user_id = $1 AND is_active
		  ORDER BY last_seen DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Session, 0, 4)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) TerminateIdleSessions(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	const op = "session.postgres.terminate_idle"

	rows, err := s.pool.Query(ctx,
		`UPDATE `+s.sessions()+`
		    SET is_active = false, deleted_at = $2
		  WHERE is_active AND last_seen < $1
		RETURNING id`, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (s *PostgresStore) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.sessions()+` WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session.postgres.count_active: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) InsertRefreshToken(ctx context.Context, t RefreshToken) error {
	const op = "session.postgres.insert_token"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.tokens()+` (
		     id, token_hash, user_id, session_id, user_agent, ip, device_id,
		     created_at, expires_at, is_revoked, revoked_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NULL)`,
		t.ID, t.Hash, t.UserID, nullIfEmpty(t.SessionID),
		nullIfEmpty(t.UserAgent), nullIfEmpty(t.IP), nullIfEmpty(t.DeviceID),
		t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fail(op, ErrAlreadyExists, "token exists")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (ConsumeResult, error) {
	const op = "session.postgres.consume"

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.tokens()+`
		    SET is_revoked = true, revoked_at = $2
		  WHERE token_hash = $1 AND NOT is_revoked
		RETURNING `+tokenColumns, hash, now)

	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConsumeResult{Status: ConsumeNotFound}, nil
	}
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if t.ExpiresAt.Before(now) {
		return ConsumeResult{Status: ConsumeExpired, Token: t}, nil
	}
	return ConsumeResult{Status: ConsumeOK, Token: t}, nil
}

func (s *PostgresStore) FindRefreshToken(ctx context.Context, hash string) (RefreshToken, error) {
	const op = "session.postgres.find_token"

	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM `+s.tokens()+` WHERE token_hash = $1`, hash)

	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, fail(op, ErrNotFound, "refresh token not found")
	}
	if err != nil {
		return RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// RevokeRefreshToken revokes one token. Idempotent.
func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.tokens()+`
		    SET is_revoked = true, revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("session.postgres.revoke_token: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeUserTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.revokeWhere(ctx, "session.postgres.revoke_user", `user_id = $2`, now, userID)
}

func (s *PostgresStore) RevokeSessionTokens(ctx context.Context, sessionIDs []string, now time.Time) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	return s.revokeWhere(ctx, "session.postgres.revoke_sessions", `session_id = ANY($2)`, now, sessionIDs)
}

func (s *PostgresStore) RevokeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	return s.revokeWhere(ctx, "session.postgres.revoke_expired", `expires_at < $1`, now)
}

// revokeWhere revokes unrevoked tokens matching cond. $1 is always now.
func (s *PostgresStore) revokeWhere(ctx context.Context, op, cond string, now time.Time, args ...any) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tokens()+`
		    SET is_revoked = true, revoked_at = $1
		  WHERE NOT is_revoked AND `+cond, append([]any{now}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListLiveTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	const op = "session.postgres.list_live"

	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+`
		   FROM `+s.tokens()+`
		  WHERE user_id = $1 AND NOT is_revoked AND expires_at >= $2
		  ORDER BY created_at DESC, id DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]RefreshToken, 0, 4)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeRevokedTokens(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.tokens()+` WHERE is_revoked AND revoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session.postgres.purge_revoked: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) TokenCounts(ctx context.Context, now time.Time) (TokenStats, error) {
	var st TokenStats
	err := s.pool.QueryRow(ctx,
		`SELECT
		     count(*) FILTER (WHERE NOT is_revoked AND expires_at >= $1),
		     count(*) FILTER (WHERE NOT is_revoked AND expires_at < $1),
		     count(*) FILTER (WHERE is_revoked)
		   FROM `+s.tokens(), now).Scan(&st.Active, &st.Expired, &st.Revoked)
	if err != nil {
		return TokenStats{}, fmt.Errorf("session.postgres.token_counts: %w", err)
	}
	return st, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s                        Session
		device, deviceID, ip, ua *string
		platform                 string
		deletedAt                *time.Time
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &device, &deviceID, &platform, &ip, &ua,
		&s.LastSeen, &s.CreatedAt, &deletedAt,
	); err != nil {
		return Session{}, err
	}

	s.Device = deref(device)
	s.DeviceID = deref(deviceID)
	s.Platform = ParsePlatform(platform)
	s.IP = deref(ip)
	s.UserAgent = deref(ua)
	s.Lifecycle = identity.LifecycleFromNullable(deletedAt)
	return s, nil
}

func scanToken(row pgx.Row) (RefreshToken, error) {
	var (
		t                        RefreshToken
		sessionID, ua, ip, devID *string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &sessionID, &t.Hash, &ua, &ip, &devID,
		&t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt,
	); err != nil {
		return RefreshToken{}, err
	}

	t.SessionID = deref(sessionID)
	t.UserAgent = deref(ua)
	t.IP = deref(ip)
	t.DeviceID = deref(devID)
	return t, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
