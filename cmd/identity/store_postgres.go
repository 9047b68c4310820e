package identity

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
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller and is never closed here. Schema and
// table identifiers are quoted with pgx.Identifier. Email uniqueness among
// active users is enforced by the partial unique index uq_users_email_norm_active.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema created by the bundled migrations.
const DefaultSchema = "authd"

// WithSchema sets the Postgres schema used by the store (default "authd").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const userColumns = `id, email, email_norm, username, phone, role, password_hash,
	       created_at, last_seen_at, deleted_at`

// CreateUser implements Store.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Email:        in.Email,
		EmailNorm:    NormalizeEmail(in.Email),
		Username:     in.Username,
		Phone:        in.Phone,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
		Lifecycle:    Active(),
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "users")+` (
		     id, email, email_norm, username, phone, role, password_hash, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.EmailNorm, pgNullIfEmpty(u.Username), pgNullIfEmpty(u.Phone),
		string(u.Role), u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// GetActiveByEmail implements Store.
func (s *PostgresStore) GetActiveByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetActiveByEmail"

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		   FROM `+pgIdent(s.schema, "users")+`
		  WHERE email_norm = $1 AND deleted_at IS NULL`,
		NormalizeEmail(email),
	)
	return scanUser(op, row)
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		   FROM `+pgIdent(s.schema, "users")+`
		  WHERE id = $1`,
		strings.TrimSpace(id),
	)
	return scanUser(op, row)
}

// TouchLastSeen implements Store.
func (s *PostgresStore) TouchLastSeen(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+`
		    SET last_seen_at = $2
		  WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("identity.TouchLastSeen: %w", err)
	}
	return nil
}

// SoftDelete implements Store.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const op = "identity.SoftDelete"

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+`
		    SET deleted_at = COALESCE(deleted_at, $2)
		  WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func scanUser(op string, row pgx.Row) (User, error) {
	var (
		u         User
		username  *string
		phone     *string
		role      string
		deletedAt *time.Time
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailNorm,
		&username,
		&phone,
		&role,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.LastSeenAt,
		&deletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	if username != nil {
		u.Username = *username
	}
	if phone != nil {
		u.Phone = *phone
	}
	u.Role = Role(role)
	u.Lifecycle = LifecycleFromNullable(deletedAt)
	return u, nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgNullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm_active", strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "username"):
		return "username", true
	default:
		return "unique", true
	}
}
