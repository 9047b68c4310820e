package identity

import (
	"context"
	"strings"
	"time"
)

// Role is the authorization tier assigned at signup.
type Role string

const (
	// RoleUser is the default, non-privileged role.
	RoleUser Role = "user"
	// RoleAdmin may call administrative endpoints.
	RoleAdmin Role = "admin"
)

// ParseRole maps free-form input to a Role. Empty input yields RoleUser.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is the directory record for a principal.
type User struct {
	ID           string
	Email        string
	EmailNorm    string
	Username     string
	Phone        string
	Role         Role
	PasswordHash string

	CreatedAt  time.Time
	LastSeenAt *time.Time
	Lifecycle  Lifecycle
}

// CreateUserInput describes a new user. PasswordHash is produced by the caller.
type CreateUserInput struct {
	Email        string
	Username     string
	Phone        string
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store is the user-directory persistence boundary.
type Store interface {
	// CreateUser inserts a user. A duplicate email among active users is a ConflictError{Field: "email"}.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetActiveByEmail returns the active user with the normalized email, or NotFoundError.
	GetActiveByEmail(ctx context.Context, email string) (User, error)

	// GetByID returns the user regardless of lifecycle, or NotFoundError.
	GetByID(ctx context.Context, id string) (User, error)

	// TouchLastSeen sets last_seen_at. Missing users are ignored.
	TouchLastSeen(ctx context.Context, id string, now time.Time) error

	// SoftDelete moves the user to the Deleted lifecycle. Idempotent.
	SoftDelete(ctx context.Context, id string, now time.Time) error
}

func prepareCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.Phone = NormalizePhone(in.Phone)

	if in.Email == "" {
		return in, invalid(op, "email is required")
	}
	if in.PasswordHash == "" {
		return in, invalid(op, "password hash is required")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
