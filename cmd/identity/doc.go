// Package identity is the user directory consumed by the session core.
//
// It owns the user record (email, username, phone, role, credential hash,
// last-seen timestamp) and its soft-delete lifecycle. Email uniqueness is
// enforced among active users only; a soft-deleted user frees the address.
//
// Two stores are provided: PostgresStore (pgx) and MemoryStore (development
// and tests). Both report duplicates as ConflictError and missing rows as
// NotFoundError so callers can classify with IsConflict / IsNotFound.
package identity
