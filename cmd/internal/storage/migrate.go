// Package storage owns the Postgres schema: embedded SQL migrations and the
// golang-migrate runner used by `authd migrate` and by serve's auto-migrate.
package storage

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrations holds the versioned SQL files.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ErrNoDSN is returned when no database URL was configured.
var ErrNoDSN = errors.New("storage: database url is not set")

// Migrate applies (up) or rolls back (down) every migration.
// Being already at the target version is not an error.
func Migrate(dsn string, dir Direction) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("storage: direction must be up or down, got %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate %s: %w", dir, err)
	}
	return nil
}

// Version returns the applied migration version and whether the last run left it dirty.
// A database without migrations reports version 0.
func Version(dsn string) (uint, bool, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: version: %w", err)
	}
	return v, dirty, nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrNoDSN
	}

	src, err := iofs.New(Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("storage: migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, DriverURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return m, nil
}

// DriverURL rewrites a postgres:// or postgresql:// DSN to the pgx5:// scheme
// expected by the golang-migrate pgx/v5 driver. Other inputs pass through.
func DriverURL(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}
