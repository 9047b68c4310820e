// Package ids generates the lexicographically sortable identifiers used for
// users, sessions, refresh tokens and request ids.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new 26-char ULID for now.
// IDs created within the same millisecond are strictly increasing.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
