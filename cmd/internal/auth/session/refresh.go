package session

import (
	"strconv"
	"strings"
	"time"

	"authd/cmd/identity/ids"
)

const maxRefreshTokenLen = 4096

// newRefreshValue returns an opaque refresh token value: a ULID and the issue
// instant in base-36 milliseconds, joined by "_".
func newRefreshValue(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	return id + "_" + strconv.FormatInt(now.UnixMilli(), 36), nil
}

// sanitizeRefreshValue trims v and reports whether it is plausible enough to look up.
func sanitizeRefreshValue(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxRefreshTokenLen {
		return "", false
	}
	return v, true
}
