package session

import (
	"errors"
	"fmt"
)

// Error kinds returned by Service. The HTTP edge maps each kind to a status code.
var (
	ErrAlreadyExists = errors.New("already_exists")
	ErrNotFound      = errors.New("not_found")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid_input")
	ErrInternal      = errors.New("internal")
)

var (
	// ErrInvalidToken is returned when an access token fails verification for any reason.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Error is a typed operation failure. Kind is one of the kinds above and Msg is
// safe to show to callers; internal causes are logged, never stored here.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e Error) Unwrap() error { return e.Kind }

func fail(op string, kind error, msg string) error {
	return Error{Op: op, Kind: kind, Msg: msg}
}

// PublicMessage returns the caller-facing message carried by err.
// Errors that are not an Error yield "internal error".
func PublicMessage(err error) string {
	var e Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

// IsAlreadyExists reports whether err carries ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err carries ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsUnauthorized reports whether err carries ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsInvalidInput reports whether err carries ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsInternal reports whether err carries ErrInternal.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }
