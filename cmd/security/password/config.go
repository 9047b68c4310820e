package password

import (
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a minimal trivial-pattern check.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy

	// BcryptCost bounds the cost accepted when verifying legacy bcrypt hashes.
	BcryptCost int
}

// DefaultConfig returns the baseline used when no overrides are present.
func DefaultConfig() Config {
	// Parallelism follows the host but stays in [1..4] for predictable container usage.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Check validates ranges and cross-field invariants.
func (c Config) Check() error {
	if c.Policy.MinLength <= 0 || c.Policy.MinLength > 1024 {
		return fmt.Errorf("password policy invalid: min_len out of range [1..1024]")
	}
	if c.Policy.MaxLength > 4096 {
		return fmt.Errorf("password policy invalid: max_len out of range [1..4096]")
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if err := c.Params.check(); err != nil {
		return err
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("password policy invalid: bcrypt cost %d out of range", c.BcryptCost)
	}
	return nil
}

func (p Argon2idParams) check() error {
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("argon2 params invalid: memory_kib out of range [%d..%d]", 8*1024, 1024*1024)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("argon2 params invalid: iterations out of range [1..20]")
	case p.Parallelism < 1:
		return fmt.Errorf("argon2 params invalid: parallelism must be positive")
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("argon2 params invalid: salt_len out of range [8..64]")
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("argon2 params invalid: key_len out of range [16..64]")
	}
	return nil
}
