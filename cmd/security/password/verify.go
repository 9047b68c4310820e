package password

// Verify checks password against a stored hash, dispatching on the hash format.
// Returns (true, nil) for a match, (false, nil) for a mismatch and
// (false, ErrInvalidHash) for malformed or unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	switch {
	case isBcrypt(encodedHash):
		return c.verifyBcrypt(encodedHash, password)
	default:
		return c.verifyArgon2id(encodedHash, password)
	}
}

// Verifier adapts Config to the boolean verify contract used by sign-in:
// failures of any kind are a plain false.
type Verifier struct {
	cfg Config
}

// NewVerifier returns a Verifier over cfg.
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Hash returns a new Argon2id hash for secret, enforcing the policy.
func (v *Verifier) Hash(secret string) (string, error) {
	return v.cfg.Hash(secret)
}

// Verify reports whether secret matches hashed. It never returns an error.
func (v *Verifier) Verify(secret, hashed string) bool {
	ok, err := v.cfg.Verify(hashed, secret)
	return err == nil && ok
}

// Validate applies the password policy without hashing.
func (v *Verifier) Validate(secret string) error {
	return v.cfg.Validate(secret)
}
