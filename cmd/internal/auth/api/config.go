package authapi

// Config controls HTTP-edge behavior.
type Config struct {
	// TrustProxy makes client IP resolution honor X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// AdminToken, when set, authorizes /v1/admin requests presenting it in X-Admin-Token.
	AdminToken string

	// AllowSignupRole lets signup requests pick a role other than "user".
	AllowSignupRole bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,
	}
}

func (c Config) normalized() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}
