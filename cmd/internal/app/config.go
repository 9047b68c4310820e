package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	authapi "authd/cmd/internal/auth/api"
	"authd/cmd/internal/auth/session"
	"authd/cmd/internal/telemetry"
	"authd/cmd/security/password"
	"authd/cmd/security/token"
)

// ErrConfig wraps every configuration validation failure.
var ErrConfig = errors.New("invalid config")

// Config contains all runtime configuration. Values come from an optional
// YAML file and are overridden by AUTHD_* environment variables.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
	Password  PasswordConfig  `yaml:"password"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"AUTHD_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"AUTHD_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"AUTHD_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"AUTHD_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"AUTHD_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"AUTHD_HTTP_MAX_HEADER_BYTES" env-default:"1048576"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"AUTHD_MAX_BODY_BYTES" env-default:"1048576"`
	TrustProxy        bool          `yaml:"trust_proxy" env:"AUTHD_TRUST_PROXY" env-default:"false"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"AUTHD_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"AUTHD_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"AUTHD_LOG_FORMAT" env-default:"json"`
}

type DBConfig struct {
	URL         string `yaml:"url" env:"AUTHD_DATABASE_URL"`
	MaxConns    int32  `yaml:"max_conns" env:"AUTHD_DB_MAX_CONNS" env-default:"10"`
	MinConns    int32  `yaml:"min_conns" env:"AUTHD_DB_MIN_CONNS" env-default:"0"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTHD_AUTO_MIGRATE" env-default:"false"`

	// RequireDB makes /readyz fail when no database is configured.
	RequireDB bool `yaml:"require_db" env:"AUTHD_READINESS_REQUIRE_DB" env-default:"false"`
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret" env:"AUTHD_JWT_SECRET"`
	Issuer             string        `yaml:"issuer" env:"AUTHD_JWT_ISSUER" env-default:"authd"`
	AccessTTL          time.Duration `yaml:"access_ttl" env:"AUTHD_ACCESS_TTL" env-default:"15m"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl" env:"AUTHD_REFRESH_TTL" env-default:"720h"`
	ClockSkew          time.Duration `yaml:"clock_skew" env:"AUTHD_CLOCK_SKEW" env-default:"30s"`
	InactiveSessionTTL time.Duration `yaml:"inactive_session_ttl" env:"AUTHD_INACTIVE_SESSION_TTL" env-default:"720h"`
	RevokedRetention   time.Duration `yaml:"revoked_retention" env:"AUTHD_REVOKED_RETENTION" env-default:"1440h"`
	TerminateCascade   bool          `yaml:"terminate_cascade" env:"AUTHD_TERMINATE_CASCADE" env-default:"true"`

	TokenHMACKey     string `yaml:"token_hmac_key" env:"AUTHD_TOKEN_HMAC_KEY"`
	RequireTokenHMAC bool   `yaml:"require_token_hmac" env:"AUTHD_REQUIRE_TOKEN_HMAC" env-default:"false"`

	AdminToken      string `yaml:"admin_token" env:"AUTHD_ADMIN_TOKEN"`
	AllowSignupRole bool   `yaml:"allow_signup_role" env:"AUTHD_ALLOW_SIGNUP_ROLE" env-default:"false"`
}

// PasswordConfig holds the credential hashing cost and policy.
// A zero Argon2Parallelism follows the host CPU count.
type PasswordConfig struct {
	MinLength      int  `yaml:"min_length" env:"AUTHD_PASSWORD_MIN_LEN" env-default:"6"`
	MaxLength      int  `yaml:"max_length" env:"AUTHD_PASSWORD_MAX_LEN" env-default:"256"`
	RejectVeryWeak bool `yaml:"reject_very_weak" env:"AUTHD_PASSWORD_REJECT_VERY_WEAK" env-default:"false"`

	Argon2MemoryKiB   uint32 `yaml:"argon2_memory_kib" env:"AUTHD_ARGON2_MEMORY_KIB" env-default:"65536"`
	Argon2Iterations  uint32 `yaml:"argon2_iterations" env:"AUTHD_ARGON2_ITERATIONS" env-default:"3"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism" env:"AUTHD_ARGON2_PARALLELISM" env-default:"0"`
	Argon2SaltLength  uint32 `yaml:"argon2_salt_len" env:"AUTHD_ARGON2_SALT_LEN" env-default:"16"`
	Argon2KeyLength   uint32 `yaml:"argon2_key_len" env:"AUTHD_ARGON2_KEY_LEN" env-default:"32"`

	BcryptCost int `yaml:"bcrypt_cost" env:"AUTHD_BCRYPT_COST" env-default:"10"`
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled" env:"AUTHD_SWEEP_ENABLED" env-default:"true"`
	Timezone string        `yaml:"timezone" env:"AUTHD_SWEEP_TIMEZONE" env-default:"UTC"`
	Timeout  time.Duration `yaml:"timeout" env:"AUTHD_SWEEP_TIMEOUT" env-default:"5m"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"AUTHD_SWEEP_LOCK_TTL" env-default:"10m"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"AUTHD_REDIS_ADDR"`
	Password string `yaml:"password" env:"AUTHD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AUTHD_REDIS_DB" env-default:"0"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"AUTHD_METRICS_ENABLED" env-default:"true"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"AUTHD_OTLP_ENDPOINT"`
	OTLPInsecure bool    `yaml:"otlp_insecure" env:"AUTHD_OTLP_INSECURE" env-default:"false"`
	SampleRatio  float64 `yaml:"sample_ratio" env:"AUTHD_TRACE_SAMPLE_RATIO" env-default:"1"`
}

// LoadConfig loads .env (if present), then path (if set), then the environment.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	var err error
	if strings.TrimSpace(path) != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the app itself owns. Session settings are
// validated by session.Config.Validate.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format must be json or text", ErrConfig)
	}
	if c.DB.MinConns < 0 || (c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns) {
		return fmt.Errorf("%w: db min conns out of range", ErrConfig)
	}
	if _, err := c.SweepLocation(); err != nil {
		return fmt.Errorf("%w: sweep timezone: %v", ErrConfig, err)
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return err
	}
	if err := c.PasswordConfig().Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if _, err := c.TokenHasher(); err != nil {
		return err
	}
	return nil
}

// SessionConfig projects the auth settings onto session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Issuer:             c.Auth.Issuer,
		JWTSecret:          c.Auth.JWTSecret,
		AccessTokenTTL:     c.Auth.AccessTTL,
		RefreshTokenTTL:    c.Auth.RefreshTTL,
		ClockSkew:          c.Auth.ClockSkew,
		InactiveSessionTTL: c.Auth.InactiveSessionTTL,
		RevokedRetention:   c.Auth.RevokedRetention,
		TerminateCascade:   c.Auth.TerminateCascade,
	}
}

// PasswordConfig projects the password settings onto password.Config.
func (c Config) PasswordConfig() password.Config {
	pc := password.DefaultConfig()
	pc.Policy = password.Policy{
		MinLength:      c.Password.MinLength,
		MaxLength:      c.Password.MaxLength,
		RejectVeryWeak: c.Password.RejectVeryWeak,
	}
	pc.Params.MemoryKiB = c.Password.Argon2MemoryKiB
	pc.Params.Iterations = c.Password.Argon2Iterations
	if c.Password.Argon2Parallelism > 0 {
		pc.Params.Parallelism = c.Password.Argon2Parallelism
	}
	pc.Params.SaltLength = c.Password.Argon2SaltLength
	pc.Params.KeyLength = c.Password.Argon2KeyLength
	pc.BcryptCost = c.Password.BcryptCost
	return pc
}

// APIConfig projects the HTTP-edge settings onto authapi.Config.
func (c Config) APIConfig() authapi.Config {
	return authapi.Config{
		TrustProxy:      c.HTTP.TrustProxy,
		MaxBodyBytes:    c.HTTP.MaxBodyBytes,
		AdminToken:      c.Auth.AdminToken,
		AllowSignupRole: c.Auth.AllowSignupRole,
	}
}

// TracingConfig projects the tracing settings onto telemetry.Config.
func (c Config) TracingConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.Telemetry.OTLPEndpoint,
		Insecure:    c.Telemetry.OTLPInsecure,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

// SweepLocation resolves the sweep timezone.
func (c Config) SweepLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.Sweep.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// TokenHasher builds the refresh-token hasher and enforces the HMAC policy:
// with RequireTokenHMAC set, a missing or short key fails startup instead of
// falling back to plain SHA-256.
func (c Config) TokenHasher() (token.Hasher, error) {
	raw := strings.TrimSpace(c.Auth.TokenHMACKey)
	if raw == "" {
		if c.Auth.RequireTokenHMAC {
			return token.Hasher{}, fmt.Errorf("%w: AUTHD_REQUIRE_TOKEN_HMAC=true but AUTHD_TOKEN_HMAC_KEY is missing", ErrConfig)
		}
		return token.NewHasher(nil), nil
	}

	key, err := token.KeyFromString(raw, token.MinHMACKeyBytes)
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return token.Hasher{}, fmt.Errorf("%w: AUTHD_TOKEN_HMAC_KEY is too short (min %d bytes)", ErrConfig, token.MinHMACKeyBytes)
		}
		return token.Hasher{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return token.NewHasher(key), nil
}

// LoadDBConfig reads only the database settings, for commands that must not
// require the full auth configuration.
func LoadDBConfig(path string) (DBConfig, error) {
	_ = godotenv.Load()

	var cfg struct {
		DB DBConfig `yaml:"db"`
	}
	var err error
	if strings.TrimSpace(path) != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return DBConfig{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg.DB, nil
}
