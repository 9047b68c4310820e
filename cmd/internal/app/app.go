// Package app wires the authd runtime: config, logging, stores, the session
// service, the HTTP engine and the maintenance scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"authd/cmd/identity"
	authapi "authd/cmd/internal/auth/api"
	"authd/cmd/internal/auth/session"
	"authd/cmd/internal/metrics"
	"authd/cmd/internal/storage"
	"authd/cmd/internal/sweep"
	"authd/cmd/internal/telemetry"
	"authd/cmd/security/password"
)

// App owns every long-lived resource of the server process.
type App struct {
	cfg Config
	log Logger

	pool    *pgxpool.Pool
	redis   *redis.Client
	tracing *telemetry.Provider

	svc     *session.Service
	metrics *metrics.Metrics
	sched   *sweep.Scheduler
	engine  *gin.Engine
}

// New constructs a fully wired App. Without a database URL it runs on
// in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.Log, nil)
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tracing, err = telemetry.New(ctx, cfg.TracingConfig(), "authd")
	if err != nil {
		return nil, err
	}
	a.tracing.SetGlobal()

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	users, sessions, tokens, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	hasher, err := cfg.TokenHasher()
	if err != nil {
		return nil, err
	}
	jwtm, err := session.NewJWTManager(cfg.SessionConfig())
	if err != nil {
		return nil, err
	}

	deps := session.Deps{
		Users:       users,
		Sessions:    sessions,
		Tokens:      tokens,
		Access:      jwtm,
		Credentials: password.NewVerifier(cfg.PasswordConfig()),
		Hasher:      hasher,
		Log:         log,
	}
	if a.metrics != nil {
		deps.Recorder = a.metrics
	}
	a.svc, err = session.NewService(cfg.SessionConfig(), deps)
	if err != nil {
		return nil, err
	}

	if err := a.newScheduler(); err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(cfg.APIConfig(), a.svc, users, log)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	a.engine = newEngine(routes{log: log, cfg: cfg, pool: a.pool, auth: auth, metrics: a.metrics})

	if !hasher.HMACEnabled() {
		log.Warn("security.token_hmac.disabled", "hint", "set AUTHD_TOKEN_HMAC_KEY to key refresh-token hashes")
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) (identity.Store, session.SessionStore, session.RefreshTokenStore, error) {
	if a.cfg.DB.URL == "" {
		a.log.Info("db.disabled.inmemory_store")
		mem := session.NewMemoryStore()
		return identity.NewMemoryStore(), mem, mem, nil
	}

	if a.cfg.DB.AutoMigrate {
		if err := storage.Migrate(a.cfg.DB.URL, storage.Up); err != nil {
			return nil, nil, nil, err
		}
		a.log.Info("db.migrated")
	}

	pool, err := NewDBPool(ctx, a.cfg.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	a.pool = pool
	a.log.Info("db.enabled.postgres_store")

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := session.NewPostgresStore(pool)
	if err != nil {
		return nil, nil, nil, err
	}
	return users, st, st, nil
}

func (a *App) newScheduler() error {
	loc, err := a.cfg.SweepLocation()
	if err != nil {
		return err
	}

	scfg := sweep.Config{Location: loc, Timeout: a.cfg.Sweep.Timeout}
	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		scfg.Locker = sweep.NewRedisLocker(a.redis, a.cfg.Sweep.LockTTL)
	}

	var obs sweep.Observer
	if a.metrics != nil {
		obs = a.metrics
	}
	a.sched, err = sweep.New(scfg, a.svc, a.log, obs)
	return err
}

// Service exposes the session service for one-shot CLI commands.
func (a *App) Service() *session.Service { return a.svc }

// Scheduler exposes the maintenance scheduler for one-shot CLI commands.
func (a *App) Scheduler() *sweep.Scheduler { return a.sched }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.engine }

// Run starts the HTTP server (and the scheduler when enabled) and blocks
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.engine,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.HTTP.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.HTTP.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.HTTP.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.HTTP.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.HTTP.MaxHeaderBytes, 1<<20),
	}

	if a.cfg.Sweep.Enabled {
		a.sched.Start()
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTP.Addr,
		"db_enabled", a.pool != nil,
		"sweep_enabled", a.cfg.Sweep.Enabled,
		"sweep_locked", a.redis != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.HTTP.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("app.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the scheduler, redis client, tracer provider and DB pool.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sched != nil {
		if err := a.sched.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		a.sched = nil
	}
	if a.redis != nil {
		errs = append(errs, closeWith("redis", a.redis))
		a.redis = nil
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		a.tracing = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}

func closeWith(name string, c io.Closer) error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
