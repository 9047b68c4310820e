package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	authapi "authd/cmd/internal/auth/api"
	"authd/cmd/internal/metrics"
)

type routes struct {
	log     Logger
	cfg     Config
	pool    *pgxpool.Pool
	auth    *authapi.Handler
	metrics *metrics.Metrics
}

// newEngine builds the gin engine with middleware, probes and the auth API.
func newEngine(rt routes) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(
		recovery(rt.log),
		requestMeta(rt.cfg.HTTP.TrustProxy),
		tracing(),
		requestLogging(rt.log),
	)
	if rt.metrics != nil {
		r.Use(observeHTTP(rt.metrics))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok\n")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if rt.cfg.DB.RequireDB && rt.pool == nil {
			c.String(http.StatusServiceUnavailable, "db not configured\n")
			return
		}
		if rt.pool != nil {
			if err := PingDB(c.Request.Context(), rt.pool, 2*time.Second); err != nil {
				rt.log.Info("readyz.db.not_ready", "err", err)
				c.String(http.StatusServiceUnavailable, "db not ready\n")
				return
			}
		}
		c.String(http.StatusOK, "ready\n")
	})

	if rt.metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.metrics.Handler()))
	}

	if rt.auth != nil {
		rt.auth.Register(r)
	}

	return r
}
