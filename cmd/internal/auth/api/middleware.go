package authapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"authd/cmd/identity"
	"authd/cmd/internal/auth/session"
)

const claimsKey = "authapi.claims"

// noStore marks every auth response as uncacheable and caps the request body.
func (h *Handler) noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodyBytes)
		}
		c.Next()
	}
}

// requireAuth verifies the bearer access token and stores its claims on the context.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			writeError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		if claims.SessionID != "" {
			if err := h.svc.TouchSession(c.Request.Context(), claims.SessionID); err != nil {
				h.log.Error("auth.sessions.touch.fail", "err", err, "session_id", claims.SessionID)
			}
		}
		c.Next()
	}
}

// requireAdmin admits requests carrying the configured admin token or an
// access token of an active admin user.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminTokenOK(c.GetHeader(headerAdmin)) {
			c.Next()
			return
		}

		token := bearerToken(c.Request)
		if token == "" {
			writeError(c, http.StatusUnauthorized, "unauthorized", "admin credentials required")
			return
		}
		claims, err := h.svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		u, err := h.users.GetByID(c.Request.Context(), claims.UserID)
		switch {
		case identity.IsNotFound(err):
			writeError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		case err != nil:
			h.log.Error("auth.admin.lookup.fail", "err", err, "user_id", claims.UserID)
			writeError(c, http.StatusInternalServerError, "internal", "internal error")
			return
		case !u.Lifecycle.IsActive():
			writeError(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		case u.Role != identity.RoleAdmin:
			writeError(c, http.StatusForbidden, "forbidden", "admin role required")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (h *Handler) adminTokenOK(got string) bool {
	if h.cfg.AdminToken == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.AdminToken)) == 1
}

func claimsFrom(c *gin.Context) (session.AccessClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return session.AccessClaims{}, false
	}
	claims, ok := v.(session.AccessClaims)
	return claims, ok
}
