package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"authd/cmd/identity"
	"authd/cmd/internal/auth/session"
)

// Service is the subset of session.Service the HTTP edge calls.
type Service interface {
	SignUp(ctx context.Context, in session.SignUpInput) (session.Issued, error)
	SignIn(ctx context.Context, in session.SignInInput) (session.Issued, error)
	Refresh(ctx context.Context, refreshToken string, dev session.DeviceMeta) (session.Issued, error)
	Logout(ctx context.Context, refreshToken string)
	LogoutAllDevices(ctx context.Context, userID string) error
	GetSessions(ctx context.Context, userID string) ([]session.Session, error)
	GetActiveRefreshTokens(ctx context.Context, userID string) ([]session.TokenInfo, error)
	TerminateSession(ctx context.Context, sessionID string) error
	TerminateUserSession(ctx context.Context, userID, sessionID string) error
	TouchSession(ctx context.Context, sessionID string) error
	Authenticate(ctx context.Context, accessToken string) (session.AccessClaims, error)
	CleanupExpiredTokens(ctx context.Context) (int, error)
	TokenStats(ctx context.Context) (session.TokenStats, error)
}

// UserLookup resolves the user behind an access token for role checks.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

// Handler serves the auth HTTP API.
type Handler struct {
	cfg   Config
	svc   Service
	users UserLookup
	log   *slog.Logger
}

// NewHandler returns a Handler. A nil logger falls back to slog.Default.
func NewHandler(cfg Config, svc Service, users UserLookup, log *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil service")
	}
	if users == nil {
		return nil, errors.New("authapi: nil user lookup")
	}
	if log == nil {
		log = slog.Default()
	}
	registerValidators()
	return &Handler{cfg: cfg.normalized(), svc: svc, users: users, log: log}, nil
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1", h.noStore())

	auth := v1.Group("/auth")
	auth.POST("/signup", h.signUp)
	auth.POST("/signin", h.signIn)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)

	authed := auth.Group("", h.requireAuth())
	authed.POST("/logout-all", h.logoutAll)
	authed.GET("/sessions", h.listSessions)
	authed.DELETE("/sessions/:id", h.terminateOwnSession)
	authed.GET("/tokens", h.listTokens)

	admin := v1.Group("/admin", h.requireAdmin())
	admin.POST("/tokens/cleanup", h.cleanupTokens)
	admin.GET("/tokens/stats", h.tokenStats)
	admin.DELETE("/sessions/:id", h.terminateSession)
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", bindMessage(err))
		return
	}

	role, ok := identity.ParseRole(req.Role)
	if !ok || (role != identity.RoleUser && !h.cfg.AllowSignupRole) {
		writeError(c, http.StatusBadRequest, "invalid_request", "role not allowed")
		return
	}

	out, err := h.svc.SignUp(c.Request.Context(), session.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Phone:    req.Phone,
		Role:     role,
		Device:   deviceMeta(c.Request, h.cfg.TrustProxy),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAuthResponse(out))
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", bindMessage(err))
		return
	}

	out, err := h.svc.SignIn(c.Request.Context(), session.SignInInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceMeta(c.Request, h.cfg.TrustProxy),
	})
	if err != nil {
		writeSignInError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(out))
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", bindMessage(err))
		return
	}

	out, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken, deviceMeta(c.Request, h.cfg.TrustProxy))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshResponse{
		AccessToken:      out.AccessToken,
		AccessExpiresAt:  out.AccessExp,
		RefreshToken:     out.RefreshToken,
		RefreshExpiresAt: out.RefreshExp,
	})
}

// logout succeeds for any well-formed body so callers cannot probe token state.
func (h *Handler) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", bindMessage(err))
		return
	}
	h.svc.Logout(c.Request.Context(), req.RefreshToken)
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) logoutAll(c *gin.Context) {
	claims, _ := claimsFrom(c)
	if err := h.svc.LogoutAllDevices(c.Request.Context(), claims.UserID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) listSessions(c *gin.Context) {
	claims, _ := claimsFrom(c)
	list, err := h.svc.GetSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := sessionsResponse{Sessions: make([]sessionResponse, 0, len(list))}
	for _, s := range list {
		out.Sessions = append(out.Sessions, toSessionResponse(s, claims.SessionID))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listTokens(c *gin.Context) {
	claims, _ := claimsFrom(c)
	list, err := h.svc.GetActiveRefreshTokens(c.Request.Context(), claims.UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []session.TokenInfo{}
	}
	c.JSON(http.StatusOK, tokensResponse{Tokens: list})
}

func (h *Handler) terminateOwnSession(c *gin.Context) {
	claims, _ := claimsFrom(c)
	id := strings.TrimSpace(c.Param("id"))
	if err := h.svc.TerminateUserSession(c.Request.Context(), claims.UserID, id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) terminateSession(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.svc.TerminateSession(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *Handler) cleanupTokens(c *gin.Context) {
	n, err := h.svc.CleanupExpiredTokens(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cleanupResponse{DeletedCount: n})
}

func (h *Handler) tokenStats(c *gin.Context) {
	st, err := h.svc.TokenStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
