package authapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authd/cmd/internal/auth/session"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeServiceError maps a session error kind to a status and error code.
func writeServiceError(c *gin.Context, err error) {
	msg := session.PublicMessage(err)
	switch {
	case session.IsAlreadyExists(err):
		writeError(c, http.StatusConflict, "already_exists", msg)
	case session.IsNotFound(err):
		writeError(c, http.StatusNotFound, "not_found", msg)
	case session.IsForbidden(err):
		writeError(c, http.StatusForbidden, "forbidden", msg)
	case session.IsUnauthorized(err):
		writeError(c, http.StatusUnauthorized, "unauthorized", msg)
	case session.IsInvalidInput(err):
		writeError(c, http.StatusBadRequest, "invalid_request", msg)
	default:
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

// writeSignInError collapses unknown-email and wrong-password into one response.
func writeSignInError(c *gin.Context, err error) {
	if session.IsNotFound(err) || session.IsForbidden(err) {
		writeError(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	writeServiceError(c, err)
}
