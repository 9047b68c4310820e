package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"authd/cmd/identity/ids"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		assert.Equal(t, tc.wantLevel, level, tc.status)
		assert.Equal(t, tc.wantResult, result, tc.status)
		assert.Equal(t, tc.wantClass, statusClass(tc.status), tc.status)
	}
}

func TestRequestMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestMeta(true))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ctxRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	id := rr.Header().Get(headerRequestID)
	assert.True(t, ids.Valid(id))
	assert.Equal(t, id, rr.Body.String())
	assert.Equal(t, "203.0.113.5", rr.Header().Get(headerRequestIP))

	inbound, _ := ids.NewULID(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, inbound)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, inbound, rr.Header().Get(headerRequestID))
}

func TestRequestIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")

	assert.Equal(t, "192.0.2.1", requestIP(req, false))
	assert.Equal(t, "198.51.100.2", requestIP(req, true))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "", requestIP(req, false))
}
