package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authd/cmd/identity"
	"authd/cmd/internal/auth/session"
	"authd/cmd/security/password"
	"authd/cmd/security/token"
)

const (
	testPassword   = "Very-Strong-Password-1!"
	testAdminToken = "admin-token-for-tests"
)

type apiHarness struct {
	srv   *httptest.Server
	users *identity.MemoryStore
	svc   *session.Service
}

func newAPIHarness(t *testing.T, mutate ...func(*Config)) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := session.DefaultConfig()
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef-api"
	jwtm, err := session.NewJWTManager(cfg)
	require.NoError(t, err)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	pw.BcryptCost = 4

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := identity.NewMemoryStore()
	store := session.NewMemoryStore()
	svc, err := session.NewService(cfg, session.Deps{
		Users:       users,
		Sessions:    store,
		Tokens:      store,
		Access:      jwtm,
		Credentials: password.NewVerifier(pw),
		Hasher:      token.NewHasher([]byte("k-0123456789abcdef0123456789abcdef")),
		Log:         log,
	})
	require.NoError(t, err)

	apiCfg := DefaultConfig()
	apiCfg.AdminToken = testAdminToken
	for _, m := range mutate {
		m(&apiCfg)
	}
	h, err := NewHandler(apiCfg, svc, users, log)
	require.NoError(t, err)

	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, users: users, svc: svc}
}

func (a *apiHarness) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func (a *apiHarness) signUp(t *testing.T, email string) authResponse {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/v1/auth/signup", map[string]string{
		"email":    email,
		"password": testPassword,
		"username": gofakeit.Username(),
	}, map[string]string{headerPlatform: "ios", headerDevice: "iPhone"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeError(t *testing.T, body []byte) apiError {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func fakeEmail() string {
	return strings.ToLower(gofakeit.LetterN(10)) + "@example.com"
}

func TestAuthAPI_SignUpSessionsAndLogout(t *testing.T) {
	a := newAPIHarness(t)
	first := a.signUp(t, fakeEmail())
	require.NotEmpty(t, first.AccessToken)
	require.NotEmpty(t, first.RefreshToken)

	status, body := a.do(t, http.MethodGet, "/v1/auth/sessions", nil, bearer(first.AccessToken))
	require.Equal(t, http.StatusOK, status, string(body))
	var sessions sessionsResponse
	require.NoError(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, first.SessionID, sessions.Sessions[0].ID)
	assert.True(t, sessions.Sessions[0].Current)
	assert.Equal(t, "ios", sessions.Sessions[0].Platform)
	assert.Equal(t, "iPhone", sessions.Sessions[0].Device)

	status, body = a.do(t, http.MethodGet, "/v1/auth/tokens", nil, bearer(first.AccessToken))
	require.Equal(t, http.StatusOK, status, string(body))
	var tokens tokensResponse
	require.NoError(t, json.Unmarshal(body, &tokens))
	require.Len(t, tokens.Tokens, 1)
	assert.NotContains(t, string(body), first.RefreshToken)

	status, body = a.do(t, http.MethodPost, "/v1/auth/logout", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"success":true}`, string(body))

	status, _ = a.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = a.do(t, http.MethodGet, "/v1/auth/sessions", nil, bearer(first.AccessToken))
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &sessions))
	assert.Empty(t, sessions.Sessions)
}

func TestAuthAPI_RefreshRotatesOnce(t *testing.T) {
	a := newAPIHarness(t)
	out := a.signUp(t, fakeEmail())

	status, body := a.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: out.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var rotated refreshResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	assert.NotEqual(t, out.RefreshToken, rotated.RefreshToken)

	status, body = a.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: out.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decodeError(t, body).Code)

	status, _ = a.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthAPI_SignInNoEnumeration(t *testing.T) {
	a := newAPIHarness(t)
	email := fakeEmail()
	a.signUp(t, email)

	statusA, bodyA := a.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "missing-" + email, Password: testPassword}, nil)
	statusB, bodyB := a.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: email, Password: "Wrong-Password-1!"}, nil)

	require.Equal(t, http.StatusUnauthorized, statusA)
	require.Equal(t, http.StatusUnauthorized, statusB)
	assert.Equal(t, decodeError(t, bodyA), decodeError(t, bodyB))
	assert.Equal(t, "invalid_credentials", decodeError(t, bodyA).Code)

	status, body := a.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: strings.ToUpper(email), Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
}

func TestAuthAPI_SignUpRejections(t *testing.T) {
	a := newAPIHarness(t)
	email := fakeEmail()
	a.signUp(t, email)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate email", map[string]string{"email": email, "password": testPassword}, http.StatusConflict, "already_exists"},
		{"bad email", map[string]string{"email": "nope", "password": testPassword}, http.StatusBadRequest, "invalid_request"},
		{"missing password", map[string]string{"email": fakeEmail()}, http.StatusBadRequest, "invalid_request"},
		{"short password", map[string]string{"email": fakeEmail(), "password": "abc"}, http.StatusBadRequest, "invalid_request"},
		{"bad phone", map[string]string{"email": fakeEmail(), "password": testPassword, "phone": "12"}, http.StatusBadRequest, "invalid_request"},
		{"admin role", map[string]string{"email": fakeEmail(), "password": testPassword, "role": "admin"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(t, http.MethodPost, "/v1/auth/signup", tt.body, nil)
			require.Equal(t, tt.status, status, string(body))
			assert.Equal(t, tt.code, decodeError(t, body).Code)
		})
	}
}

func TestAuthAPI_BindMessagesUseJSONNames(t *testing.T) {
	a := newAPIHarness(t)
	status, body := a.do(t, http.MethodPost, "/v1/auth/refresh", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "refresh_token is required", decodeError(t, body).Message)
}

func TestAuthAPI_ProtectedRoutesRequireBearer(t *testing.T) {
	a := newAPIHarness(t)

	status, body := a.do(t, http.MethodGet, "/v1/auth/sessions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decodeError(t, body).Code)

	status, _ = a.do(t, http.MethodGet, "/v1/auth/tokens", nil, bearer("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthAPI_LogoutAllDevices(t *testing.T) {
	a := newAPIHarness(t)
	email := fakeEmail()
	first := a.signUp(t, email)
	status, _ := a.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: email, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := a.do(t, http.MethodPost, "/v1/auth/logout-all", nil, bearer(first.AccessToken))
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = a.do(t, http.MethodGet, "/v1/auth/tokens", nil, bearer(first.AccessToken))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"tokens":[]}`, string(body))
}

func TestAuthAPI_TerminateOwnSession(t *testing.T) {
	a := newAPIHarness(t)
	alice := a.signUp(t, fakeEmail())
	bob := a.signUp(t, fakeEmail())

	status, _ := a.do(t, http.MethodDelete, "/v1/auth/sessions/"+bob.SessionID, nil, bearer(alice.AccessToken))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, http.MethodDelete, "/v1/auth/sessions/"+alice.SessionID, nil, bearer(alice.AccessToken))
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: alice.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthAPI_AdminRoutes(t *testing.T) {
	a := newAPIHarness(t, func(c *Config) { c.AllowSignupRole = true })
	user := a.signUp(t, fakeEmail())

	status, body := a.do(t, http.MethodGet, "/v1/admin/tokens/stats", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status, string(body))

	status, _ = a.do(t, http.MethodGet, "/v1/admin/tokens/stats", nil, map[string]string{headerAdmin: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodGet, "/v1/admin/tokens/stats", nil, bearer(user.AccessToken))
	assert.Equal(t, http.StatusForbidden, status)

	status, body = a.do(t, http.MethodGet, "/v1/admin/tokens/stats", nil, map[string]string{headerAdmin: testAdminToken})
	require.Equal(t, http.StatusOK, status, string(body))
	var st session.TokenStats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, int64(1), st.Active)
	assert.Equal(t, int64(1), st.ActiveSessions)

	status, body = a.do(t, http.MethodPost, "/v1/admin/tokens/cleanup", nil, map[string]string{headerAdmin: testAdminToken})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"deleted_count":0}`, string(body))

	status, body = a.do(t, http.MethodPost, "/v1/auth/signup", map[string]string{
		"email": fakeEmail(), "password": testPassword, "role": "admin",
	}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var admin authResponse
	require.NoError(t, json.Unmarshal(body, &admin))

	status, _ = a.do(t, http.MethodDelete, "/v1/admin/sessions/"+user.SessionID, nil, bearer(admin.AccessToken))
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodDelete, "/v1/admin/sessions/"+gofakeit.LetterN(26), nil, bearer(admin.AccessToken))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAuthAPI_BodyTooLarge(t *testing.T) {
	a := newAPIHarness(t, func(c *Config) { c.MaxBodyBytes = 64 })
	status, body := a.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{
		Email:    fakeEmail(),
		Password: strings.Repeat("x", 200),
	}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "request body too large", decodeError(t, body).Message)
}

func TestAuthAPI_ResponsesAreNotCached(t *testing.T) {
	a := newAPIHarness(t)
	res, err := a.srv.Client().Get(a.srv.URL + "/v1/auth/sessions")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, "no-store", res.Header.Get("Cache-Control"))
}
