// Package main is a CI-friendly smoke test for the authd HTTP API.
//
// It validates:
//   - signup returns a token pair
//   - the bearer token lists exactly one session
//   - refresh rotates and the old refresh token is rejected afterwards
//   - logout-all revokes the rotated token
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type smoke struct {
	base    string
	client  *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "authd base URL")
		password = flag.String("password", "Smoke-Password-1!", "Password for the throwaway account")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}

	email := "smoke-" + strings.ToLower(ulid.Make().String()) + "@example.com"

	var signed tokenPair
	s.step("signup", http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":    email,
		"password": *password,
	}, http.StatusCreated, &signed)

	var sessions struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	s.step("sessions", http.MethodGet, "/v1/auth/sessions", signed.AccessToken, nil, http.StatusOK, &sessions)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != signed.SessionID {
		fatalf("sessions: want exactly %s, got %+v", signed.SessionID, sessions.Sessions)
	}

	var rotated tokenPair
	s.step("refresh", http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": signed.RefreshToken,
	}, http.StatusOK, &rotated)
	if rotated.RefreshToken == signed.RefreshToken {
		fatalf("refresh: token was not rotated")
	}

	s.step("refresh reuse", http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": signed.RefreshToken,
	}, http.StatusUnauthorized, nil)

	s.step("logout-all", http.MethodPost, "/v1/auth/logout-all", rotated.AccessToken, nil, http.StatusOK, nil)

	s.step("refresh after logout-all", http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": rotated.RefreshToken,
	}, http.StatusUnauthorized, nil)

	fmt.Println("auth smoke: ok")
}

func (s *smoke) step(name, method, path, bearer string, body any, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("%s: encode: %v", name, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		fatalf("%s: %v", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("X-Platform", "desktop")
	req.Header.Set("X-Device", "auth-smoke")

	res, err := s.client.Do(req)
	if err != nil {
		fatalf("%s: %v", name, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		fatalf("%s: read: %v", name, err)
	}
	if res.StatusCode != wantStatus {
		fatalf("%s: status %d, want %d: %s", name, res.StatusCode, wantStatus, raw)
	}
	if s.verbose {
		fmt.Printf("%-26s %d %s\n", name, res.StatusCode, res.Header.Get("x-req-id"))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s: decode: %v", name, err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "auth smoke: "+format+"\n", args...)
	os.Exit(1)
}
