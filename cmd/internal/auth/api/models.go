package authapi

import (
	"time"

	"authd/cmd/internal/auth/session"
)

type signUpRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,max=256"`
	Username string `json:"username" binding:"omitempty,max=64"`
	Phone    string `json:"phone" binding:"omitempty,phone"`
	Role     string `json:"role" binding:"omitempty,oneof=user admin"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=4096"`
}

type authResponse struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type refreshResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Device    string    `json:"device,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type tokensResponse struct {
	Tokens []session.TokenInfo `json:"tokens"`
}

type cleanupResponse struct {
	DeletedCount int `json:"deleted_count"`
}

func toAuthResponse(in session.Issued) authResponse {
	return authResponse{
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		AccessToken:      in.AccessToken,
		AccessExpiresAt:  in.AccessExp,
		RefreshToken:     in.RefreshToken,
		RefreshExpiresAt: in.RefreshExp,
	}
}

func toSessionResponse(s session.Session, currentID string) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Device:    s.Device,
		DeviceID:  s.DeviceID,
		Platform:  string(s.Platform),
		IP:        s.IP,
		UserAgent: s.UserAgent,
		LastSeen:  s.LastSeen,
		CreatedAt: s.CreatedAt,
		Current:   currentID != "" && s.ID == currentID,
	}
}
