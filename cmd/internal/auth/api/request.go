package authapi

import (
	"net"
	"net/http"
	"strings"

	"authd/cmd/internal/auth/session"
)

const (
	headerDevice   = "X-Device"
	headerDeviceID = "X-Device-Id"
	headerPlatform = "X-Platform"
	headerAdmin    = "X-Admin-Token"
)

// deviceMeta resolves the client description for r from its headers and peer address.
func deviceMeta(r *http.Request, trustProxy bool) session.DeviceMeta {
	d := session.DeviceMeta{
		Device:    strings.TrimSpace(r.Header.Get(headerDevice)),
		DeviceID:  strings.TrimSpace(r.Header.Get(headerDeviceID)),
		Platform:  session.ParsePlatform(r.Header.Get(headerPlatform)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
	if ip := clientIP(r, trustProxy); ip != nil {
		d.IP = ip.String()
	}
	return d
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the first parseable address in an X-Forwarded-For list.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
