package session

import "strings"

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps free-form input to a Platform, defaulting to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceMeta describes the client a session belongs to. The calling edge
// resolves it per request and passes it explicitly.
type DeviceMeta struct {
	Device    string
	DeviceID  string
	Platform  Platform
	IP        string
	UserAgent string
}

const (
	maxDeviceLen    = 128
	maxUserAgentLen = 512
	maxIPLen        = 64
)

func (d DeviceMeta) normalized() DeviceMeta {
	return DeviceMeta{
		Device:    clip(d.Device, maxDeviceLen),
		DeviceID:  clip(d.DeviceID, maxDeviceLen),
		Platform:  ParsePlatform(string(d.Platform)),
		IP:        clip(d.IP, maxIPLen),
		UserAgent: clip(d.UserAgent, maxUserAgentLen),
	}
}

// orElse fills empty fields from fallback.
func (d DeviceMeta) orElse(fallback DeviceMeta) DeviceMeta {
	if d.Device == "" {
		d.Device = fallback.Device
	}
	if d.DeviceID == "" {
		d.DeviceID = fallback.DeviceID
	}
	if d.Platform == "" || d.Platform == PlatformUnknown {
		d.Platform = fallback.Platform
	}
	if d.IP == "" {
		d.IP = fallback.IP
	}
	if d.UserAgent == "" {
		d.UserAgent = fallback.UserAgent
	}
	return d
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
