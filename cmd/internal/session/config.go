package session

import (
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultCookieName is the session cookie name used when none is configured.
	DefaultCookieName = "sockpress.id"

	// DefaultTTL bounds how long a store keeps an untouched session document.
	DefaultTTL = 24 * time.Hour
)

// CookieOptions controls the attributes of the session cookie set over HTTP.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   time.Duration // 0 => browser-session cookie
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) withDefaults() CookieOptions {
	if strings.TrimSpace(o.Path) == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

func normalizeSecrets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cookieNameOrDefault(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultCookieName
	}
	return name
}
