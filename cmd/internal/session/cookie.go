package session

import (
	"net/http"
	"net/url"
	"strings"

	"sockpress/cmd/security/cookiesig"
)

// EncodeCookieValue returns the cookie value carrying id: the "s:"-signed
// form, percent-encoded the way browsers round-trip it.
func EncodeCookieValue(id string, secrets []string) (string, error) {
	signed, err := cookiesig.SignCookie(id, normalizeSecrets(secrets))
	if err != nil {
		return "", err
	}
	return url.QueryEscape(signed), nil
}

// DecodeCookieValue reverses EncodeCookieValue and verifies the signature.
func DecodeCookieValue(raw string, secrets []string) (string, error) {
	if strings.Contains(raw, "%") {
		if dec, err := url.PathUnescape(raw); err == nil {
			raw = dec
		}
	}
	return cookiesig.UnsignCookie(raw, secrets)
}

// cookieFromHeader extracts one cookie from a raw Cookie header.
// Malformed pairs are skipped, not fatal.
func cookieFromHeader(header, name string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
