package cookiesig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignedPrefix marks a cookie value produced by SignCookie.
const SignedPrefix = "s:"

// Signature returns the unpadded base64 HMAC-SHA256 of value under secret.
func Signature(value, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(value))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(m.Sum(nil)), "=")
}

// Sign returns value.signature.
func Sign(value, secret string) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}
	return value + "." + Signature(value, secret), nil
}

// Unsign verifies a value produced by Sign against every secret and returns
// the original value.
func Unsign(signed string, secrets []string) (string, error) {
	if len(secrets) == 0 {
		return "", ErrSecretMissing
	}

	dot := strings.LastIndexByte(signed, '.')
	if dot <= 0 || dot == len(signed)-1 {
		return "", ErrMalformedValue
	}
	value, mac := signed[:dot], signed[dot+1:]

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		if hmac.Equal([]byte(mac), []byte(Signature(value, secret))) {
			return value, nil
		}
	}
	return "", ErrBadSignature
}

// SignCookie returns the "s:"-prefixed form used for session cookies.
// The first secret signs.
func SignCookie(value string, secrets []string) (string, error) {
	if len(secrets) == 0 {
		return "", ErrSecretMissing
	}
	s, err := Sign(value, secrets[0])
	if err != nil {
		return "", err
	}
	return SignedPrefix + s, nil
}

// UnsignCookie strips the "s:" prefix and verifies the signature.
// Unprefixed values are rejected with ErrNotSigned.
func UnsignCookie(raw string, secrets []string) (string, error) {
	if !strings.HasPrefix(raw, SignedPrefix) {
		return "", ErrNotSigned
	}
	return Unsign(strings.TrimPrefix(raw, SignedPrefix), secrets)
}
