package cookiesig

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing  = errors.New("cookie signing secret missing")
	ErrNotSigned      = errors.New("cookie value is not signed")
	ErrBadSignature   = errors.New("cookie signature mismatch")
	ErrMalformedValue = errors.New("malformed signed cookie value")
)
