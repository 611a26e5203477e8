// Package cookiesig signs and verifies cookie values.
//
// The format is the one used by signed session cookies in the Node
// ecosystem: value + "." + base64(HMAC-SHA256(secret, value)) with the
// trailing padding removed. Session cookies carry it behind an "s:" prefix.
//
// Several secrets may be configured at once. The first one signs; every one
// of them verifies, so a secret can be rotated without logging users out.
package cookiesig
