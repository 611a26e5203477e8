// Package session bridges one logical user session across HTTP and the
// socket transport.
//
// The HTTP half is Manager.Middleware: it loads the session named by a
// signed cookie (or starts a new one) and persists it at the end of the
// request. The socket half is Resolver: at handshake time it reads the same
// cookie from the upgrade request and loads the same document from the same
// Store.
//
// A Session is either authentic (bound to an id and a store) or the
// unresolved placeholder. Both expose Save; the placeholder's Save always
// fails with ErrNotInitialized, so callers never have to branch on validity
// before saving.
package session
