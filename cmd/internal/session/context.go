package session

import "context"

type ctxKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request session, or a placeholder when the
// request did not pass through Manager.Middleware.
func FromContext(ctx context.Context) *Session {
	if ctx != nil {
		if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
			return s
		}
	}
	return Unresolved()
}
