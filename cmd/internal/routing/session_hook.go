package routing

import (
	"context"
	"strings"

	"sockpress/cmd/internal/realtime"
	"sockpress/cmd/internal/session"
)

// sessionHook resolves the handshake cookie into the connection's session.
// It never rejects: a failed resolution, or a nil resolver, leaves the
// placeholder attached.
func sessionHook(resolver *session.Resolver) realtime.Middleware {
	return func(ctx context.Context, c *realtime.Conn) error {
		header := strings.Join(c.Handshake().Header.Values("Cookie"), "; ")
		c.SetSession(resolver.Resolve(ctx, header))
		return nil
	}
}
