package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	v1 "sockpress/shared/contracts/socket/v1"

	"github.com/coder/websocket"
)

// Server is the socket entrypoint. It is an http.Handler.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, runs namespace middleware before the upgrade, and dispatches
// validated event envelopes to the handlers each connection subscribed.
type Server struct {
	log     *slog.Logger
	cfg     Config
	origin  originPolicy
	metrics *Metrics

	mu     sync.RWMutex
	nsps   map[string]*Namespace
	order  []string
	closed bool

	live sync.WaitGroup
}

// NewServer constructs a server with the root namespace "/" registered.
func NewServer(log *slog.Logger, cfg Config, metrics *Metrics) *Server {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg = cfg.normalized()

	s := &Server{
		log:     log,
		cfg:     cfg,
		origin:  newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		metrics: metrics,
		nsps:    make(map[string]*Namespace),
	}
	s.Of("/")
	return s
}

// Of returns the namespace name, creating it on first use. Names are
// normalized to start with "/".
func (s *Server) Of(name string) *Namespace {
	name = normalizeNamespace(name)

	s.mu.RLock()
	n, ok := s.nsps[name]
	s.mu.RUnlock()
	if ok {
		return n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nsps[name]; ok {
		return n
	}
	n = newNamespace(s, name)
	s.nsps[name] = n
	s.order = append(s.order, name)
	s.log.Debug("ws.namespace.create", "namespace", name)
	return n
}

// Use appends middleware to the root namespace.
func (s *Server) Use(mw Middleware) *Server {
	s.Of("/").Use(mw)
	return s
}

// On subscribes a lifecycle handler on the root namespace.
func (s *Server) On(event string, fn ConnHandler) *Server {
	s.Of("/").On(event, fn)
	return s
}

// Namespaces lists namespace names in creation order.
func (s *Server) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Server) lookup(name string) (*Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nsps[normalizeNamespace(name)]
	return n, ok
}

// Shutdown stops accepting handshakes, disconnects every connection and
// waits for them to finish or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	nsps := make([]*Namespace, 0, len(s.order))
	for _, name := range s.order {
		nsps = append(nsps, s.nsps[name])
	}
	s.mu.Unlock()

	for _, n := range nsps {
		for _, c := range n.snapshot() {
			c.Disconnect()
		}
	}

	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown bounded by a short grace period.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*closeGrace)
	defer cancel()
	return s.Shutdown(ctx)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeHandshakeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}
	s.live.Add(1)
	s.mu.Unlock()
	defer s.live.Done()

	if err := s.origin.check(r); err != nil {
		s.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		s.metrics.handshake("", "origin")
		writeHandshakeError(w, http.StatusForbidden, "forbidden_origin", "origin not allowed")
		return
	}

	name := normalizeNamespace(r.URL.Query().Get("ns"))
	nsp, ok := s.lookup(name)
	if !ok {
		s.log.Info("ws.reject.namespace", "namespace", name, "remote", r.RemoteAddr)
		s.metrics.handshake("", "unknown_namespace")
		writeHandshakeError(w, http.StatusNotFound, "unknown_namespace", "unknown namespace "+name)
		return
	}

	c := newConn(nsp, handshakeFrom(r), s.cfg.SendQueueSize, s.log, s.metrics)

	for _, mw := range nsp.middlewareSnapshot() {
		err := mw(r.Context(), c)
		if err == nil {
			continue
		}
		status, code := http.StatusForbidden, "forbidden"
		var he *HandshakeError
		if errors.As(err, &he) {
			if he.Status != 0 {
				status = he.Status
			}
			if he.Code != "" {
				code = he.Code
			}
		}
		s.log.Info("ws.reject.middleware", "namespace", nsp.name, "status", status, "err", err, "remote", r.RemoteAddr)
		s.metrics.handshake(nsp.name, "rejected")
		writeHandshakeError(w, status, code, err.Error())
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     s.origin.patterns,
		InsecureSkipVerify: s.cfg.DevInsecure,
	})
	if err != nil {
		s.log.Error("ws.accept.fail", "namespace", nsp.name, "err", err)
		s.metrics.handshake(nsp.name, "accept_failed")
		return
	}

	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		s.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		s.metrics.handshake(nsp.name, "subprotocol")
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	ws.SetReadLimit(s.cfg.MaxFrameBytes)
	s.metrics.handshake(nsp.name, "ok")
	s.run(r.Context(), nsp, c, ws)
}

// run owns the connection from the upgrade until it closes.
//
// Order per connection: connect envelope, "connection" listeners, then the
// read loop. Events are dispatched sequentially on this goroutine.
func (s *Server) run(parent context.Context, nsp *Namespace, c *Conn, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !c.attach(ctx, cancel, ws) {
		_ = ws.Close(websocket.StatusNormalClosure, c.closeReason())
		return
	}
	if err := writeEnvelope(ctx, ws, connectEnvelope(c), s.cfg.WriteTimeout); err != nil {
		s.log.Info("ws.write.fail", "conn_id", c.id, "err", err)
		c.close(websocket.StatusAbnormalClosure, "write failed")
		return
	}

	nsp.add(c)
	s.log.Info("ws.connect", "namespace", nsp.name, "conn_id", c.id, "remote", c.hs.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c, ws)
	}()

	nsp.fire(EventConnection, c)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeat(ctx, c, ws)
	}()

	s.readLoop(ctx, nsp, c, ws)

	c.close(websocket.StatusNormalClosure, "bye")
	<-writerDone
	nsp.remove(c)

	reason := c.closeReason()
	s.log.Info("ws.disconnect", "namespace", nsp.name, "conn_id", c.id, "reason", reason)

	raw := mustJSON(reason)
	for _, h := range c.handlersFor(EventDisconnect) {
		c.safely("event:"+EventDisconnect, func() { h(c, raw) })
	}
	nsp.fire(EventDisconnect, c)

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (s *Server) writeLoop(ctx context.Context, c *Conn, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case env := <-c.send:
			if err := writeEnvelope(ctx, ws, env, s.cfg.WriteTimeout); err != nil {
				s.log.Info("ws.write.fail", "conn_id", c.id, "close_status", websocket.CloseStatus(err), "err", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
			if env.Type == v1.TypeDisconnect {
				c.close(websocket.StatusNormalClosure, "server disconnect")
				return
			}
		}
	}
}

func (s *Server) heartbeat(ctx context.Context, c *Conn, ws *websocket.Conn) {
	t := time.NewTicker(s.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := ws.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				s.log.Info("ws.ping.fail", "conn_id", c.id, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					c.close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Server) readLoop(ctx context.Context, nsp *Namespace, c *Conn, ws *websocket.Conn) {
	rl := NewRateLimiter(s.cfg.RateEvents, s.cfg.RateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, s.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, ws)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				c.close(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				c.close(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				c.close(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				c.sendError("bad_json", "invalid JSON")
				continue
			default:
				s.log.Info("ws.read.fail", "conn_id", c.id, "err", err)
				c.close(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			// Written inline: the writer stops as soon as the connection closes.
			_ = writeEnvelope(ctx, ws, errorEnvelope("rate_limited", "too many events"), s.cfg.WriteTimeout)
			c.close(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			c.sendError("bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeEvent:
			if env.Event == EventDisconnect {
				c.sendError("reserved_event", "event name is reserved: "+env.Event)
				continue
			}
			s.metrics.event(nsp.name, "in")
			c.dispatch(env.Event, env.Data)
		case v1.TypeDisconnect:
			c.close(websocket.StatusNormalClosure, "client disconnect")
			return
		default:
			c.sendError("unsupported", "unsupported type: "+env.Type)
		}
	}
}

func normalizeNamespace(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "/"
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}
