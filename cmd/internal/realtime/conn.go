package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"sockpress/cmd/internal/session"
	v1 "sockpress/shared/contracts/socket/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Middleware runs once per handshake, in registration order, before the
// websocket upgrade. A non-nil error rejects the handshake.
type Middleware func(ctx context.Context, c *Conn) error

// ConnHandler handles a connection lifecycle event.
type ConnHandler func(c *Conn)

// EventHandler handles one application event. data is the raw JSON the
// client sent, nil when it sent none.
type EventHandler func(c *Conn, data json.RawMessage)

// Handshake is what the upgrade request carried.
type Handshake struct {
	Header     http.Header
	Query      url.Values
	Host       string
	RemoteAddr string
	Time       time.Time
}

func handshakeFrom(r *http.Request) Handshake {
	return Handshake{
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Time:       time.Now().UTC(),
	}
}

// Conn is one socket connection within one namespace.
//
// The send queue is never closed; done signals shutdown instead, which keeps
// concurrent broadcasts panic-free.
type Conn struct {
	id      string
	nsp     *Namespace
	hs      Handshake
	log     *slog.Logger
	metrics *Metrics

	send      chan v1.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	ws       *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	reason   string
	handlers map[string][]EventHandler
	sess     *session.Session
	rooms    map[string]struct{}
}

func newConn(nsp *Namespace, hs Handshake, queue int, log *slog.Logger, metrics *Metrics) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		nsp:      nsp,
		hs:       hs,
		log:      log,
		metrics:  metrics,
		send:     make(chan v1.Envelope, queue),
		done:     make(chan struct{}),
		handlers: make(map[string][]EventHandler),
		rooms:    make(map[string]struct{}),
	}
}

// ID is unique per connection.
func (c *Conn) ID() string { return c.id }

// Namespace returns the namespace the connection belongs to.
func (c *Conn) Namespace() *Namespace { return c.nsp }

// Handshake returns the upgrade request data.
func (c *Conn) Handshake() Handshake { return c.hs }

// Context is canceled when the connection closes. Before the upgrade it is
// context.Background().
func (c *Conn) Context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Session returns the attached session. Without one, a placeholder is
// attached on first use so mutations stay visible across handlers.
func (c *Conn) Session() *session.Session {
	c.mu.RLock()
	s := c.sess
	c.mu.RUnlock()
	if s != nil {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		c.sess = session.Unresolved()
	}
	return c.sess
}

// SetSession attaches s to the connection.
func (c *Conn) SetSession(s *session.Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// On subscribes fn to event. fn runs on the connection's read goroutine;
// "disconnect" handlers run once after the connection closed, with the
// close reason as a JSON string.
func (c *Conn) On(event string, fn EventHandler) *Conn {
	if event == "" || fn == nil {
		return c
	}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
	return c
}

func (c *Conn) handlersFor(event string) []EventHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.handlers[event])
}

// Emit queues event for this connection without blocking.
func (c *Conn) Emit(event string, data any) error {
	if event == "" {
		return ErrEventName
	}
	env, err := v1.NewEvent(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

func (c *Conn) enqueue(env v1.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		if env.Type == v1.TypeEvent {
			c.metrics.event(c.nsp.name, "out")
		}
		return nil
	default:
		c.metrics.drop()
		return ErrBackpressure
	}
}

func (c *Conn) sendError(code, msg string) {
	_ = c.enqueue(errorEnvelope(code, msg))
}

// Join adds the connection to room.
func (c *Conn) Join(room string) {
	if room == "" {
		return
	}
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	c.nsp.join(room, c)
}

// Leave removes the connection from room.
func (c *Conn) Leave(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	c.nsp.leave(room, c)
}

// Rooms lists the rooms the connection joined, sorted. Every connection is
// implicitly in the room named by its ID.
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Broadcast targets every connection of the namespace except this one.
func (c *Conn) Broadcast() Broadcaster {
	return Broadcaster{nsp: c.nsp, except: c.id}
}

// To targets room, excluding this connection.
func (c *Conn) To(room string) Broadcaster {
	return c.Broadcast().To(room)
}

// Disconnect closes the connection gracefully: envelopes queued so far are
// written, then a disconnect envelope, then the close frame.
func (c *Conn) Disconnect() {
	c.mu.RLock()
	accepted := c.ws != nil
	c.mu.RUnlock()

	if accepted {
		raw, _ := json.Marshal("server disconnect")
		if c.enqueue(v1.Envelope{V: v1.Version, Type: v1.TypeDisconnect, Data: raw}) == nil {
			return
		}
	}
	c.close(websocket.StatusNormalClosure, "server disconnect")
}

// attach binds the accepted websocket. It reports false when the connection
// was already closed during the handshake.
func (c *Conn) attach(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	c.ws, c.ctx, c.cancel = ws, ctx, cancel
	return true
}

// close is idempotent; the first reason wins.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		ws, cancel := c.ws, c.cancel
		c.mu.Unlock()

		close(c.done)
		if ws != nil {
			_ = ws.Close(code, reason)
		}
		if cancel != nil {
			cancel()
		}
	})
}

func (c *Conn) closeReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// dispatch runs every handler of event in subscription order.
func (c *Conn) dispatch(event string, data json.RawMessage) {
	handlers := c.handlersFor(event)
	if len(handlers) == 0 {
		c.log.Debug("ws.event.unhandled", "namespace", c.nsp.name, "conn_id", c.id, "event", event)
		return
	}
	for _, h := range handlers {
		c.safely("event:"+event, func() { h(c, data) })
	}
}

// safely recovers handler panics so one bad handler cannot kill the connection.
func (c *Conn) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.metrics.panicked()
			c.log.Error("ws.handler.panic", "namespace", c.nsp.name, "conn_id", c.id, "handler", what, "panic", rec)
		}
	}()
	fn()
}
