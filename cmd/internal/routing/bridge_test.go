package routing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"sockpress/cmd/internal/realtime"
	"sockpress/cmd/internal/session"
	v1 "sockpress/shared/contracts/socket/v1"

	"github.com/coder/websocket"
)

const bridgeSecret = "keyboard cat"

// bridge wires an HTTP session manager and a socket server around one
// route table, the way the app does.
type bridge struct {
	ts     *httptest.Server
	io     *realtime.Server
	routes *Routing
	client *http.Client
}

func newBridge(t *testing.T, disableSession bool) *bridge {
	t.Helper()

	store := session.NewMemoryStore()
	mgr, err := session.NewManager(session.ManagerConfig{
		Secrets:           []string{bridgeSecret},
		Store:             store,
		SaveUninitialized: true,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	resolver := mgr.Resolver()
	if disableSession {
		resolver, err = session.NewResolver(session.ResolverConfig{DisableSession: true})
		if err != nil {
			t.Fatalf("NewResolver: %v", err)
		}
	}

	cfg := realtime.DefaultConfig()
	cfg.OriginRequired = false
	sock := realtime.NewServer(slog.New(slog.DiscardHandler), cfg, nil)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		session.FromContext(r.Context()).Set("user", r.URL.Query().Get("user"))
		w.WriteHeader(http.StatusNoContent)
	})
	httpMux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		user, _ := session.FromContext(r.Context()).Get("user")
		s, _ := user.(string)
		_, _ = io.WriteString(w, s)
	})

	root := http.NewServeMux()
	root.Handle("/socket", sock)
	root.Handle("/", mgr.Middleware(httpMux))

	ts := httptest.NewServer(root)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}

	b := &bridge{
		ts:     ts,
		io:     sock,
		routes: New(sock, resolver, slog.New(slog.DiscardHandler)),
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
	}
	t.Cleanup(func() {
		_ = sock.Close()
		ts.Close()
	})
	return b
}

func (b *bridge) listen(t *testing.T) {
	t.Helper()
	if err := b.routes.AddListeners(b.io); err != nil {
		t.Fatalf("AddListeners: %v", err)
	}
}

func (b *bridge) get(t *testing.T, path string) string {
	t.Helper()
	resp, err := b.client.Get(b.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func (b *bridge) cookieHeader(t *testing.T) http.Header {
	t.Helper()
	u, _ := url.Parse(b.ts.URL)
	var pairs []string
	for _, c := range b.client.Jar.Cookies(u) {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	h := http.Header{}
	if len(pairs) > 0 {
		h.Set("Cookie", strings.Join(pairs, "; "))
	}
	return h
}

func (b *bridge) dial(t *testing.T, ns string, h http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u, _ := url.Parse(b.ts.URL)
	u.Scheme = "ws"
	u.Path = "/socket"
	u.RawQuery = url.Values{"ns": {ns}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func (b *bridge) mustDial(t *testing.T, ns string, h http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := b.dial(t, ns, h)
	if err != nil {
		t.Fatalf("dial %s: %v", ns, err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// sessionRoutes registers whoami (reports the session user) and rename
// (sets the user and saves).
func sessionRoutes(t *testing.T, r *Routing) {
	t.Helper()
	mustAdd(t, r, "/", "whoami", func(c *realtime.Conn, _ json.RawMessage) {
		user, _ := c.Session().Get("user")
		_ = c.Emit("me", user)
	})
	mustAdd(t, r, "/", "rename", func(c *realtime.Conn, data json.RawMessage) {
		var user string
		_ = json.Unmarshal(data, &user)
		s := c.Session()
		s.Set("user", user)
		result := "ok"
		if err := s.Save(c.Context()); err != nil {
			result = err.Error()
		}
		_ = c.Emit("saved", result)
	})
}

func TestBridge_SocketSeesAndUpdatesHTTPSession(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)
	sessionRoutes(t, b.routes)
	b.listen(t)

	b.get(t, "/login?user=ada")
	conn := b.mustDial(t, "/", b.cookieHeader(t))

	emit(t, conn, "whoami", nil)
	if got := eventString(t, readEvent(t, conn, "me")); got != "ada" {
		t.Fatalf("socket saw user=%q want ada", got)
	}

	emit(t, conn, "rename", "grace")
	if got := eventString(t, readEvent(t, conn, "saved")); got != "ok" {
		t.Fatalf("save result=%q", got)
	}

	if got := b.get(t, "/whoami"); got != "grace" {
		t.Fatalf("HTTP saw user=%q want grace", got)
	}
}

func TestBridge_PlaceholderWithoutCookie(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)
	sessionRoutes(t, b.routes)
	b.listen(t)

	conn := b.mustDial(t, "/", nil)

	emit(t, conn, "whoami", nil)
	if data := readEvent(t, conn, "me").Data; string(data) != "null" {
		t.Fatalf("expected null user, got %s", data)
	}

	emit(t, conn, "rename", "mallory")
	if got := eventString(t, readEvent(t, conn, "saved")); got != session.ErrNotInitialized.Error() {
		t.Fatalf("save result=%q want %q", got, session.ErrNotInitialized)
	}
}

func TestBridge_DisabledSessionIgnoresCookie(t *testing.T) {
	t.Parallel()

	b := newBridge(t, true)
	sessionRoutes(t, b.routes)
	b.listen(t)

	b.get(t, "/login?user=ada")
	conn := b.mustDial(t, "/", b.cookieHeader(t))

	emit(t, conn, "whoami", nil)
	if data := readEvent(t, conn, "me").Data; string(data) != "null" {
		t.Fatalf("expected placeholder, got user %s", data)
	}
}

func TestBridge_NilResolverAttachesPlaceholder(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)
	// A fresh namespace carries only the nil-resolver hook.
	r := New(b.io, nil, slog.New(slog.DiscardHandler))
	mustAdd(t, r, "/anon", "whoami", func(c *realtime.Conn, _ json.RawMessage) {
		result := "authentic"
		if !c.Session().Authentic() {
			result = "placeholder"
		}
		if err := c.Session().Save(c.Context()); err != nil {
			result += ": " + err.Error()
		}
		_ = c.Emit("me", result)
	})
	if err := r.AddListeners(b.io); err != nil {
		t.Fatalf("AddListeners: %v", err)
	}

	b.get(t, "/login?user=ada")
	conn := b.mustDial(t, "/anon", b.cookieHeader(t))

	emit(t, conn, "whoami", nil)
	want := "placeholder: " + session.ErrNotInitialized.Error()
	if got := eventString(t, readEvent(t, conn, "me")); got != want {
		t.Fatalf("me=%q want %q", got, want)
	}
}

func TestBridge_EchoAndDuplicateRoutes(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)
	mustAdd(t, b.routes, "/", "echo", func(c *realtime.Conn, data json.RawMessage) {
		_ = c.Emit("echo_reply", data)
	})
	mustAdd(t, b.routes, "/", "hit", func(c *realtime.Conn, _ json.RawMessage) { _ = c.Emit("first", nil) })
	mustAdd(t, b.routes, "/", "hit", func(c *realtime.Conn, _ json.RawMessage) { _ = c.Emit("second", nil) })
	b.listen(t)

	conn := b.mustDial(t, "/", nil)

	emit(t, conn, "echo", map[string]string{"msg": "hi"})
	var got map[string]string
	if err := json.Unmarshal(readEvent(t, conn, "echo_reply").Data, &got); err != nil || got["msg"] != "hi" {
		t.Fatalf("echo_reply=%v err=%v", got, err)
	}

	emit(t, conn, "hit", nil)
	if e := readNextEnvelope(t, conn); e.Event != "first" {
		t.Fatalf("got %q want first", e.Event)
	}
	if e := readNextEnvelope(t, conn); e.Event != "second" {
		t.Fatalf("got %q want second", e.Event)
	}
}

func TestBridge_GroupMiddlewareRunsAfterSessionHook(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)

	g := NewGroup().
		Use(func(_ context.Context, c *realtime.Conn) error {
			if !c.Session().Authentic() {
				return errors.New("login required")
			}
			return nil
		}).
		On("connection", func(c *realtime.Conn) {
			user, _ := c.Session().Get("user")
			_ = c.Emit("welcome", user)
		}).
		Event("ping", func(c *realtime.Conn, _ json.RawMessage) { _ = c.Emit("pong", nil) })

	if err := b.routes.Mount("/members", g); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	b.listen(t)

	_, resp, err := b.dial(t, "/members", nil)
	if err == nil {
		t.Fatalf("expected anonymous handshake to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
	_ = resp.Body.Close()

	b.get(t, "/login?user=ada")
	conn := b.mustDial(t, "/members", b.cookieHeader(t))

	if got := eventString(t, readEvent(t, conn, "welcome")); got != "ada" {
		t.Fatalf("welcome=%q", got)
	}
	emit(t, conn, "ping", nil)
	readEvent(t, conn, "pong")
}

func TestBridge_RoutesBoundPerNamespace(t *testing.T) {
	t.Parallel()

	b := newBridge(t, false)
	mustAdd(t, b.routes, "/a", "which", func(c *realtime.Conn, _ json.RawMessage) { _ = c.Emit("ns", "a") })
	mustAdd(t, b.routes, "/b", "which", func(c *realtime.Conn, _ json.RawMessage) { _ = c.Emit("ns", "b") })
	b.listen(t)

	for _, ns := range []string{"a", "b"} {
		conn := b.mustDial(t, "/"+ns, nil)
		emit(t, conn, "which", nil)
		if got := eventString(t, readEvent(t, conn, "ns")); got != ns {
			t.Fatalf("namespace /%s answered %q", ns, got)
		}
	}
}

// ---- socket helpers ----

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := v1.NewEvent(event, data)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readNextEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == v1.TypeEvent {
			return env
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) v1.Envelope {
	t.Helper()
	for i := 0; i < 5; i++ {
		if env := readNextEnvelope(t, conn); env.Event == event {
			return env
		}
	}
	t.Fatalf("did not receive event %q", event)
	return v1.Envelope{}
}

func eventString(t *testing.T, env v1.Envelope) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("event %q data %s: %v", env.Event, env.Data, err)
	}
	return s
}
