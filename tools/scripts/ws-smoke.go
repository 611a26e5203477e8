// Package main provides a CI-friendly socket smoke test for sockpress.
//
// It validates:
//   - handshake + subprotocol selection
//   - connect envelope carrying the connection id and namespace
//   - echo -> echo_reply round trip with the payload preserved
//   - replies stay on the emitting connection
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "sockpress/shared/contracts/socket/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/socket", "Socket URL")
		ns      = flag.String("ns", "/", "Namespace to connect to")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		cookie  = flag.String("cookie", "", "Raw Cookie header to send (e.g. sockpress.id=s%3A...)")
		text    = flag.String("text", "hello sockpress 👋", "Payload to echo")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	target := withNamespace(*wsURL, *ns)
	root := context.Background()

	a := mustConnect(root, "A", target, *origin, *cookie, *ns, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", target, *origin, *cookie, *ns, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s ns=%q origin=%q\n", a.connID, b.connID, *ns, *origin)
	}

	mustEcho(root, a, *text, *timeout)
	mustAssertQuiet(root, b, 750*time.Millisecond)
	mustEcho(root, b, strings.ToUpper(*text), *timeout)

	fmt.Printf("OK: A=%s B=%s ns=%s\n", a.connID, b.connID, *ns)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func withNamespace(raw, ns string) string {
	u, _ := url.Parse(raw)
	q := u.Query()
	q.Set("ns", ns)
	u.RawQuery = q.Encode()
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin, cookie, ns string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(cookie) != "" {
		h.Set("Cookie", cookie)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	env := c.mustRead(parent, stepTimeout, func(e v1.Envelope) bool { return e.Type == v1.TypeConnect })

	var p v1.ConnectPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		fatalf("unmarshal connect payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ID) == "" {
		fatalf("connect envelope missing id (%s)", name)
	}
	if p.Namespace != ns {
		fatalf("connect namespace mismatch (%s): got=%q want=%q", name, p.Namespace, ns)
	}
	c.connID = p.ID
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustEcho(parent context.Context, c *smokeClient, text string, stepTimeout time.Duration) {
	env, err := v1.NewEvent("echo", text)
	if err != nil {
		fatalf("build echo: %v", err)
	}
	env.ID = fmt.Sprintf("%s-echo-%d", c.name, time.Now().UnixNano())
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	reply := c.mustRead(parent, stepTimeout, func(e v1.Envelope) bool {
		return e.Type == v1.TypeEvent && e.Event == "echo_reply"
	})

	var got string
	if err := json.Unmarshal(reply.Data, &got); err != nil {
		fatalf("unmarshal echo_reply (%s): %v", c.name, err)
	}
	if got != text {
		fatalf("echo_reply mismatch (%s): got=%q want=%q", c.name, got, text)
	}
}

// mustAssertQuiet fails if c receives any event within wait.
func mustAssertQuiet(parent context.Context, c *smokeClient, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	select {
	case <-ctx.Done():
	case err := <-c.errCh:
		fatalf("connection error (%s): %v", c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed (%s)", c.name)
		}
		fatalf("unexpected envelope (%s): type=%q event=%q", c.name, env.Type, env.Event)
	}
}

func (c *smokeClient) mustRead(parent context.Context, stepTimeout time.Duration, match func(v1.Envelope) bool) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for envelope (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting (%s)", c.name)
			}
			if match(env) {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Data, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
