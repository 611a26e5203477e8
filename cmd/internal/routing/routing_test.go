package routing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"sockpress/cmd/internal/realtime"
)

func newTestTransport() *realtime.Server {
	cfg := realtime.DefaultConfig()
	cfg.OriginRequired = false
	return realtime.NewServer(slog.New(slog.DiscardHandler), cfg, nil)
}

func noop(*realtime.Conn, json.RawMessage) {}

func TestNew_RootNamespace(t *testing.T) {
	t.Parallel()

	r := New(newTestTransport(), nil, nil)
	if got := r.Namespaces(); !slices.Equal(got, []string{"/"}) {
		t.Fatalf("namespaces=%v", got)
	}
	if r.Listening() {
		t.Fatalf("new table must not be listening")
	}
	if len(r.Routes()) != 0 {
		t.Fatalf("new table must be empty")
	}
}

func TestAdd_ArgumentErrors(t *testing.T) {
	t.Parallel()

	var nilGroup *Group
	cases := []struct {
		name   string
		ns     string
		event  string
		target Target
	}{
		{name: "empty namespace", ns: "", event: "e", target: HandlerFunc(noop)},
		{name: "namespace without slash", ns: "chat", event: "e", target: HandlerFunc(noop)},
		{name: "empty event", ns: "/", event: " ", target: HandlerFunc(noop)},
		{name: "nil handler", ns: "/", event: "e", target: HandlerFunc(nil)},
		{name: "nil group", ns: "/", event: "/g", target: nilGroup},
		{name: "nil target", ns: "/", event: "e", target: nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := New(newTestTransport(), nil, nil)
			err := r.Add(tc.ns, tc.event, tc.target)
			if !errors.Is(err, ErrArgument) {
				t.Fatalf("err=%v want ErrArgument", err)
			}
			var ae *ArgumentError
			if !errors.As(err, &ae) || ae.Reason == "" {
				t.Fatalf("expected *ArgumentError with a reason, got %T", err)
			}
			if len(r.Routes()) != 0 || len(r.Namespaces()) != 1 {
				t.Fatalf("failed Add must not change the table")
			}
		})
	}
}

func TestAdd_NamespaceDiscoveryAndDuplicates(t *testing.T) {
	t.Parallel()

	io := newTestTransport()
	r := New(io, nil, nil)

	mustAdd(t, r, "/", "ping", noop)
	mustAdd(t, r, "/chat", "message", noop)
	mustAdd(t, r, "/chat", "message", noop)
	mustAdd(t, r, "/admin", "kick", noop)
	mustAdd(t, r, "/chat", "typing", noop)

	if got := r.Namespaces(); !slices.Equal(got, []string{"/", "/chat", "/admin"}) {
		t.Fatalf("namespaces=%v", got)
	}

	var keys []string
	for _, rt := range r.Routes() {
		keys = append(keys, rt.Namespace+" "+rt.Event)
	}
	want := []string{"/ ping", "/chat message", "/chat message", "/admin kick", "/chat typing"}
	if !slices.Equal(keys, want) {
		t.Fatalf("routes=%v want %v", keys, want)
	}

	// Discovered namespaces exist on the transport right away.
	if got := io.Namespaces(); !slices.Equal(got, []string{"/", "/chat", "/admin"}) {
		t.Fatalf("transport namespaces=%v", got)
	}
}

func TestHandleHelpers_UseRootNamespace(t *testing.T) {
	t.Parallel()

	r := New(newTestTransport(), nil, nil)
	if err := r.HandleFunc("a", noop); err != nil {
		t.Fatalf("HandleFunc: %v", err)
	}
	if err := r.Handle("b", HandlerFunc(noop)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := r.Mount("/g", NewGroup().Event("c", noop)); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	var keys []string
	for _, rt := range r.Routes() {
		keys = append(keys, rt.Namespace+" "+rt.Event)
	}
	if !slices.Equal(keys, []string{"/ a", "/ b", "/g c"}) {
		t.Fatalf("routes=%v", keys)
	}
}

func TestLifecycle_FrozenAfterListeners(t *testing.T) {
	t.Parallel()

	io := newTestTransport()
	r := New(io, nil, nil)
	mustAdd(t, r, "/", "ping", noop)

	if err := r.AddListeners(io); err != nil {
		t.Fatalf("AddListeners: %v", err)
	}
	if !r.Listening() {
		t.Fatalf("expected listening")
	}

	attempts := []func() error{
		func() error { return r.Add("/", "late", HandlerFunc(noop)) },
		func() error { return r.Add("/new", "late", HandlerFunc(noop)) },
		func() error { return r.Mount("/late", NewGroup().Event("x", noop)) },
		func() error { return r.Add("", "", nil) },
	}
	for i, add := range attempts {
		if err := add(); !errors.Is(err, ErrLifecycle) {
			t.Fatalf("attempt %d: err=%v want ErrLifecycle", i, err)
		}
	}

	if len(r.Routes()) != 1 || len(r.Namespaces()) != 1 {
		t.Fatalf("late registration changed the table: routes=%d namespaces=%v", len(r.Routes()), r.Namespaces())
	}
	if slices.Contains(io.Namespaces(), "/new") || slices.Contains(io.Namespaces(), "/late") {
		t.Fatalf("late registration touched the transport: %v", io.Namespaces())
	}

	if err := r.AddListeners(io); !errors.Is(err, ErrLifecycle) {
		t.Fatalf("second AddListeners err=%v want ErrLifecycle", err)
	}
}

func TestGroup_ValidationNamesCollection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		group *Group
		want  string
	}{
		{name: "lifecycle without name", group: NewGroup().On("", func(*realtime.Conn) {}), want: "lifecycle handlers"},
		{name: "lifecycle without handler", group: NewGroup().On("connection", nil), want: "lifecycle handlers"},
		{name: "event without name", group: NewGroup().Event("", noop), want: "event handlers"},
		{name: "event without handler", group: NewGroup().Event("ping", nil), want: "event handlers"},
		{name: "nil middleware", group: NewGroup().Use(nil), want: "middleware"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			io := newTestTransport()
			r := New(io, nil, nil)

			// A valid event first: nothing of it may land when a later entry is bad.
			g := tc.group.Event("valid", noop)
			err := r.Mount("/g", g)
			if !errors.Is(err, ErrArgument) {
				t.Fatalf("err=%v want ErrArgument", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q should name %q", err, tc.want)
			}
			if len(r.Routes()) != 0 || len(r.Namespaces()) != 1 || slices.Contains(io.Namespaces(), "/g") {
				t.Fatalf("failed merge had side effects")
			}
		})
	}
}

func TestGroup_MountPoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		prefix  string
		subPath string
		want    string
	}{
		{name: "default sub-path", prefix: "/chat", subPath: "", want: "/chat"},
		{name: "root sub-path", prefix: "/chat", subPath: "/", want: "/chat"},
		{name: "nested", prefix: "/chat", subPath: "/admin", want: "/chat/admin"},
		{name: "sub-path without slash", prefix: "/chat", subPath: "admin", want: "/chat/admin"},
		{name: "root prefix", prefix: "/", subPath: "/sub", want: "/sub"},
		{name: "root prefix and sub-path", prefix: "/", subPath: "/", want: "/"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := New(newTestTransport(), nil, nil)
			g := NewGroup().Event("ping", noop)
			if tc.subPath != "" {
				g.Route(tc.subPath)
			}
			if err := r.Mount(tc.prefix, g); err != nil {
				t.Fatalf("Mount: %v", err)
			}
			routes := r.Routes()
			if len(routes) != 1 || routes[0].Namespace != tc.want || routes[0].Event != "ping" {
				t.Fatalf("routes=%+v want namespace %q", routes, tc.want)
			}
		})
	}
}

func TestGroup_WithoutEventsStillDiscoversNamespace(t *testing.T) {
	t.Parallel()

	io := newTestTransport()
	r := New(io, nil, nil)

	g := NewGroup().
		On("connection", func(*realtime.Conn) {}).
		Use(func(context.Context, *realtime.Conn) error { return nil })
	if err := r.Mount("/lobby", g); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := r.Namespaces(); !slices.Equal(got, []string{"/", "/lobby"}) {
		t.Fatalf("namespaces=%v", got)
	}
}

func TestGroup_RootPrefixDoesNotDoubleSlash(t *testing.T) {
	t.Parallel()

	r := New(newTestTransport(), nil, nil)
	if err := r.Mount("/", NewGroup().Route("/sub").Event("ping", noop)); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := r.Namespaces(); !slices.Equal(got, []string{"/", "/sub"}) {
		t.Fatalf("namespaces=%v", got)
	}
}

func TestGroup_CopiedAtMergeAndRemergeIsNoop(t *testing.T) {
	t.Parallel()

	r := New(newTestTransport(), nil, nil)
	g := NewGroup().Event("ping", noop)

	if err := r.Mount("/g", g); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	g.Event("late", noop)

	if err := r.Mount("/g", g); err != nil {
		t.Fatalf("re-Mount: %v", err)
	}
	if got := len(r.Routes()); got != 1 {
		t.Fatalf("routes=%d want 1 (later group mutations must not leak in)", got)
	}

	// A different mount point is a fresh merge with the current entries.
	if err := r.Mount("/h", g); err != nil {
		t.Fatalf("Mount /h: %v", err)
	}
	if got := len(r.Routes()); got != 3 {
		t.Fatalf("routes=%d want 3", got)
	}
}

func TestGroupMerge_EquivalentToDirectAdd(t *testing.T) {
	t.Parallel()

	direct := New(newTestTransport(), nil, nil)
	mustAdd(t, direct, "/ns", "ping", noop)

	merged := New(newTestTransport(), nil, nil)
	if err := merged.Add("/", "/ns", NewGroup().Event("ping", noop)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if !slices.Equal(direct.Namespaces(), merged.Namespaces()) {
		t.Fatalf("namespaces differ: %v vs %v", direct.Namespaces(), merged.Namespaces())
	}
	d, m := direct.Routes(), merged.Routes()
	if len(d) != 1 || len(m) != 1 || d[0].Namespace != m[0].Namespace || d[0].Event != m[0].Event {
		t.Fatalf("routes differ: %+v vs %+v", d, m)
	}
}

func TestAddListeners_NilTransport(t *testing.T) {
	t.Parallel()

	r := New(newTestTransport(), nil, nil)
	if err := r.AddListeners(nil); !errors.Is(err, ErrArgument) {
		t.Fatalf("err=%v want ErrArgument", err)
	}
	if r.Listening() {
		t.Fatalf("failed AddListeners must not freeze the table")
	}
}

func mustAdd(t *testing.T, r *Routing, ns, event string, fn HandlerFunc) {
	t.Helper()
	if err := r.Add(ns, event, fn); err != nil {
		t.Fatalf("Add(%q, %q): %v", ns, event, err)
	}
}
