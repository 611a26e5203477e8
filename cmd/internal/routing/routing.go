package routing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"sockpress/cmd/internal/realtime"
	"sockpress/cmd/internal/session"
)

// HandlerFunc handles one event emitted by a connection.
type HandlerFunc func(c *realtime.Conn, data json.RawMessage)

// Target is what a route points at: a HandlerFunc or a *Group.
type Target interface {
	isTarget()
}

func (HandlerFunc) isTarget() {}
func (*Group) isTarget()      {}

// Transport is the part of the socket server the table binds to.
type Transport interface {
	Of(name string) *realtime.Namespace
}

// Route is one (namespace, event) binding.
type Route struct {
	Namespace string
	Event     string
	Handler   HandlerFunc
}

type mountKey struct {
	group *Group
	point string
}

// Routing is the route table.
type Routing struct {
	io   Transport
	hook realtime.Middleware
	log  *slog.Logger

	mu        sync.Mutex
	listening bool
	nsps      []string
	seen      map[string]struct{}
	routes    []Route
	mounted   map[mountKey]struct{}
}

// New returns a table whose namespace set holds "/" with the session hook
// installed on it. A nil resolver attaches the placeholder to every connection.
func New(io Transport, resolver *session.Resolver, log *slog.Logger) *Routing {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Routing{
		io:      io,
		hook:    sessionHook(resolver),
		log:     log,
		seen:    make(map[string]struct{}),
		mounted: make(map[mountKey]struct{}),
	}
	r.discoverLocked("/")
	return r
}

// Add registers target for event on namespace. With a *Group target, event
// is the mount prefix: the group lands on namespace prefix+subPath, and
// namespace itself is only validated.
func (r *Routing) Add(namespace, event string, target Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(namespace, event, target)
}

// Handle is Add on the root namespace.
func (r *Routing) Handle(event string, target Target) error {
	return r.Add("/", event, target)
}

// HandleFunc is Handle for a plain function.
func (r *Routing) HandleFunc(event string, fn HandlerFunc) error {
	return r.Add("/", event, fn)
}

// Mount merges g under prefix.
func (r *Routing) Mount(prefix string, g *Group) error {
	return r.Add("/", prefix, g)
}

func (r *Routing) addLocked(namespace, event string, target Target) error {
	if r.listening {
		return fmt.Errorf("%w: cannot add %q on %q", ErrLifecycle, event, namespace)
	}
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if strings.TrimSpace(event) == "" {
		return argErr("add", "event name is required")
	}

	switch t := target.(type) {
	case nil:
		return argErr("add", "target is nil")
	case HandlerFunc:
		if t == nil {
			return argErr("add", "handler is nil")
		}
		r.discoverLocked(namespace)
		r.routes = append(r.routes, Route{Namespace: namespace, Event: event, Handler: t})
		r.log.Debug("routing.route.add", "namespace", namespace, "event", event)
		return nil
	case *Group:
		if t == nil {
			return argErr("add", "group is nil")
		}
		return r.mergeLocked(event, t)
	default:
		return argErr("add", "target must be a HandlerFunc or a *Group")
	}
}

func (r *Routing) mergeLocked(route string, g *Group) error {
	snap := g.snapshot()
	if err := snap.validate(); err != nil {
		return err
	}

	point := snap.mountPoint(route)
	if err := validateNamespace(point); err != nil {
		return err
	}

	key := mountKey{group: g, point: point}
	if _, done := r.mounted[key]; done {
		return nil
	}
	r.mounted[key] = struct{}{}

	// Discover even when the group carries no events, so the session hook
	// runs before the group's own middleware.
	r.discoverLocked(point)

	nsp := r.io.Of(point)
	for _, e := range snap.lifecycle {
		nsp.On(e.event, e.fn)
	}
	for _, e := range snap.events {
		if err := r.addLocked(point, e.event, e.fn); err != nil {
			return err
		}
	}
	for _, mw := range snap.middleware {
		nsp.Use(mw)
	}

	r.log.Debug("routing.group.mount", "mount_point", point,
		"lifecycle", len(snap.lifecycle), "events", len(snap.events), "middleware", len(snap.middleware))
	return nil
}

// discoverLocked adds namespace to the set and installs the session hook on
// it the first time it is seen.
func (r *Routing) discoverLocked(namespace string) {
	if _, ok := r.seen[namespace]; ok {
		return
	}
	r.seen[namespace] = struct{}{}
	r.nsps = append(r.nsps, namespace)
	r.io.Of(namespace).Use(r.hook)
	r.log.Debug("routing.namespace.add", "namespace", namespace)
}

// AddListeners binds every namespace of the table to io and freezes the
// table. A second call fails with ErrLifecycle.
func (r *Routing) AddListeners(io Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listening {
		return fmt.Errorf("%w: AddListeners called twice", ErrLifecycle)
	}
	if io == nil {
		return argErr("add listeners", "transport is nil")
	}

	for _, ns := range r.nsps {
		bindNamespace(io.Of(ns), r.routesForLocked(ns))
	}
	r.listening = true

	r.log.Info("routing.listen", "namespaces", len(r.nsps), "routes", len(r.routes))
	return nil
}

// bindNamespace subscribes every new connection of nsp to routes.
func bindNamespace(nsp *realtime.Namespace, routes []Route) {
	nsp.On(realtime.EventConnection, func(c *realtime.Conn) {
		for _, rt := range routes {
			c.On(rt.Event, realtime.EventHandler(rt.Handler))
		}
	})
}

func (r *Routing) routesForLocked(ns string) []Route {
	var out []Route
	for _, rt := range r.routes {
		if rt.Namespace == ns {
			out = append(out, rt)
		}
	}
	return out
}

// Listening reports whether AddListeners has run.
func (r *Routing) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Namespaces lists the namespace set in discovery order, "/" first.
func (r *Routing) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.nsps)
}

// Routes lists the registered routes in registration order.
func (r *Routing) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.routes)
}

func validateNamespace(ns string) error {
	if ns == "" {
		return argErr("add", "namespace is required")
	}
	if !strings.HasPrefix(ns, "/") {
		return argErr("add", fmt.Sprintf("namespace %q must start with /", ns))
	}
	return nil
}
