package realtime

import (
	"slices"
	"sync"

	v1 "sockpress/shared/contracts/socket/v1"
)

// Lifecycle event names understood by Namespace.On.
const (
	EventConnection = "connection"
	EventConnect    = "connect" // alias of EventConnection
	EventDisconnect = v1.EventDisconnect
)

// Namespace is a named channel within the Server. A connection belongs to
// exactly one namespace, picked by the "ns" query parameter of the handshake.
type Namespace struct {
	name string
	srv  *Server

	mu         sync.RWMutex
	middleware []Middleware
	listeners  map[string][]ConnHandler
	conns      map[string]*Conn
	rooms      map[string]map[string]*Conn
}

func newNamespace(srv *Server, name string) *Namespace {
	return &Namespace{
		name:      name,
		srv:       srv,
		listeners: make(map[string][]ConnHandler),
		conns:     make(map[string]*Conn),
		rooms:     make(map[string]map[string]*Conn),
	}
}

// Name returns the namespace name, e.g. "/" or "/chat".
func (n *Namespace) Name() string { return n.name }

// Use appends a handshake middleware.
func (n *Namespace) Use(mw Middleware) *Namespace {
	if mw == nil {
		return n
	}
	n.mu.Lock()
	n.middleware = append(n.middleware, mw)
	n.mu.Unlock()
	return n
}

// On subscribes fn to a lifecycle event: "connection" (or "connect") after
// the upgrade and before the first event is read, "disconnect" after close.
func (n *Namespace) On(event string, fn ConnHandler) *Namespace {
	if event == "" || fn == nil {
		return n
	}
	if event == EventConnect {
		event = EventConnection
	}
	n.mu.Lock()
	n.listeners[event] = append(n.listeners[event], fn)
	n.mu.Unlock()
	return n
}

// Emit sends event to every connection of the namespace.
func (n *Namespace) Emit(event string, data any) error {
	return Broadcaster{nsp: n}.Emit(event, data)
}

// To targets the members of room.
func (n *Namespace) To(room string) Broadcaster {
	return Broadcaster{nsp: n}.To(room)
}

// Len reports the number of open connections.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

func (n *Namespace) middlewareSnapshot() []Middleware {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.middleware)
}

func (n *Namespace) fire(event string, c *Conn) {
	n.mu.RLock()
	handlers := slices.Clone(n.listeners[event])
	n.mu.RUnlock()

	for _, h := range handlers {
		c.safely(event, func() { h(c) })
	}
}

func (n *Namespace) add(c *Conn) {
	n.mu.Lock()
	n.conns[c.id] = c
	n.mu.Unlock()

	// Rooms joined during the handshake are registered now.
	c.Join(c.id)
	for _, room := range c.Rooms() {
		n.join(room, c)
	}
	n.srv.metrics.connOpened(n.name)
}

func (n *Namespace) remove(c *Conn) {
	for _, room := range c.Rooms() {
		c.Leave(room)
	}

	n.mu.Lock()
	delete(n.conns, c.id)
	n.mu.Unlock()

	n.srv.metrics.connClosed(n.name)
}

func (n *Namespace) join(room string, c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, live := n.conns[c.id]; !live {
		return
	}
	members := n.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		n.rooms[room] = members
	}
	members[c.id] = c
}

func (n *Namespace) leave(room string, c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	members := n.rooms[room]
	delete(members, c.id)
	if len(members) == 0 {
		delete(n.rooms, room)
	}
}

// targets resolves the union of rooms (all connections when rooms is empty).
func (n *Namespace) targets(rooms []string, except string) []*Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []*Conn
	add := func(c *Conn) {
		if c.id != except {
			out = append(out, c)
		}
	}

	if len(rooms) == 0 {
		for _, c := range n.conns {
			add(c)
		}
		return out
	}

	seen := make(map[string]struct{})
	for _, room := range rooms {
		for id, c := range n.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			add(c)
		}
	}
	return out
}

func (n *Namespace) snapshot() []*Conn {
	return n.targets(nil, "")
}

// Broadcaster fans one event out to a set of connections. The zero value is unusable.
type Broadcaster struct {
	nsp    *Namespace
	rooms  []string
	except string
}

// To adds room to the target set.
func (b Broadcaster) To(room string) Broadcaster {
	b.rooms = append(slices.Clip(b.rooms), room)
	return b
}

// Emit queues event on every target without blocking. Targets whose queue
// is full or that are closing are skipped.
func (b Broadcaster) Emit(event string, data any) error {
	if event == "" {
		return ErrEventName
	}
	env, err := v1.NewEvent(event, data)
	if err != nil {
		return err
	}
	for _, c := range b.nsp.targets(b.rooms, b.except) {
		_ = c.enqueue(env)
	}
	return nil
}
