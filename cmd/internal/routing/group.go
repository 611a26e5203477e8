package routing

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"sockpress/cmd/internal/realtime"
)

// Group is a detachable bundle of lifecycle handlers, event handlers and
// middleware, merged into a Routing with Add or Mount.
//
// Entries are copied at merge time; mutating the group afterwards has no
// effect on tables it was already merged into.
type Group struct {
	mu         sync.Mutex
	subPath    string
	lifecycle  []lifecycleEntry
	events     []eventEntry
	middleware []realtime.Middleware
}

type lifecycleEntry struct {
	event string
	fn    realtime.ConnHandler
}

type eventEntry struct {
	event string
	fn    HandlerFunc
}

// NewGroup returns an empty group mounted at its prefix ("/").
func NewGroup() *Group {
	return &Group{subPath: "/"}
}

// On registers a connection lifecycle handler, normally for "connection".
func (g *Group) On(event string, fn realtime.ConnHandler) *Group {
	g.mu.Lock()
	g.lifecycle = append(g.lifecycle, lifecycleEntry{event: event, fn: fn})
	g.mu.Unlock()
	return g
}

// Event registers a handler for a custom event.
func (g *Group) Event(event string, fn HandlerFunc) *Group {
	g.mu.Lock()
	g.events = append(g.events, eventEntry{event: event, fn: fn})
	g.mu.Unlock()
	return g
}

// Use appends a handshake middleware for the mounted namespace.
func (g *Group) Use(mw realtime.Middleware) *Group {
	g.mu.Lock()
	g.middleware = append(g.middleware, mw)
	g.mu.Unlock()
	return g
}

// Route sets the sub-path appended to the mount prefix. "" resets it to "/".
func (g *Group) Route(subPath string) *Group {
	subPath = strings.TrimSpace(subPath)
	if !strings.HasPrefix(subPath, "/") {
		subPath = "/" + subPath
	}
	g.mu.Lock()
	g.subPath = subPath
	g.mu.Unlock()
	return g
}

type groupSnapshot struct {
	subPath    string
	lifecycle  []lifecycleEntry
	events     []eventEntry
	middleware []realtime.Middleware
}

func (g *Group) snapshot() groupSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return groupSnapshot{
		subPath:    g.subPath,
		lifecycle:  slices.Clone(g.lifecycle),
		events:     slices.Clone(g.events),
		middleware: slices.Clone(g.middleware),
	}
}

// validate checks every entry before anything is merged.
func (s groupSnapshot) validate() error {
	for i, e := range s.lifecycle {
		if strings.TrimSpace(e.event) == "" || e.fn == nil {
			return argErr("merge group", fmt.Sprintf("lifecycle handlers: entry %d needs an event name and a handler", i))
		}
	}
	for i, e := range s.events {
		if strings.TrimSpace(e.event) == "" || e.fn == nil {
			return argErr("merge group", fmt.Sprintf("event handlers: entry %d needs an event name and a handler", i))
		}
	}
	for i, mw := range s.middleware {
		if mw == nil {
			return argErr("merge group", fmt.Sprintf("middleware: entry %d is nil", i))
		}
	}
	return nil
}

func (s groupSnapshot) mountPoint(route string) string {
	switch {
	case s.subPath == "/":
		return route
	case route == "/":
		return s.subPath
	}
	return route + s.subPath
}
