// Package routing maps (namespace, event) pairs to handlers on top of the
// realtime transport, and bridges the HTTP session into every connection.
//
// Registration is open until AddListeners binds the table to a transport;
// from then on the table is frozen and every Add fails with ErrLifecycle.
package routing
