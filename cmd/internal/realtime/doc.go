// Package realtime is the socket transport: websocket connections grouped
// into namespaces, with handshake middleware, named events, rooms and
// broadcast.
//
// Wire format: every websocket message is one v1.Envelope (see
// shared/contracts/socket/v1). Clients pick a namespace with the "ns" query
// parameter of the upgrade request and must negotiate the "sockpress.v1"
// subprotocol.
package realtime
