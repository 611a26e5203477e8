// Package v1 defines the sockpress socket protocol v1 contract.
//
// It is shared between the server and clients (see tools/scripts) so the
// wire format has a single definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is embedded into every envelope.
const Version = 1

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "sockpress.v1"

// Type constants (wire-stable).
const (
	// TypeConnect confirms the handshake (server -> client).
	TypeConnect = "connect"
	// TypeEvent carries a named application event (both directions).
	TypeEvent = "event"
	// TypeError reports a protocol or handler problem (server -> client).
	TypeError = "error"
	// TypeDisconnect announces a graceful close (both directions).
	TypeDisconnect = "disconnect"
)

// EventDisconnect is reserved: clients cannot emit it as an application event.
const EventDisconnect = "disconnect"

var allowedTypes = map[string]struct{}{
	TypeConnect:    {},
	TypeEvent:      {},
	TypeError:      {},
	TypeDisconnect: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V     int             `json:"v"`
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope shape. It does not interpret Data.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.Type == TypeEvent && strings.TrimSpace(e.Event) == "" {
		return errors.New("missing event")
	}
	return nil
}

// ConnectPayload is the Data of a connect envelope.
type ConnectPayload struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
}

// ErrorPayload is the Data of an error envelope, and the JSON body of a
// rejected handshake.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent builds an event envelope. A nil data marshals as JSON null.
func NewEvent(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %q: %w", event, err)
	}
	return Envelope{V: Version, Type: TypeEvent, Event: event, Data: raw}, nil
}
