// Package transport provides concrete implementations of [session.Conn]: a
// WebSocket adapter over github.com/gobwas/ws for production use, and an
// in-process pipe for tests.
package transport

import (
	"encoding/json"

	"github.com/tradepeer/tradepeer/session"
)

// envelope is the wire shape of an inbound client→server message
// (spec.md §6, §4.1 "each carries a correlation identifier").
type envelope struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// ackEnvelope is the wire shape of the per-action acknowledgement.
type ackEnvelope struct {
	ID    string              `json:"id"`
	Error *session.WireError `json:"error,omitempty"`
}

// eventEnvelope is the wire shape of a server→client event. Unlike an
// action, an event carries no correlation id (spec.md §6).
type eventEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}
