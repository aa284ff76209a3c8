// Package mocktransport is a hand-written fake of [session.Conn], in the
// style of the SIP stack's netmock fakes: a tiny in-memory double that
// records every outbound event for assertions instead of touching a real
// socket.
package mocktransport

import (
	"encoding/json"
	"sync"

	"github.com/tradepeer/tradepeer/session"
)

// Emitted is one recorded Emit call.
type Emitted struct {
	Event   string
	Payload any
}

// Conn is a fake session.Conn. Tests drive its action handler directly via
// Fire and inspect Emitted()/Closed() instead of going over a socket.
type Conn struct {
	mu      sync.Mutex
	handler func(action string, payload json.RawMessage, ack func(error *session.WireError))
	emitted []Emitted
	closed  bool
}

// New returns a ready-to-use Conn.
func New() *Conn {
	return &Conn{}
}

// OnAction implements session.Conn.
func (c *Conn) OnAction(handler func(action string, payload json.RawMessage, ack func(error *session.WireError))) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Emit implements session.Conn.
func (c *Conn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

// Close implements session.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Fire delivers an inbound action to whatever handler the Coordinator
// registered via OnAction, marshaling payload to JSON first. It blocks
// until the handler's ack callback has run and returns the resulting
// error, or nil on success.
func (c *Conn) Fire(actionName string, payload any) *session.WireError {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	var result *session.WireError
	handler(actionName, raw, func(e *session.WireError) { result = e })
	return result
}

// Emitted returns every event recorded so far, in emission order.
func (c *Conn) Emitted() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Emitted, len(c.emitted))
	copy(out, c.emitted)
	return out
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
