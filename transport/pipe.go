package transport

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/tradepeer/tradepeer/session"
)

// ErrClosed is returned by Emit once the Pipe has been closed.
var ErrClosed = errors.New("transport: pipe closed")

// Pipe is an in-process [session.Conn]: two goroutines talk over channels
// instead of a socket, grounded in the SIP stack's netmock pattern of
// hand-written fakes for connection interfaces that are expensive to drive
// over a real transport in tests or a local smoke harness.
type Pipe struct {
	mu      sync.Mutex
	handler func(action string, payload json.RawMessage, ack func(error *session.WireError))
	events  chan eventEnvelope
	closed  chan struct{}
}

// NewPipe returns a ready-to-use Pipe with a small outbound event buffer.
func NewPipe() *Pipe {
	return &Pipe{
		events: make(chan eventEnvelope, 16),
		closed: make(chan struct{}),
	}
}

// OnAction implements session.Conn.
func (p *Pipe) OnAction(handler func(action string, payload json.RawMessage, ack func(error *session.WireError))) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Emit implements session.Conn.
func (p *Pipe) Emit(event string, payload any) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.events <- eventEnvelope{Event: event, Payload: payload}:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

// Close implements session.Conn.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

// Send delivers an inbound action as if a client had sent it, blocking
// until the handler's ack fires, and returns the resulting error (nil on
// success).
func (p *Pipe) Send(action string, payload any) (*session.WireError, error) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler == nil {
		return nil, errors.New("transport: pipe has no registered handler")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var result *session.WireError
	done := make(chan struct{})
	handler(action, raw, func(e *session.WireError) {
		result = e
		close(done)
	})
	<-done
	return result, nil
}

// Events returns the channel of outbound events a harness drains to
// observe server→client notifications.
func (p *Pipe) Events() <-chan eventEnvelope {
	return p.events
}
