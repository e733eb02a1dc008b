// Package transport defines the point-to-point substrate the chat core
// runs on: unicast sends, a request/response RPC pattern, and a stream
// of connectivity events. The core consumes this contract; the libp2p
// implementation and the in-memory test network both satisfy it.
package transport

import (
	"context"
	"errors"

	"github.com/peerchat/peerchat-node/pkg/protocol"
)

var (
	ErrPeerNotFound  = errors.New("peer not found")
	ErrClosed        = errors.New("transport closed")
	ErrInvalidTarget = errors.New("invalid target address")
)

// Ack is the acknowledgement produced for every RPC exchange. Callers
// currently only need the exchange to complete; the fields exist for
// diagnostics.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handler processes one inbound RPC call. It must always return an
// ack, even an empty one, or the remote call stalls.
type Handler func(caller protocol.Address, body []byte) Ack

// Event is a transport-level notification. Variants: PeerSeen,
// PeerLeft, ConnCountChanged, MessageReceived.
type Event interface {
	transportEvent()
}

// PeerSeen reports a newly connected peer
type PeerSeen struct {
	Address protocol.Address
}

// PeerLeft reports a disconnected peer
type PeerLeft struct {
	Address protocol.Address
}

// ConnCountChanged reports the new total connection count
type ConnCountChanged struct {
	Count int
}

// MessageReceived carries one inbound unicast payload
type MessageReceived struct {
	From    protocol.Address
	Payload []byte
}

func (PeerSeen) transportEvent()         {}
func (PeerLeft) transportEvent()         {}
func (ConnCountChanged) transportEvent() {}
func (MessageReceived) transportEvent()  {}

// Transport is the point-to-point channel abstraction. Events are
// delivered in arrival order with no replay; sends are best-effort
// with no delivery acknowledgement; Call is synchronous and is never
// retried internally (an unanswered call returns the context error).
type Transport interface {
	// Self returns this peer's stable address
	Self() protocol.Address

	// Send delivers a payload to target, best effort
	Send(target protocol.Address, payload []byte) error

	// Call invokes a named procedure on target and waits for its ack
	Call(ctx context.Context, target protocol.Address, procedure string, body []byte) (Ack, error)

	// RegisterHandler installs the handler for a procedure name
	RegisterHandler(procedure string, h Handler)

	// Events returns the connectivity/message event stream
	Events() <-chan Event

	// Close tears the transport down
	Close() error
}
