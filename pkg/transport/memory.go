package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/peerchat/peerchat-node/pkg/protocol"
)

// MemoryNetwork is an in-process transport fabric. Peers attach under
// a chosen address; sends and calls are delivered synchronously in the
// caller's goroutine, which preserves per-sender arrival order.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[protocol.Address]*MemoryPeer
}

// NewMemoryNetwork creates an empty in-process fabric
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		peers: make(map[protocol.Address]*MemoryPeer),
	}
}

// Attach registers a peer under addr
func (n *MemoryNetwork) Attach(addr protocol.Address) *MemoryPeer {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := &MemoryPeer{
		net:      n,
		addr:     addr,
		handlers: make(map[string]Handler),
		conns:    make(map[protocol.Address]struct{}),
		events:   make(chan Event, eventBuffer),
	}
	n.peers[addr] = p
	return p
}

func (n *MemoryNetwork) lookup(addr protocol.Address) (*MemoryPeer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[addr]
	return p, ok
}

// MemoryPeer is one endpoint on a MemoryNetwork
type MemoryPeer struct {
	net  *MemoryNetwork
	addr protocol.Address

	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[protocol.Address]struct{}
	closed   bool

	events chan Event
}

// Self returns the peer's address
func (p *MemoryPeer) Self() protocol.Address {
	return p.addr
}

// ConnectTo establishes a connection to target; both sides observe a
// PeerSeen followed by a ConnCountChanged event
func (p *MemoryPeer) ConnectTo(target protocol.Address) error {
	remote, ok := p.net.lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, target)
	}

	p.addConn(target)
	remote.addConn(p.addr)

	remote.emit(PeerSeen{Address: p.addr})
	remote.emit(ConnCountChanged{Count: remote.connCount()})
	p.emit(PeerSeen{Address: target})
	p.emit(ConnCountChanged{Count: p.connCount()})
	return nil
}

// Send delivers a payload into the target's event stream
func (p *MemoryPeer) Send(target protocol.Address, payload []byte) error {
	remote, ok := p.net.lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, target)
	}

	// Copy so later mutation by the sender cannot race the receiver
	buf := make([]byte, len(payload))
	copy(buf, payload)

	remote.emit(MessageReceived{From: p.addr, Payload: buf})
	return nil
}

// Call invokes the target's registered handler synchronously
func (p *MemoryPeer) Call(ctx context.Context, target protocol.Address, procedure string, body []byte) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	remote, ok := p.net.lookup(target)
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrPeerNotFound, target)
	}

	remote.mu.Lock()
	handler, ok := remote.handlers[procedure]
	remote.mu.Unlock()

	if !ok {
		return Ack{OK: false, Error: fmt.Sprintf("unknown procedure %q", procedure)}, nil
	}

	return handler(p.addr, body), nil
}

// RegisterHandler installs the handler for a procedure name
func (p *MemoryPeer) RegisterHandler(procedure string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[procedure] = h
}

// Events returns the peer's event stream
func (p *MemoryPeer) Events() <-chan Event {
	return p.events
}

// Close detaches the peer; connected peers observe PeerLeft
func (p *MemoryPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]protocol.Address, 0, len(p.conns))
	for addr := range p.conns {
		conns = append(conns, addr)
	}
	p.mu.Unlock()

	p.net.mu.Lock()
	delete(p.net.peers, p.addr)
	p.net.mu.Unlock()

	for _, addr := range conns {
		if remote, ok := p.net.lookup(addr); ok {
			remote.dropConn(p.addr)
			remote.emit(PeerLeft{Address: p.addr})
			remote.emit(ConnCountChanged{Count: remote.connCount()})
		}
	}
	return nil
}

func (p *MemoryPeer) addConn(addr protocol.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[addr] = struct{}{}
}

func (p *MemoryPeer) dropConn(addr protocol.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, addr)
}

func (p *MemoryPeer) connCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *MemoryPeer) emit(ev Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.events <- ev:
	default:
		// Test fabric: a stalled consumer drops events rather than
		// deadlocking the sender
	}
}
