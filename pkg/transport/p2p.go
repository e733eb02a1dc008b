package transport

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/peerchat/peerchat-node/pkg/protocol"
)

const (
	// Protocol IDs for the two stream kinds
	rpcProtocolID  = libp2pprotocol.ID("/peerchat/rpc/" + protocol.ProtocolVersion)
	pushProtocolID = libp2pprotocol.ID("/peerchat/push/" + protocol.ProtocolVersion)

	defaultCallTimeout = 10 * time.Second
	eventBuffer        = 128
)

// rpcEnvelope frames one RPC call on the wire
type rpcEnvelope struct {
	Procedure string          `json:"procedure"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// P2PConfig contains configuration for creating a libp2p transport
type P2PConfig struct {
	Port           int
	PrivateKey     crypto.PrivKey // Optional: provide your own key
	EnableDHT      bool
	BootstrapPeers []string
	CallTimeout    time.Duration
}

// P2P is the libp2p-backed transport. Each peer gets a stable address
// (its peer ID); RPC calls and pushes travel as JSON over dedicated
// streams.
type P2P struct {
	host host.Host
	dht  *dht.IpfsDHT

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers map[string]Handler

	events      chan Event
	callTimeout time.Duration
}

// NewP2P creates a libp2p transport listening on the configured port
func NewP2P(ctx context.Context, config *P2PConfig) (*P2P, error) {
	if config == nil {
		config = &P2PConfig{}
	}

	// Generate or use provided private key
	priv := config.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", config.Port)

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	callTimeout := config.CallTimeout
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &P2P{
		host:        h,
		ctx:         tctx,
		cancel:      cancel,
		handlers:    make(map[string]Handler),
		events:      make(chan Event, eventBuffer),
		callTimeout: callTimeout,
	}

	if config.EnableDHT {
		dhtInst, err := dht.New(tctx, h, dht.Mode(dht.ModeServer))
		if err != nil {
			cancel()
			h.Close()
			return nil, fmt.Errorf("failed to create DHT: %w", err)
		}
		t.dht = dhtInst

		if len(config.BootstrapPeers) > 0 {
			if err := t.bootstrap(config.BootstrapPeers); err != nil {
				cancel()
				h.Close()
				return nil, fmt.Errorf("failed to bootstrap: %w", err)
			}
		}
	}

	h.SetStreamHandler(rpcProtocolID, t.handleRPCStream)
	h.SetStreamHandler(pushProtocolID, t.handlePushStream)

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			t.emit(PeerSeen{Address: protocol.Address(conn.RemotePeer().String())})
			t.emit(ConnCountChanged{Count: len(h.Network().Peers())})
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			t.emit(PeerLeft{Address: protocol.Address(conn.RemotePeer().String())})
			t.emit(ConnCountChanged{Count: len(h.Network().Peers())})
		},
	})

	return t, nil
}

// bootstrap connects to bootstrap peers and joins the DHT
func (t *P2P) bootstrap(bootstrapPeers []string) error {
	var connected int
	for _, peerStr := range bootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(peerStr)
		if err != nil {
			log.Printf("Invalid bootstrap peer address %s: %v", peerStr, err)
			continue
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Printf("Failed to parse peer info from %s: %v", peerStr, err)
			continue
		}

		ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
		err = t.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			log.Printf("Failed to connect to bootstrap peer %s: %v", peerStr, err)
			continue
		}
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("could not connect to any bootstrap peer")
	}

	return t.dht.Bootstrap(t.ctx)
}

// Self returns this peer's address (its peer ID)
func (t *P2P) Self() protocol.Address {
	return protocol.Address(t.host.ID().String())
}

// AddrStrings returns the full dialable multiaddrs of this peer
func (t *P2P) AddrStrings() []string {
	suffix := "/p2p/" + t.host.ID().String()
	addrs := make([]string, 0, len(t.host.Addrs()))
	for _, a := range t.host.Addrs() {
		addrs = append(addrs, a.String()+suffix)
	}
	return addrs
}

// Connect dials a peer given its full multiaddr and returns its address
func (t *P2P) Connect(ctx context.Context, addr string) (protocol.Address, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if err := t.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return protocol.Address(info.ID.String()), nil
}

// resolve turns an Address back into a dialable peer ID, consulting
// the DHT when the peerstore has no addresses for it
func (t *P2P) resolve(ctx context.Context, target protocol.Address) (peer.ID, error) {
	id, err := peer.Decode(string(target))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if len(t.host.Peerstore().Addrs(id)) == 0 && t.dht != nil {
		info, err := t.dht.FindPeer(ctx, id)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrPeerNotFound, target)
		}
		t.host.Peerstore().AddAddrs(id, info.Addrs, time.Hour)
	}

	return id, nil
}

// Send delivers a payload over a one-way push stream, best effort
func (t *P2P) Send(target protocol.Address, payload []byte) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.callTimeout)
	defer cancel()

	id, err := t.resolve(ctx, target)
	if err != nil {
		return err
	}

	stream, err := t.host.NewStream(ctx, id, pushProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open push stream: %w", err)
	}
	defer stream.Close()

	if _, err := stream.Write(payload); err != nil {
		return fmt.Errorf("failed to send payload: %w", err)
	}

	return stream.CloseWrite()
}

// Call invokes a procedure on target and waits for the ack
func (t *P2P) Call(ctx context.Context, target protocol.Address, procedure string, body []byte) (Ack, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}

	id, err := t.resolve(ctx, target)
	if err != nil {
		return Ack{}, err
	}

	stream, err := t.host.NewStream(ctx, id, rpcProtocolID)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to open rpc stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	env := rpcEnvelope{Procedure: procedure, Body: body}
	if err := json.NewEncoder(stream).Encode(env); err != nil {
		return Ack{}, fmt.Errorf("failed to send request: %w", err)
	}

	var ack Ack
	if err := json.NewDecoder(stream).Decode(&ack); err != nil {
		if err == io.EOF {
			return Ack{}, fmt.Errorf("connection closed by peer")
		}
		return Ack{}, fmt.Errorf("failed to decode ack: %w", err)
	}

	return ack, nil
}

// RegisterHandler installs the handler for a procedure name
func (t *P2P) RegisterHandler(procedure string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[procedure] = h
}

// Events returns the transport event stream
func (t *P2P) Events() <-chan Event {
	return t.events
}

// handleRPCStream processes one inbound RPC call. The ack is written
// on every path so the remote caller never stalls.
func (t *P2P) handleRPCStream(stream network.Stream) {
	defer stream.Close()

	caller := protocol.Address(stream.Conn().RemotePeer().String())

	var env rpcEnvelope
	if err := json.NewDecoder(stream).Decode(&env); err != nil {
		json.NewEncoder(stream).Encode(Ack{OK: false, Error: fmt.Sprintf("malformed envelope: %v", err)})
		return
	}

	t.mu.RLock()
	handler, ok := t.handlers[env.Procedure]
	t.mu.RUnlock()

	var ack Ack
	if ok {
		ack = handler(caller, env.Body)
	} else {
		ack = Ack{OK: false, Error: fmt.Sprintf("unknown procedure %q", env.Procedure)}
	}

	if err := json.NewEncoder(stream).Encode(ack); err != nil {
		log.Printf("Failed to send ack to %s: %v", caller, err)
	}
}

// handlePushStream reads one inbound unicast payload
func (t *P2P) handlePushStream(stream network.Stream) {
	defer stream.Close()

	from := protocol.Address(stream.Conn().RemotePeer().String())

	payload, err := io.ReadAll(stream)
	if err != nil {
		log.Printf("Failed to read push from %s: %v", from, err)
		return
	}

	t.emit(MessageReceived{From: from, Payload: payload})
}

// emit queues an event, dropping it if the consumer is not keeping up
func (t *P2P) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		log.Printf("Transport event buffer full, dropping %T", ev)
	}
}

// Close shuts the transport down
func (t *P2P) Close() error {
	t.cancel()
	if t.dht != nil {
		t.dht.Close()
	}
	return t.host.Close()
}
