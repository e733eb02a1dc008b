// Package server implements the session-authority and message-relay
// role of a chat network: the authoritative session table, channel
// membership, message history, and broadcast fan-out.
package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/storage"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

var (
	ErrNotPending     = errors.New("session is not pending approval")
	ErrNotRunning     = errors.New("engine is not running")
	ErrUnknownChannel = errors.New("unknown channel")
)

// historyLimit bounds how much archived history is reloaded into a
// channel at startup
const historyLimit = 200

// Engine owns all authoritative chat state. Every mutation happens on
// the single Run loop: transport events, RPC requests and operator
// commands are serialized through one channel, so no locking is needed
// on channels or the session table.
type Engine struct {
	tr transport.Transport

	// Owned exclusively by the Run loop
	channels map[protocol.ChannelName]*protocol.Channel
	sessions map[protocol.Address]SessionState

	// Message persistence (optional)
	db *storage.ChatDB

	commands chan func()
	running  chan struct{}
	stopped  chan struct{}

	now func() time.Time

	startTime         time.Time
	connCount         int
	messagesCommitted uint64
}

// NewEngine creates an engine with the well-known "general" channel
func NewEngine(tr transport.Transport) *Engine {
	e := &Engine{
		tr:        tr,
		channels:  make(map[protocol.ChannelName]*protocol.Channel),
		sessions:  make(map[protocol.Address]SessionState),
		commands:  make(chan func()),
		running:   make(chan struct{}),
		stopped:   make(chan struct{}),
		now:       time.Now,
		startTime: time.Now(),
	}
	e.channels[protocol.GeneralChannel] = protocol.NewChannel(protocol.GeneralChannel)
	return e
}

// AttachDatabase attaches persistence for accounts and history and
// reloads the archived "general" history into memory
func (e *Engine) AttachDatabase(db *storage.ChatDB) error {
	e.db = db

	history, err := db.ChannelHistory(protocol.GeneralChannel, historyLimit)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		e.channels[protocol.GeneralChannel].Messages = history
		log.Printf("Restored %d archived messages into %q", len(history), protocol.GeneralChannel)
	}
	return nil
}

// Run registers the RPC handlers and processes events until ctx is
// cancelled. It is the only goroutine that touches engine state.
func (e *Engine) Run(ctx context.Context) {
	e.tr.RegisterHandler(protocol.ProcAuthenticate, func(caller protocol.Address, body []byte) transport.Ack {
		return e.dispatchRPC(ctx, func() transport.Ack { return e.handleAuthenticate(caller, body) })
	})
	e.tr.RegisterHandler(protocol.ProcMessage, func(caller protocol.Address, body []byte) transport.Ack {
		return e.dispatchRPC(ctx, func() transport.Ack { return e.handleMessage(caller, body) })
	})

	close(e.running)
	defer close(e.stopped)

	events := e.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleTransportEvent(ev)

		case cmd := <-e.commands:
			cmd()
		}
	}
}

// handleTransportEvent reacts to one connectivity event
func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.PeerSeen:
		e.handleSeen(ev.Address)
	case transport.PeerLeft:
		e.handleLeft(ev.Address)
	case transport.ConnCountChanged:
		e.connCount = ev.Count
	case transport.MessageReceived:
		// The server role receives no pushes; clients talk to it via RPC
		log.Printf("Ignoring unexpected push from %s", ev.From)
	}
}

// dispatchRPC runs fn on the event loop and waits for its ack. The
// transport handler blocks here, so inbound calls are handled to
// completion, one at a time, and an ack is produced on every path.
func (e *Engine) dispatchRPC(ctx context.Context, fn func() transport.Ack) transport.Ack {
	result := make(chan transport.Ack, 1)
	select {
	case e.commands <- func() { result <- fn() }:
	case <-ctx.Done():
		return transport.Ack{OK: false, Error: "server shutting down"}
	}
	select {
	case ack := <-result:
		return ack
	case <-ctx.Done():
		return transport.Ack{OK: false, Error: "server shutting down"}
	}
}

// dispatch runs fn on the event loop and waits for it to complete
func (e *Engine) dispatch(fn func()) error {
	select {
	case <-e.running:
	default:
		return ErrNotRunning
	}

	done := make(chan struct{})
	select {
	case e.commands <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrNotRunning
	}
}

// Approve is the operator action that authenticates a pending
// session. Safe to call from any goroutine.
func (e *Engine) Approve(addr protocol.Address) error {
	var err error
	if derr := e.dispatch(func() { err = e.approve(addr) }); derr != nil {
		return derr
	}
	return err
}

// SessionInfo is a read-only session table row
type SessionInfo struct {
	Address protocol.Address
	State   string
	Email   string
}

// Sessions returns a snapshot of the session table
func (e *Engine) Sessions() ([]SessionInfo, error) {
	var infos []SessionInfo
	err := e.dispatch(func() {
		for addr, state := range e.sessions {
			info := SessionInfo{Address: addr, State: state.Label()}
			switch s := state.(type) {
			case PendingApproval:
				info.Email = s.User.Email
			case Authenticated:
				info.Email = s.User.Email
			}
			infos = append(infos, info)
		}
	})
	return infos, err
}

// ChannelInfo is a read-only channel summary
type ChannelInfo struct {
	Name         protocol.ChannelName
	Members      []protocol.Address
	MessageCount int
}

// Channels returns a snapshot of all channels
func (e *Engine) Channels() ([]ChannelInfo, error) {
	var infos []ChannelInfo
	err := e.dispatch(func() {
		for _, ch := range e.channels {
			infos = append(infos, ChannelInfo{
				Name:         ch.Name,
				Members:      ch.Members(),
				MessageCount: len(ch.Messages),
			})
		}
	})
	return infos, err
}

// ChannelSnapshot returns one channel's members and recent messages
func (e *Engine) ChannelSnapshot(name protocol.ChannelName, limit int) (*ChannelInfo, []protocol.Message, error) {
	var info *ChannelInfo
	var messages []protocol.Message
	err := e.dispatch(func() {
		ch, ok := e.channels[name]
		if !ok {
			return
		}
		info = &ChannelInfo{
			Name:         ch.Name,
			Members:      ch.Members(),
			MessageCount: len(ch.Messages),
		}
		n := len(ch.Messages)
		if limit > 0 && limit < n {
			n = limit
		}
		messages = append([]protocol.Message(nil), ch.Messages[:n]...)
	})
	if err != nil {
		return nil, nil, err
	}
	if info == nil {
		return nil, nil, ErrUnknownChannel
	}
	return info, messages, nil
}

// Stats holds engine counters for the operator API
type Stats struct {
	Uptime            time.Duration
	Connections       int
	Sessions          int
	Channels          int
	MessagesCommitted uint64
}

// GetStats returns engine counters
func (e *Engine) GetStats() (Stats, error) {
	var stats Stats
	err := e.dispatch(func() {
		stats = Stats{
			Uptime:            time.Since(e.startTime),
			Connections:       e.connCount,
			Sessions:          len(e.sessions),
			Channels:          len(e.channels),
			MessagesCommitted: e.messagesCommitted,
		}
	})
	return stats, err
}
