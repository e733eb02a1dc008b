// Package protocol defines the chat domain model and the wire encoding
// exchanged between client peers and the server peer.
package protocol

import (
	"sort"
	"time"
)

// Protocol version string carried by the transport protocol IDs
const ProtocolVersion = "1.0.0"

// RPC procedure names (client -> server)
const (
	ProcMessage      = "message"
	ProcAuthenticate = "authenticate"
)

// Server push event names (server -> client)
const (
	EventChannelStatus = "updateChannelStatus"
	EventMessage       = "message"
	EventAuthenticated = "authenticated"
)

// Authentication sub-events inside the "authenticate" procedure
const (
	AuthEventLogin  = "authLogin"
	AuthEventSignUp = "authSignUp"
)

// Address identifies a transport endpoint. It is opaque to the core:
// the libp2p transport uses peer ID strings, tests use plain labels.
type Address string

// AutomatedAddress is the reserved sender for system-authored messages
// (join notices). Commits from this address bypass the authentication
// check on the server.
const AutomatedAddress Address = "automated"

// ChannelName is a case-sensitive, non-empty channel key.
type ChannelName string

// GeneralChannel is pre-created on every server at startup.
const GeneralChannel ChannelName = "general"

// User is a server-side identity for an authenticated peer.
type User struct {
	DisplayName  string
	Email        string
	PasswordHash string
}

// Message is one committed chat message. SentAt is always the server's
// commit time, never a client-claimed time; it crosses the wire at
// millisecond resolution.
type Message struct {
	Author  string
	Content string
	SentAt  time.Time
}

// Channel is a named message stream plus the set of addresses
// currently joined to it. Messages are kept newest first.
type Channel struct {
	Name        ChannelName
	Messages    []Message
	ActiveUsers map[Address]struct{}
}

// NewChannel creates an empty channel
func NewChannel(name ChannelName) *Channel {
	return &Channel{
		Name:        name,
		ActiveUsers: make(map[Address]struct{}),
	}
}

// Prepend inserts a message at the head (newest first ordering)
func (c *Channel) Prepend(msg Message) {
	c.Messages = append([]Message{msg}, c.Messages...)
}

// Join adds an address to the active set. Adding a member twice is a
// no-op (set semantics).
func (c *Channel) Join(addr Address) {
	c.ActiveUsers[addr] = struct{}{}
}

// IsMember reports whether addr is in the active set
func (c *Channel) IsMember(addr Address) bool {
	_, ok := c.ActiveUsers[addr]
	return ok
}

// Members returns the active set in stable (sorted) order
func (c *Channel) Members() []Address {
	members := make([]Address, 0, len(c.ActiveUsers))
	for addr := range c.ActiveUsers {
		members = append(members, addr)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}
