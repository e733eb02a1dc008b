package server

import "github.com/peerchat/peerchat-node/pkg/protocol"

// SessionState is the authentication state of one peer address.
// Variants: Unauthenticated, PendingApproval, Authenticated. Sessions
// are created on the first seen event and kept for the process
// lifetime; a left event never removes them (presence is sticky).
type SessionState interface {
	sessionState()
	Label() string
}

// Unauthenticated is the initial state of every seen address
type Unauthenticated struct{}

// PendingApproval holds a submitted sign-up awaiting the operator
type PendingApproval struct {
	User protocol.User
}

// Authenticated is an operator-approved session
type Authenticated struct {
	User protocol.User
}

func (Unauthenticated) sessionState() {}
func (PendingApproval) sessionState() {}
func (Authenticated) sessionState()   {}

func (Unauthenticated) Label() string { return "unauthenticated" }
func (PendingApproval) Label() string { return "pending_approval" }
func (Authenticated) Label() string   { return "authenticated" }
