package server

import (
	"fmt"
	"log"

	"github.com/peerchat/peerchat-node/pkg/crypto"
	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

// All functions in this file run on the engine's event loop.

// handleSeen creates a session for a newly seen address
func (e *Engine) handleSeen(addr protocol.Address) {
	if _, exists := e.sessions[addr]; exists {
		return
	}
	e.sessions[addr] = Unauthenticated{}
	log.Printf("Peer seen: %s", addr)
}

// handleLeft is log-only: sessions and channel presence are sticky
// across disconnects
func (e *Engine) handleLeft(addr protocol.Address) {
	log.Printf("Peer left: %s (session retained)", addr)
}

// handleAuthenticate processes one authenticate RPC. Policy
// rejections are silent: the session is untouched and the requester
// gets no feedback beyond the transport-level ack.
func (e *Engine) handleAuthenticate(caller protocol.Address, body []byte) transport.Ack {
	req, err := protocol.DecodeAuthRequest(body)
	if err != nil {
		log.Printf("Undecodable auth request from %s: %v", caller, err)
		return transport.Ack{OK: false, Error: "malformed request"}
	}

	switch req.Event {
	case protocol.AuthEventSignUp:
		e.handleSignUp(caller, req)
	case protocol.AuthEventLogin:
		// No login-against-existing-identity path exists yet; the
		// stored password hash is never checked here.
		log.Printf("Login attempt from %s ignored (unsupported)", caller)
	}

	return transport.Ack{OK: true}
}

// handleSignUp applies the sign-up policy
func (e *Engine) handleSignUp(caller protocol.Address, req protocol.AuthRequest) {
	if req.Password != req.PasswordConfirm {
		log.Printf("Sign-up from %s dropped: password mismatch", caller)
		return
	}

	session, exists := e.sessions[caller]
	if !exists {
		log.Printf("Sign-up from unseen address %s dropped", caller)
		return
	}
	if _, ok := session.(Unauthenticated); !ok {
		log.Printf("Sign-up from %s dropped: session is %s", caller, session.Label())
		return
	}

	if e.emailTaken(req.Email) {
		log.Printf("Sign-up from %s dropped: email already claimed", caller)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		log.Printf("Sign-up from %s dropped: %v", caller, err)
		return
	}

	e.sessions[caller] = PendingApproval{User: protocol.User{
		DisplayName:  req.Email,
		Email:        req.Email,
		PasswordHash: hash,
	}}
	log.Printf("Sign-up from %s accepted, awaiting approval (%s)", caller, req.Email)
}

// emailTaken reports whether any pending or authenticated session, or
// any persisted account, owns the email
func (e *Engine) emailTaken(email string) bool {
	for _, state := range e.sessions {
		switch s := state.(type) {
		case PendingApproval:
			if s.User.Email == email {
				return true
			}
		case Authenticated:
			if s.User.Email == email {
				return true
			}
		}
	}

	if e.db != nil {
		exists, err := e.db.EmailExists(email)
		if err != nil {
			log.Printf("Email lookup failed: %v", err)
			return true // fail closed
		}
		return exists
	}

	return false
}

// approve transitions a pending session to authenticated, confirms it
// to the peer, and then joins it into the general channel. The push
// is sent before the join so the peer observes authentication first.
func (e *Engine) approve(addr protocol.Address) error {
	session, exists := e.sessions[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotPending, addr)
	}
	pending, ok := session.(PendingApproval)
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, addr, session.Label())
	}

	e.sessions[addr] = Authenticated{User: pending.User}
	log.Printf("Approved %s (%s)", addr, pending.User.Email)

	if e.db != nil {
		if err := e.db.SaveUser(pending.User, addr); err != nil {
			log.Printf("Failed to persist user %s: %v", pending.User.Email, err)
		}
	}

	// Phase one: confirm authentication
	payload, err := protocol.EncodeAuthenticated()
	if err != nil {
		return err
	}
	if err := e.tr.Send(addr, payload); err != nil {
		log.Printf("Failed to push authenticated to %s: %v", addr, err)
	}

	// Phase two: join the general channel and announce it
	general := e.channels[protocol.GeneralChannel]
	general.Join(addr)
	e.broadcastChannelStatus(general)
	e.commit(general, protocol.Message{
		Author:  string(protocol.AutomatedAddress),
		Content: fmt.Sprintf("User %s joined the channel", addr),
		SentAt:  e.now(),
	})

	return nil
}

// handleMessage processes one message RPC: authenticate the caller,
// stamp with server time, commit, broadcast
func (e *Engine) handleMessage(caller protocol.Address, body []byte) transport.Ack {
	msg, err := protocol.DecodeUserMessage(body)
	if err != nil {
		log.Printf("Undecodable message from %s: %v", caller, err)
		return transport.Ack{OK: false, Error: "malformed request"}
	}

	author, ok := e.authorFor(caller)
	if !ok {
		log.Printf("Message from unauthenticated %s dropped", caller)
		return transport.Ack{OK: true}
	}

	channel, ok := e.channels[msg.ChannelName]
	if !ok {
		log.Printf("Message from %s to unknown channel %q dropped", caller, msg.ChannelName)
		return transport.Ack{OK: true}
	}

	e.commit(channel, protocol.Message{
		Author:  author,
		Content: msg.Content,
		SentAt:  e.now(), // server time, never the client's claim
	})

	return transport.Ack{OK: true}
}

// authorFor resolves the author name for a commit, and whether the
// caller may commit at all. The reserved automated address is always
// permitted.
func (e *Engine) authorFor(caller protocol.Address) (string, bool) {
	if caller == protocol.AutomatedAddress {
		return string(protocol.AutomatedAddress), true
	}
	if session, ok := e.sessions[caller].(Authenticated); ok {
		return session.User.DisplayName, true
	}
	return "", false
}

// commit prepends a stamped message to the channel, archives it, and
// broadcasts it to every active member
func (e *Engine) commit(channel *protocol.Channel, msg protocol.Message) {
	channel.Prepend(msg)
	e.messagesCommitted++

	if e.db != nil {
		if err := e.db.SaveMessage(channel.Name, msg); err != nil {
			log.Printf("Failed to archive message in %q: %v", channel.Name, err)
		}
	}

	payload, err := protocol.EncodeMessage(channel.Name, msg)
	if err != nil {
		log.Printf("Failed to encode message for %q: %v", channel.Name, err)
		return
	}
	e.broadcast(channel, payload)
}

// broadcastChannelStatus pushes the channel's full active set to every
// member
func (e *Engine) broadcastChannelStatus(channel *protocol.Channel) {
	payload, err := protocol.EncodeChannelStatus(channel)
	if err != nil {
		log.Printf("Failed to encode status for %q: %v", channel.Name, err)
		return
	}
	e.broadcast(channel, payload)
}

// broadcast sends one identical payload to each active member of the
// channel (server-side fan-out)
func (e *Engine) broadcast(channel *protocol.Channel, payload []byte) {
	for _, member := range channel.Members() {
		if err := e.tr.Send(member, payload); err != nil {
			log.Printf("Failed to send to member %s: %v", member, err)
			continue
		}
	}
}
