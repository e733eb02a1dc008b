// Package client implements the client-role session state machine:
// authenticating against a server peer and mirroring the channel
// state it pushes.
package client

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

var (
	ErrNotConnected     = errors.New("not connected to a server")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoActiveChannel  = errors.New("no active channel selected")
	ErrUnknownChannel   = errors.New("unknown channel")
)

// AuthMode selects which form the authenticating state shows
type AuthMode int

const (
	ModeLogin AuthMode = iota
	ModeSignUp
)

func (m AuthMode) String() string {
	if m == ModeSignUp {
		return "signup"
	}
	return "login"
}

// State is the client session state. Exactly one of the variant
// structs below is active at a time.
type State interface {
	state()
	Label() string
}

// Disconnected is the initial state; DraftAddress is the server
// address being typed
type Disconnected struct {
	DraftAddress string
}

// Authenticating is the connected, not-yet-authenticated state
// holding the login or sign-up form
type Authenticating struct {
	Mode            AuthMode
	Email           string
	Password        string
	PasswordConfirm string
}

// Authenticated mirrors the channel state the server pushes
type Authenticated struct {
	Channels      map[protocol.ChannelName]*protocol.Channel
	ActiveChannel protocol.ChannelName
	DraftMessage  string
}

func (Disconnected) state()   {}
func (Authenticating) state() {}
func (Authenticated) state()  {}

func (Disconnected) Label() string   { return "disconnected" }
func (Authenticating) Label() string { return "authenticating" }
func (Authenticated) Label() string  { return "authenticated" }

// Machine drives the client session. The transport dials outside the
// machine; the machine reacts to confirmed connections, server pushes
// and user edits. Safe for use from the UI and the transport event
// goroutine.
type Machine struct {
	tr     transport.Transport
	server protocol.Address

	mu    sync.Mutex
	state State
}

// NewMachine creates a disconnected machine
func NewMachine(tr transport.Transport) *Machine {
	return &Machine{
		tr:    tr,
		state: Disconnected{},
	}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetDraftAddress edits the server address while disconnected
func (m *Machine) SetDraftAddress(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state.(Disconnected); ok {
		s.DraftAddress = addr
		m.state = s
	}
}

// HandleConnected reacts to a confirmed connection to the server
// peer: the machine moves to an empty login form
func (m *Machine) HandleConnected(server protocol.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.(Disconnected); !ok {
		return
	}
	m.server = server
	m.state = Authenticating{Mode: ModeLogin}
}

// ToggleMode switches between the login and sign-up forms. The email
// survives the switch; passwords do not.
func (m *Machine) ToggleMode() {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.(Authenticating)
	if !ok {
		return
	}
	mode := ModeLogin
	if s.Mode == ModeLogin {
		mode = ModeSignUp
	}
	m.state = Authenticating{Mode: mode, Email: s.Email}
}

// SetCredentials edits the authentication form
func (m *Machine) SetCredentials(email, password, passwordConfirm string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.(Authenticating)
	if !ok {
		return
	}
	s.Email = email
	s.Password = password
	s.PasswordConfirm = passwordConfirm
	m.state = s
}

// SubmitAuth sends the authenticate request. The form is not
// validated locally; the machine advances only when the server pushes
// its confirmation.
func (m *Machine) SubmitAuth(ctx context.Context) error {
	m.mu.Lock()
	s, ok := m.state.(Authenticating)
	server := m.server
	m.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}

	req := protocol.AuthRequest{
		Event:    protocol.AuthEventLogin,
		Email:    s.Email,
		Password: s.Password,
	}
	if s.Mode == ModeSignUp {
		req.Event = protocol.AuthEventSignUp
		req.PasswordConfirm = s.PasswordConfirm
	}

	body, err := protocol.EncodeAuthRequest(req)
	if err != nil {
		return err
	}
	ack, err := m.tr.Call(ctx, server, protocol.ProcAuthenticate, body)
	if err != nil {
		return err
	}
	if !ack.OK {
		return errors.New(ack.Error)
	}
	return nil
}

// HandleServerEvent applies one server push. Malformed payloads and
// pushes that make no sense in the current state are logged and
// otherwise ignored; the machine never fails on unexpected input.
func (m *Machine) HandleServerEvent(payload []byte) {
	decoded, err := protocol.DecodeServerEvent(payload)
	if err != nil {
		log.Printf("Ignoring undecodable server event: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev := decoded.(type) {
	case protocol.AuthenticatedEvent:
		if _, ok := m.state.(Authenticating); !ok {
			return
		}
		m.state = Authenticated{
			Channels: make(map[protocol.ChannelName]*protocol.Channel),
		}

	case protocol.ChannelStatusEvent:
		s, ok := m.state.(Authenticated)
		if !ok {
			return
		}
		ch, exists := s.Channels[ev.Channel]
		if !exists {
			// A status push for an unseen channel introduces it
			ch = protocol.NewChannel(ev.Channel)
			s.Channels[ev.Channel] = ch
		}
		active := make(map[protocol.Address]struct{}, len(ev.Status))
		for _, addr := range ev.Status {
			active[addr] = struct{}{}
		}
		ch.ActiveUsers = active
		if s.ActiveChannel == "" {
			s.ActiveChannel = ev.Channel
		}
		m.state = s

	case protocol.MessageEvent:
		s, ok := m.state.(Authenticated)
		if !ok {
			return
		}
		ch, exists := s.Channels[ev.Channel]
		if !exists {
			log.Printf("Dropping message for unknown channel %q", ev.Channel)
			return
		}
		ch.Prepend(ev.Message)
	}
}

// SetDraftMessage edits the message draft
func (m *Machine) SetDraftMessage(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state.(Authenticated); ok {
		s.DraftMessage = content
		m.state = s
	}
}

// SelectChannel changes the active channel
func (m *Machine) SelectChannel(name protocol.ChannelName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.(Authenticated)
	if !ok {
		return ErrNotAuthenticated
	}
	if _, exists := s.Channels[name]; !exists {
		return ErrUnknownChannel
	}
	s.ActiveChannel = name
	m.state = s
	return nil
}

// ChannelNames returns the mirrored channel names, sorted
func (m *Machine) ChannelNames() []protocol.ChannelName {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.(Authenticated)
	if !ok {
		return nil
	}
	names := make([]protocol.ChannelName, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ActiveChannel returns a copy of the active channel's mirror
func (m *Machine) ActiveChannel() (*protocol.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state.(Authenticated)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if s.ActiveChannel == "" {
		return nil, ErrNoActiveChannel
	}
	ch := s.Channels[s.ActiveChannel]
	snapshot := protocol.NewChannel(ch.Name)
	snapshot.Messages = append([]protocol.Message(nil), ch.Messages...)
	for addr := range ch.ActiveUsers {
		snapshot.ActiveUsers[addr] = struct{}{}
	}
	return snapshot, nil
}

// SubmitMessage posts the draft to the active channel. The draft is
// cleared before the call; a failed send does not restore it, the
// text reappears only through the server's echo.
func (m *Machine) SubmitMessage(ctx context.Context) error {
	m.mu.Lock()
	s, ok := m.state.(Authenticated)
	if !ok {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if s.ActiveChannel == "" {
		m.mu.Unlock()
		return ErrNoActiveChannel
	}
	channel := s.ActiveChannel
	content := s.DraftMessage
	s.DraftMessage = ""
	m.state = s
	server := m.server
	m.mu.Unlock()

	body, err := protocol.EncodeUserMessage(channel, content)
	if err != nil {
		return err
	}
	ack, err := m.tr.Call(ctx, server, protocol.ProcMessage, body)
	if err != nil {
		return err
	}
	if !ack.OK {
		return errors.New(ack.Error)
	}
	return nil
}
