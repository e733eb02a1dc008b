package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

const serverAddr = protocol.Address("server")

// newTestMachine wires a machine to an in-process fabric with a
// capturing server peer
func newTestMachine(t *testing.T) (*Machine, *capturingServer) {
	t.Helper()

	net := transport.NewMemoryNetwork()
	srv := &capturingServer{acks: make(map[string]transport.Ack)}

	peer := net.Attach(serverAddr)
	peer.RegisterHandler(protocol.ProcAuthenticate, srv.record(protocol.ProcAuthenticate))
	peer.RegisterHandler(protocol.ProcMessage, srv.record(protocol.ProcMessage))

	return NewMachine(net.Attach("client")), srv
}

type capturingServer struct {
	calls []capturedCall
	acks  map[string]transport.Ack
}

type capturedCall struct {
	procedure string
	body      []byte
}

func (s *capturingServer) record(procedure string) transport.Handler {
	return func(caller protocol.Address, body []byte) transport.Ack {
		s.calls = append(s.calls, capturedCall{procedure: procedure, body: body})
		if ack, ok := s.acks[procedure]; ok {
			return ack
		}
		return transport.Ack{OK: true}
	}
}

// authenticate drives the machine into the Authenticated state
func authenticate(t *testing.T, m *Machine) {
	t.Helper()

	m.HandleConnected(serverAddr)
	payload, err := protocol.EncodeAuthenticated()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.HandleServerEvent(payload)
	if _, ok := m.State().(Authenticated); !ok {
		t.Fatalf("state = %s, want authenticated", m.State().Label())
	}
}

func statusPush(t *testing.T, channel protocol.ChannelName, members ...protocol.Address) []byte {
	t.Helper()

	ch := protocol.NewChannel(channel)
	for _, m := range members {
		ch.Join(m)
	}
	payload, err := protocol.EncodeChannelStatus(ch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func TestConnectedOpensLoginForm(t *testing.T) {
	m, _ := newTestMachine(t)

	m.HandleConnected(serverAddr)

	s, ok := m.State().(Authenticating)
	if !ok {
		t.Fatalf("state = %s, want authenticating", m.State().Label())
	}
	if s.Mode != ModeLogin {
		t.Errorf("mode = %s, want login", s.Mode)
	}
	if s.Email != "" || s.Password != "" {
		t.Errorf("form not empty: %+v", s)
	}
}

func TestToggleModePreservesEmail(t *testing.T) {
	m, _ := newTestMachine(t)
	m.HandleConnected(serverAddr)
	m.SetCredentials("alice@example.com", "secret", "")

	m.ToggleMode()

	s := m.State().(Authenticating)
	if s.Mode != ModeSignUp {
		t.Errorf("mode = %s, want signup", s.Mode)
	}
	if s.Email != "alice@example.com" {
		t.Errorf("email = %q, want preserved", s.Email)
	}
	if s.Password != "" || s.PasswordConfirm != "" {
		t.Error("passwords survived the toggle")
	}

	m.ToggleMode()
	if got := m.State().(Authenticating); got.Mode != ModeLogin || got.Email != "alice@example.com" {
		t.Errorf("after second toggle: %+v", got)
	}
}

func TestSubmitAuthSendsSignUpForm(t *testing.T) {
	m, srv := newTestMachine(t)
	m.HandleConnected(serverAddr)
	m.ToggleMode()
	m.SetCredentials("alice@example.com", "secret", "secret")

	if err := m.SubmitAuth(context.Background()); err != nil {
		t.Fatalf("SubmitAuth: %v", err)
	}

	if len(srv.calls) != 1 || srv.calls[0].procedure != protocol.ProcAuthenticate {
		t.Fatalf("calls = %+v", srv.calls)
	}
	var req protocol.AuthRequest
	if err := json.Unmarshal(srv.calls[0].body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Event != protocol.AuthEventSignUp {
		t.Errorf("event = %q", req.Event)
	}
	if req.Email != "alice@example.com" || req.Password != "secret" || req.PasswordConfirm != "secret" {
		t.Errorf("form = %+v", req)
	}

	// Submitting never advances the machine on its own
	if _, ok := m.State().(Authenticating); !ok {
		t.Errorf("state = %s, want still authenticating", m.State().Label())
	}
}

func TestSubmitAuthSendsLoginForm(t *testing.T) {
	m, srv := newTestMachine(t)
	m.HandleConnected(serverAddr)
	m.SetCredentials("alice@example.com", "secret", "")

	if err := m.SubmitAuth(context.Background()); err != nil {
		t.Fatalf("SubmitAuth: %v", err)
	}

	var req protocol.AuthRequest
	if err := json.Unmarshal(srv.calls[0].body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Event != protocol.AuthEventLogin {
		t.Errorf("event = %q", req.Event)
	}
	if req.PasswordConfirm != "" {
		t.Errorf("login form carried a confirm field: %+v", req)
	}
}

func TestAuthenticatedPushAdvancesMachine(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)

	s := m.State().(Authenticated)
	if len(s.Channels) != 0 {
		t.Errorf("channels = %v, want empty mirror", s.Channels)
	}
}

func TestAuthenticatedPushWhileDisconnectedIsNoOp(t *testing.T) {
	m, _ := newTestMachine(t)

	payload, _ := protocol.EncodeAuthenticated()
	m.HandleServerEvent(payload)

	if _, ok := m.State().(Disconnected); !ok {
		t.Errorf("state = %s, want still disconnected", m.State().Label())
	}
}

func TestChannelStatusCreatesMirror(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)

	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client", "other"))

	ch, err := m.ActiveChannel()
	if err != nil {
		t.Fatalf("ActiveChannel: %v", err)
	}
	if ch.Name != protocol.GeneralChannel {
		t.Errorf("active channel = %q", ch.Name)
	}
	if len(ch.ActiveUsers) != 2 {
		t.Errorf("active users = %v", ch.Members())
	}
	if len(ch.Messages) != 0 {
		t.Errorf("fresh mirror has history: %v", ch.Messages)
	}
}

func TestChannelStatusReplacesActiveSet(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)
	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client", "other"))

	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client"))

	ch, _ := m.ActiveChannel()
	if members := ch.Members(); len(members) != 1 || members[0] != "client" {
		t.Errorf("members = %v, want [client]", members)
	}
}

func TestMessagePushPrependsNewestFirst(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)
	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client"))

	for _, content := range []string{"first", "second"} {
		payload, err := protocol.EncodeMessage(protocol.GeneralChannel, protocol.Message{
			Author:  "other",
			Content: content,
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		m.HandleServerEvent(payload)
	}

	ch, _ := m.ActiveChannel()
	if len(ch.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(ch.Messages))
	}
	if ch.Messages[0].Content != "second" {
		t.Errorf("newest = %q, want second", ch.Messages[0].Content)
	}
}

func TestMessageForUnknownChannelDropped(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)

	payload, _ := protocol.EncodeMessage("nowhere", protocol.Message{Author: "x", Content: "y"})
	m.HandleServerEvent(payload)

	s := m.State().(Authenticated)
	if len(s.Channels) != 0 {
		t.Errorf("channels = %v, want none", s.Channels)
	}
}

func TestMalformedPushSwallowed(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)
	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client"))

	for _, payload := range [][]byte{
		[]byte("{not json"),
		[]byte(`{"event":"unknownThing","data":{}}`),
	} {
		m.HandleServerEvent(payload)
	}

	ch, err := m.ActiveChannel()
	if err != nil || ch.Name != protocol.GeneralChannel {
		t.Errorf("mirror disturbed: %v %v", ch, err)
	}
}

func TestSubmitMessageClearsDraftOptimistically(t *testing.T) {
	m, srv := newTestMachine(t)
	authenticate(t, m)
	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client"))
	m.SetDraftMessage("hello")

	// Even a rejected send leaves the draft cleared
	srv.acks[protocol.ProcMessage] = transport.Ack{OK: false, Error: "nope"}

	err := m.SubmitMessage(context.Background())
	if err == nil {
		t.Fatal("expected an error from the rejected send")
	}

	s := m.State().(Authenticated)
	if s.DraftMessage != "" {
		t.Errorf("draft = %q, want cleared", s.DraftMessage)
	}

	var sent protocol.UserMessage
	if err := json.Unmarshal(srv.calls[len(srv.calls)-1].body, &sent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sent.ChannelName != protocol.GeneralChannel || sent.Content != "hello" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSelectChannel(t *testing.T) {
	m, _ := newTestMachine(t)
	authenticate(t, m)
	m.HandleServerEvent(statusPush(t, protocol.GeneralChannel, "client"))
	m.HandleServerEvent(statusPush(t, "random", "client"))

	if err := m.SelectChannel("random"); err != nil {
		t.Fatalf("SelectChannel: %v", err)
	}
	ch, _ := m.ActiveChannel()
	if ch.Name != "random" {
		t.Errorf("active = %q", ch.Name)
	}

	if err := m.SelectChannel("nowhere"); err != ErrUnknownChannel {
		t.Errorf("err = %v, want ErrUnknownChannel", err)
	}

	names := m.ChannelNames()
	if len(names) != 2 || names[0] != "general" || names[1] != "random" {
		t.Errorf("names = %v", names)
	}
}
