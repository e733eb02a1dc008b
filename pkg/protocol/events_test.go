package protocol

import (
	"testing"
	"time"
)

func TestChannelStatusRoundTrip(t *testing.T) {
	ch := NewChannel("general")
	ch.Join("peer-b")
	ch.Join("peer-a")

	payload, err := EncodeChannelStatus(ch)
	if err != nil {
		t.Fatalf("EncodeChannelStatus() error: %v", err)
	}

	decoded, err := DecodeServerEvent(payload)
	if err != nil {
		t.Fatalf("DecodeServerEvent() error: %v", err)
	}

	status, ok := decoded.(ChannelStatusEvent)
	if !ok {
		t.Fatalf("decoded event has type %T, want ChannelStatusEvent", decoded)
	}

	if status.Channel != "general" {
		t.Errorf("Channel = %q, want %q", status.Channel, "general")
	}
	if len(status.Status) != 2 {
		t.Fatalf("Status has %d addresses, want 2", len(status.Status))
	}
	// Members() is sorted, so the order is stable
	if status.Status[0] != "peer-a" || status.Status[1] != "peer-b" {
		t.Errorf("Status = %v, want [peer-a peer-b]", status.Status)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "plain message",
			msg: Message{
				Author:  "peer-a",
				Content: "hello there",
				SentAt:  time.UnixMilli(1706372345678),
			},
		},
		{
			name: "system message",
			msg: Message{
				Author:  string(AutomatedAddress),
				Content: "User peer-a joined the channel",
				SentAt:  time.UnixMilli(0),
			},
		},
		{
			name: "empty content",
			msg: Message{
				Author: "peer-b",
				SentAt: time.UnixMilli(-1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeMessage("general", tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage() error: %v", err)
			}

			decoded, err := DecodeServerEvent(payload)
			if err != nil {
				t.Fatalf("DecodeServerEvent() error: %v", err)
			}

			ev, ok := decoded.(MessageEvent)
			if !ok {
				t.Fatalf("decoded event has type %T, want MessageEvent", decoded)
			}

			if ev.Channel != "general" {
				t.Errorf("Channel = %q, want %q", ev.Channel, "general")
			}
			if ev.Message.Author != tt.msg.Author {
				t.Errorf("Author = %q, want %q", ev.Message.Author, tt.msg.Author)
			}
			if ev.Message.Content != tt.msg.Content {
				t.Errorf("Content = %q, want %q", ev.Message.Content, tt.msg.Content)
			}
			if !ev.Message.SentAt.Equal(tt.msg.SentAt) {
				t.Errorf("SentAt = %v, want %v", ev.Message.SentAt, tt.msg.SentAt)
			}
		})
	}
}

func TestMessageTimestampMillisecondTruncation(t *testing.T) {
	// Sub-millisecond precision is truncated on the wire; the decoded
	// timestamp must equal the millisecond truncation of the original.
	sent := time.Date(2025, 1, 27, 14, 30, 45, 123456789, time.UTC)

	payload, err := EncodeMessage("general", Message{Author: "a", Content: "x", SentAt: sent})
	if err != nil {
		t.Fatalf("EncodeMessage() error: %v", err)
	}

	decoded, err := DecodeServerEvent(payload)
	if err != nil {
		t.Fatalf("DecodeServerEvent() error: %v", err)
	}

	got := decoded.(MessageEvent).Message.SentAt
	if got.UnixMilli() != sent.UnixMilli() {
		t.Errorf("SentAt = %d ms, want %d ms", got.UnixMilli(), sent.UnixMilli())
	}
	if !got.Equal(sent.Truncate(time.Millisecond)) {
		t.Errorf("SentAt = %v, want %v", got, sent.Truncate(time.Millisecond))
	}
}

func TestAuthenticatedRoundTrip(t *testing.T) {
	payload, err := EncodeAuthenticated()
	if err != nil {
		t.Fatalf("EncodeAuthenticated() error: %v", err)
	}

	decoded, err := DecodeServerEvent(payload)
	if err != nil {
		t.Fatalf("DecodeServerEvent() error: %v", err)
	}

	if _, ok := decoded.(AuthenticatedEvent); !ok {
		t.Errorf("decoded event has type %T, want AuthenticatedEvent", decoded)
	}
}

func TestDecodeServerEventFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "not-json"},
		{name: "unknown event", payload: `{"event":"selfDestruct","data":{}}`},
		{name: "empty event name", payload: `{"event":""}`},
		{name: "malformed status data", payload: `{"event":"updateChannelStatus","data":"nope"}`},
		{name: "malformed message data", payload: `{"event":"message","data":[1,2]}`},
		{name: "status without channel", payload: `{"event":"updateChannelStatus","data":{"status":[]}}`},
		{name: "message without channel", payload: `{"event":"message","data":{"message":{"user":"a","content":"x","time":0}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeServerEvent([]byte(tt.payload)); err == nil {
				t.Errorf("DecodeServerEvent(%q) succeeded, want error", tt.payload)
			}
		})
	}
}

func TestUserMessageRoundTrip(t *testing.T) {
	payload, err := EncodeUserMessage("general", "hi")
	if err != nil {
		t.Fatalf("EncodeUserMessage() error: %v", err)
	}

	msg, err := DecodeUserMessage(payload)
	if err != nil {
		t.Fatalf("DecodeUserMessage() error: %v", err)
	}

	if msg.ChannelName != "general" || msg.Content != "hi" {
		t.Errorf("DecodeUserMessage() = %+v, want {general hi}", msg)
	}
}

func TestDecodeAuthRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "login",
			payload: `{"event":"authLogin","email":"a@x.com","password":"p"}`,
		},
		{
			name:    "signup",
			payload: `{"event":"authSignUp","email":"a@x.com","password":"p","passwordConfirm":"p"}`,
		},
		{
			name:    "unknown auth event",
			payload: `{"event":"authMagic","email":"a@x.com","password":"p"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `{{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeAuthRequest([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Errorf("DecodeAuthRequest() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAuthRequest() error: %v", err)
			}
			if req.Email != "a@x.com" {
				t.Errorf("Email = %q, want a@x.com", req.Email)
			}
		})
	}
}
