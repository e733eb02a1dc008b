package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerEvent is the tagged envelope for every server-originated push
type ServerEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChannelStatusData carries the full active set of one channel
type ChannelStatusData struct {
	Channel ChannelName `json:"channel"`
	Status  []Address   `json:"status"`
}

// WireMessage is a message as it crosses the wire: the timestamp is
// integer milliseconds since the Unix epoch
type WireMessage struct {
	User    string `json:"user"`
	Content string `json:"content"`
	Time    int64  `json:"time"`
}

// MessageData carries one committed message for a channel
type MessageData struct {
	Channel ChannelName `json:"channel"`
	Message WireMessage `json:"message"`
}

// UserMessage is the outbound-only post envelope. It carries no author
// and no timestamp; the server assigns both at commit time.
type UserMessage struct {
	ChannelName ChannelName `json:"channelName"`
	Content     string      `json:"content"`
}

// AuthRequest is the body of the "authenticate" procedure
type AuthRequest struct {
	Event           string `json:"event"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm,omitempty"`
}

// ===== ENCODING (server side) =====

// EncodeChannelStatus encodes an updateChannelStatus push for a channel
func EncodeChannelStatus(c *Channel) ([]byte, error) {
	data, err := json.Marshal(ChannelStatusData{
		Channel: c.Name,
		Status:  c.Members(),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerEvent{Event: EventChannelStatus, Data: data})
}

// EncodeMessage encodes a message push for a channel
func EncodeMessage(channel ChannelName, msg Message) ([]byte, error) {
	data, err := json.Marshal(MessageData{
		Channel: channel,
		Message: WireMessage{
			User:    msg.Author,
			Content: msg.Content,
			Time:    msg.SentAt.UnixMilli(),
		},
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerEvent{Event: EventMessage, Data: data})
}

// EncodeAuthenticated encodes the payload-less authenticated push
func EncodeAuthenticated() ([]byte, error) {
	return json.Marshal(ServerEvent{Event: EventAuthenticated})
}

// EncodeUserMessage encodes a client post request
func EncodeUserMessage(channel ChannelName, content string) ([]byte, error) {
	return json.Marshal(UserMessage{ChannelName: channel, Content: content})
}

// EncodeAuthRequest encodes an authenticate request body
func EncodeAuthRequest(req AuthRequest) ([]byte, error) {
	return json.Marshal(req)
}

// ===== DECODING (client side) =====

// Inbound is a decoded server push. Exactly one of the variant structs
// below implements it per event name.
type Inbound interface {
	inbound()
}

// ChannelStatusEvent replaces a channel's active set
type ChannelStatusEvent struct {
	Channel ChannelName
	Status  []Address
}

// MessageEvent appends one committed message
type MessageEvent struct {
	Channel ChannelName
	Message Message
}

// AuthenticatedEvent confirms the session is authenticated
type AuthenticatedEvent struct{}

func (ChannelStatusEvent) inbound() {}
func (MessageEvent) inbound()       {}
func (AuthenticatedEvent) inbound() {}

// DecodeServerEvent decodes a server push into its typed event. An
// unknown event name is a decode failure, never a fallback action.
func DecodeServerEvent(payload []byte) (Inbound, error) {
	var env ServerEvent
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed server event: %w", err)
	}

	switch env.Event {
	case EventChannelStatus:
		var data ChannelStatusData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("malformed %s data: %w", env.Event, err)
		}
		if data.Channel == "" {
			return nil, fmt.Errorf("%s: empty channel name", env.Event)
		}
		return ChannelStatusEvent{Channel: data.Channel, Status: data.Status}, nil

	case EventMessage:
		var data MessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("malformed %s data: %w", env.Event, err)
		}
		if data.Channel == "" {
			return nil, fmt.Errorf("%s: empty channel name", env.Event)
		}
		return MessageEvent{
			Channel: data.Channel,
			Message: Message{
				Author:  data.Message.User,
				Content: data.Message.Content,
				SentAt:  time.UnixMilli(data.Message.Time),
			},
		}, nil

	case EventAuthenticated:
		return AuthenticatedEvent{}, nil

	default:
		return nil, fmt.Errorf("unknown server event %q", env.Event)
	}
}

// DecodeUserMessage decodes a client post request
func DecodeUserMessage(body []byte) (UserMessage, error) {
	var msg UserMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return UserMessage{}, fmt.Errorf("malformed user message: %w", err)
	}
	return msg, nil
}

// DecodeAuthRequest decodes an authenticate request body
func DecodeAuthRequest(body []byte) (AuthRequest, error) {
	var req AuthRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return AuthRequest{}, fmt.Errorf("malformed auth request: %w", err)
	}
	switch req.Event {
	case AuthEventLogin, AuthEventSignUp:
		return req, nil
	default:
		return AuthRequest{}, fmt.Errorf("unknown auth event %q", req.Event)
	}
}
