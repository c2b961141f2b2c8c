package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server events.
const (
	EventJoin               = "join"
	EventSendGlobalMessage  = "send-global-message"
	EventSendPrivateMessage = "send-private-message"
	EventTypingGlobal       = "typing-global"
	EventTypingPrivate      = "typing-private"
	EventRequestOnlineUsers = "request-online-users"
)

// Server -> client events.
const (
	EventNewGlobalMessage  = "new-global-message"
	EventNewPrivateMessage = "new-private-message"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventOnlineUsersList   = "online-users-list"
	EventUserTypingGlobal  = "user-typing-global"
	EventUserTypingPrivate = "user-typing-private"
	EventSessionSuperseded = "session-superseded"
)

var ErrMissingEvent = errors.New("frame has no event name")

// Envelope frames every event on the wire: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an event frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses an inbound frame. The payload is left raw for the handler
// of the named event.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Client -> Server payloads

type JoinPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

type GlobalMessagePayload struct {
	Message string `json:"message"`
}

type PrivateMessagePayload struct {
	RecipientIdentity string `json:"recipientIdentity"`
	Message           string `json:"message"`
}

type TypingPrivatePayload struct {
	RecipientIdentity string `json:"recipientIdentity"`
}

// Server -> Client payloads

// OnlineUser is the public view of a presence entry.
type OnlineUser struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

type UserOnlinePayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	TotalOnline int    `json:"totalOnline"`
}

type UserOfflinePayload struct {
	Identity    string `json:"identity"`
	TotalOnline int    `json:"totalOnline"`
}

type OnlineUsersListPayload struct {
	Users []OnlineUser `json:"users"`
}

type TypingPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

type SupersededPayload struct {
	Identity string `json:"identity"`
}
