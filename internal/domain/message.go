package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// MaxMessageLength is the maximum body length in characters.
const MaxMessageLength = 1000

// GlobalConversation is the conversation key of the broadcast room.
const GlobalConversation = "global"

var (
	ErrEmptyIdentity    = errors.New("identity is required")
	ErrEmptyDisplayName = errors.New("display name is required")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrEmptyRecipient   = errors.New("recipient identity is required")
)

// Kind distinguishes broadcast from point-to-point messages.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindPrivate Kind = "private"
)

// Message is a chat message as delivered to clients and stored in history.
// Body is serialized as "message" to match the wire payloads.
type Message struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	SenderIdentity    string    `json:"senderIdentity"`
	SenderDisplayName string    `json:"senderDisplayName"`
	RecipientIdentity string    `json:"recipientIdentity,omitempty"`
	Body              string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewGlobalMessage stamps a broadcast message with an id and timestamp.
func NewGlobalMessage(sender, displayName, body string, at time.Time) Message {
	return Message{
		ID:                NewMessageID(at),
		Kind:              KindGlobal,
		SenderIdentity:    sender,
		SenderDisplayName: displayName,
		Body:              body,
		Timestamp:         at.UTC(),
	}
}

// NewPrivateMessage stamps a point-to-point message with an id and timestamp.
func NewPrivateMessage(sender, displayName, recipient, body string, at time.Time) Message {
	m := NewGlobalMessage(sender, displayName, body, at)
	m.Kind = KindPrivate
	m.RecipientIdentity = recipient
	return m
}

// Conversation returns the key grouping this message with its history.
func (m Message) Conversation() string {
	if m.Kind == KindPrivate {
		return ConversationKey(m.SenderIdentity, m.RecipientIdentity)
	}
	return GlobalConversation
}

// Peer returns the other party of a private message as seen by self.
func (m Message) Peer(self string) string {
	if m.SenderIdentity == self {
		return m.RecipientIdentity
	}
	return m.SenderIdentity
}

// Before orders messages by timestamp, then id.
func (m Message) Before(o Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ID < o.ID
}

// ConversationKey is symmetric in a and b.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// NewMessageID returns a ULID for t, so ids sort in creation order.
func NewMessageID(t time.Time) string {
	return ulid.MustNewDefault(t).String()
}

// NormalizeIdentity canonicalizes a student identifier (USN).
func NormalizeIdentity(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateBody returns the trimmed body, or an error when it is blank or
// longer than MaxMessageLength characters.
func ValidateBody(body string) (string, error) {
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	return trimmed, nil
}
