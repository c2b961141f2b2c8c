// Package history stores delivered chat messages for a bounded retention
// window and serves them back to clients.
package history

import (
	"time"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

// MessageModel is the GORM model for the chat_messages table.
type MessageModel struct {
	ID                string    `gorm:"type:varchar(26);primaryKey"`
	Conversation      string    `gorm:"type:varchar(80);not null;index:idx_conversation_created,priority:1"`
	Kind              string    `gorm:"type:varchar(16);not null"`
	SenderIdentity    string    `gorm:"type:varchar(32);not null"`
	SenderDisplayName string    `gorm:"type:varchar(100)"`
	RecipientIdentity string    `gorm:"type:varchar(32)"`
	Body              string    `gorm:"type:text;not null"`
	CreatedAt         time.Time `gorm:"not null;index:idx_conversation_created,priority:2"`
	ExpiresAt         time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string {
	return "chat_messages"
}

func (m *MessageModel) ToDomain() domain.Message {
	return domain.Message{
		ID:                m.ID,
		Kind:              domain.Kind(m.Kind),
		SenderIdentity:    m.SenderIdentity,
		SenderDisplayName: m.SenderDisplayName,
		RecipientIdentity: m.RecipientIdentity,
		Body:              m.Body,
		Timestamp:         m.CreatedAt.UTC(),
	}
}

func MessageToModel(msg domain.Message, expiresAt time.Time) *MessageModel {
	return &MessageModel{
		ID:                msg.ID,
		Conversation:      msg.Conversation(),
		Kind:              string(msg.Kind),
		SenderIdentity:    msg.SenderIdentity,
		SenderDisplayName: msg.SenderDisplayName,
		RecipientIdentity: msg.RecipientIdentity,
		Body:              msg.Body,
		CreatedAt:         msg.Timestamp.UTC(),
		ExpiresAt:         expiresAt.UTC(),
	}
}

// reverse flips newest-first rows into oldest-first order in place.
func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
