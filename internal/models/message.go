package models

import (
	"time"

	"gorm.io/gorm"
)

type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint           `gorm:"not null;index" json:"sender_id"`
	Content        string         `gorm:"type:text" json:"content"`
	CardData       string         `gorm:"type:text" json:"card_data"`          // JSON card summary, optional
	Type           string         `gorm:"size:20;not null" json:"type"`        // TEXT | IMAGE | SYSTEM
	ClientKey      string         `gorm:"size:64;index" json:"client_key"`     // client-generated, echoed for reconciliation
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	ReadAt         *time.Time     `json:"read_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Local-only delivery state for optimistic entries, never persisted.
	Pending bool `gorm:"-" json:"pending,omitempty"`
	Failed  bool `gorm:"-" json:"failed,omitempty"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	Sender       User         `gorm:"foreignKey:SenderID" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// Before reports whether m sorts ahead of other: creation time, ties broken
// by identifier so the order is total.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
