package models

import (
	"time"

	"judgeconnect/internal/domain"

	"gorm.io/gorm"
)

// Conversation is one chat session between a player and a judge, tied to a
// single question (unique index: at most one conversation per question).
type Conversation struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	QuestionID    uint           `gorm:"uniqueIndex;not null" json:"question_id"`
	PlayerID      uint           `gorm:"not null;index" json:"player_id"`
	JudgeID       uint           `gorm:"not null;index" json:"judge_id"`
	Status        string         `gorm:"size:20;not null;index" json:"status"` // ACTIVE | ENDED | DISPUTED
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at"`
	LastMessageAt time.Time      `gorm:"index" json:"last_message_at"`
	Rating        *int           `json:"rating"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Question Question `gorm:"foreignKey:QuestionID" json:"-"`
	Player   User     `gorm:"foreignKey:PlayerID" json:"-"`
	Judge    User     `gorm:"foreignKey:JudgeID" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) HasParticipant(userID uint) bool {
	return userID == c.PlayerID || userID == c.JudgeID
}

// CanTransitionTo enforces monotonic status transitions: ACTIVE may end or
// dispute, terminal states never revert.
func (c *Conversation) CanTransitionTo(status string) bool {
	if c.Status != domain.ConversationActive {
		return false
	}
	return status == domain.ConversationEnded || status == domain.ConversationDisputed
}
