package models

import (
	"time"

	"gorm.io/gorm"
)

type Question struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	AuthorID      uint           `gorm:"not null;index" json:"author_id"`
	Title         string         `gorm:"size:255;not null" json:"title"`
	Body          string         `gorm:"type:text" json:"body"`
	CardName      string         `gorm:"size:255" json:"card_name"`
	Status        string         `gorm:"size:20;not null;index" json:"status"` // OPEN | ASSIGNED | ANSWERED | CLOSED
	JudgeID       *uint          `gorm:"index" json:"judge_id"`
	AssignedAt    *time.Time     `json:"assigned_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Author User  `gorm:"foreignKey:AuthorID" json:"-"`
	Judge  *User `gorm:"foreignKey:JudgeID" json:"-"`
}

func (Question) TableName() string {
	return "questions"
}
