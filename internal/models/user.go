package models

import (
	"time"

	"judgeconnect/internal/domain"

	"gorm.io/gorm"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	Role         string         `gorm:"size:20;not null;index" json:"role"` // PLAYER | JUDGE | ADMIN
	JudgeLevel   int            `gorm:"default:0" json:"judge_level"`       // 0 for players
	Points       int            `gorm:"default:0" json:"points"`
	AvatarURL    string         `gorm:"size:512" json:"avatar_url"`
	Available    bool           `gorm:"default:false;index" json:"available"` // judge accepting questions
	FCMToken     string         `gorm:"size:512" json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) IsJudge() bool  { return u.Role == domain.RoleJudge }
func (u *User) IsPlayer() bool { return u.Role == domain.RolePlayer }

func (User) TableName() string {
	return "users"
}
