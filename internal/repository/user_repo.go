package repository

import (
	"context"

	"judgeconnect/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdateFCMToken(ctx context.Context, userID uint, token string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", token).Error
}

func (r *UserRepository) SetAvailability(ctx context.Context, userID uint, available bool) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("available", available).Error
}

// AddPoints increments a judge's points and returns the new total.
func (r *UserRepository) AddPoints(ctx context.Context, userID uint, delta int) (int, error) {
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("points", gorm.Expr("points + ?", delta)).Error
	if err != nil {
		return 0, err
	}
	var u models.User
	if err := r.db.WithContext(ctx).Select("points").First(&u, userID).Error; err != nil {
		return 0, err
	}
	return u.Points, nil
}

func (r *UserRepository) SetJudgeLevel(ctx context.Context, userID uint, level int) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("judge_level", level).Error
}
