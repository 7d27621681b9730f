package repository

import (
	"context"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

func (r *QuestionRepository) Create(ctx context.Context, q *models.Question) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *QuestionRepository) GetByID(ctx context.Context, id uint) (*models.Question, error) {
	var q models.Question
	if err := r.db.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuestionRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Question, error) {
	var list []models.Question
	err := r.db.WithContext(ctx).Where("status = ?", domain.QuestionOpen).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

func (r *QuestionRepository) ListByAuthor(ctx context.Context, authorID uint, limit, offset int) ([]models.Question, error) {
	var list []models.Question
	err := r.db.WithContext(ctx).Where("author_id = ?", authorID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

// Assign moves an OPEN question to ASSIGNED with the given judge. The status
// guard in the WHERE clause makes concurrent claims lose cleanly.
func (r *QuestionRepository) Assign(ctx context.Context, questionID, judgeID uint) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Question{}).
		Where("id = ? AND status = ?", questionID, domain.QuestionOpen).
		Updates(map[string]interface{}{
			"status":      domain.QuestionAssigned,
			"judge_id":    judgeID,
			"assigned_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *QuestionRepository) UpdateStatus(ctx context.Context, questionID uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.Question{}).
		Where("id = ?", questionID).Update("status", status).Error
}
