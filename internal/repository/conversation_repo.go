package repository

import (
	"context"
	"strconv"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"gorm.io/gorm"
)

type ConversationRepository struct {
	db     *gorm.DB
	broker *realtime.Broker
}

func NewConversationRepository(db *gorm.DB, broker *realtime.Broker) *ConversationRepository {
	return &ConversationRepository{db: db, broker: broker}
}

func (r *ConversationRepository) Create(ctx context.Context, c *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return err
	}
	r.publish(realtime.RowInserted, c)
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) GetByQuestionID(ctx context.Context, questionID uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.WithContext(ctx).Where("question_id = ?", questionID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Conversation, error) {
	var list []models.Conversation
	err := r.db.WithContext(ctx).Where("player_id = ? OR judge_id = ?", userID, userID).
		Order("last_message_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

// SetStatus persists a monotonic status transition. The ACTIVE guard in the
// WHERE clause rejects transitions out of a terminal state.
func (r *ConversationRepository) SetStatus(ctx context.Context, c *models.Conversation, status string, endedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if endedAt != nil {
		updates["ended_at"] = *endedAt
	}
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status = ?", c.ID, domain.ConversationActive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	c.Status = status
	c.EndedAt = endedAt
	r.publish(realtime.RowUpdated, c)
	return nil
}

func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Update("last_message_at", at).Error
}

func (r *ConversationRepository) SetRating(ctx context.Context, id uint, rating int) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).Update("rating", rating).Error
}

func (r *ConversationRepository) publish(typ realtime.EventType, c *models.Conversation) {
	if r.broker == nil {
		return
	}
	keys := map[string]string{
		"id":          strconv.FormatUint(uint64(c.ID), 10),
		"question_id": strconv.FormatUint(uint64(c.QuestionID), 10),
		"player_id":   strconv.FormatUint(uint64(c.PlayerID), 10),
		"judge_id":    strconv.FormatUint(uint64(c.JudgeID), 10),
	}
	row := *c
	if typ == realtime.RowInserted {
		r.broker.PublishInsert(models.Conversation{}.TableName(), row, keys)
	} else {
		r.broker.PublishUpdate(models.Conversation{}.TableName(), row, keys)
	}
}
