package repository

import (
	"context"
	"strconv"
	"time"

	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db     *gorm.DB
	broker *realtime.Broker
}

func NewMessageRepository(db *gorm.DB, broker *realtime.Broker) *MessageRepository {
	return &MessageRepository{db: db, broker: broker}
}

// ListByConversation returns the full message history ordered by creation
// time (id breaks ties), the bulk load preceding live consumption.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var list []models.Message
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

// Create persists a message and re-emits it as a row-inserted event, which
// the sender's own synchronizer must reconcile without duplicating.
func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	r.publish(realtime.RowInserted, m)
	return nil
}

// MarkRead sets the read timestamp once; already-read messages are left
// untouched and produce no event.
func (r *MessageRepository) MarkRead(ctx context.Context, id uint, at time.Time) error {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return err
	}
	if m.ReadAt != nil {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND read_at IS NULL", id).Update("read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.ReadAt = &at
		r.publish(realtime.RowUpdated, &m)
	}
	return nil
}

func (r *MessageRepository) publish(typ realtime.EventType, m *models.Message) {
	if r.broker == nil {
		return
	}
	keys := map[string]string{
		"id":              strconv.FormatUint(uint64(m.ID), 10),
		"conversation_id": strconv.FormatUint(uint64(m.ConversationID), 10),
		"sender_id":       strconv.FormatUint(uint64(m.SenderID), 10),
	}
	row := *m
	row.Pending = false
	row.Failed = false
	if typ == realtime.RowInserted {
		r.broker.PublishInsert(models.Message{}.TableName(), row, keys)
	} else {
		r.broker.PublishUpdate(models.Message{}.TableName(), row, keys)
	}
}
