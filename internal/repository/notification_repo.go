package repository

import (
	"context"
	"strconv"
	"time"

	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db     *gorm.DB
	broker *realtime.Broker
}

func NewNotificationRepository(db *gorm.DB, broker *realtime.Broker) *NotificationRepository {
	return &NotificationRepository{db: db, broker: broker}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return err
	}
	r.publish(realtime.RowInserted, n)
	return nil
}

// ListRecent returns the newest `limit` notifications, newest first. Unread
// accounting upstream is deliberately bounded to this window.
func (r *NotificationRepository) ListRecent(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uint) error {
	var n models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return err
	}
	if n.ReadAt != nil {
		return nil
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).Update("read_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		n.ReadAt = &now
		r.publish(realtime.RowUpdated, &n)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uint) error {
	var unread []models.Notification
	if err := r.db.WithContext(ctx).Where("user_id = ? AND read_at IS NULL", userID).Find(&unread).Error; err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).Update("read_at", now).Error
	if err != nil {
		return err
	}
	for i := range unread {
		unread[i].ReadAt = &now
		r.publish(realtime.RowUpdated, &unread[i])
	}
	return nil
}

func (r *NotificationRepository) publish(typ realtime.EventType, n *models.Notification) {
	if r.broker == nil {
		return
	}
	keys := map[string]string{
		"id":      strconv.FormatUint(uint64(n.ID), 10),
		"user_id": strconv.FormatUint(uint64(n.UserID), 10),
	}
	row := *n
	if typ == realtime.RowInserted {
		r.broker.PublishInsert(models.Notification{}.TableName(), row, keys)
	} else {
		r.broker.PublishUpdate(models.Notification{}.TableName(), row, keys)
	}
}

// CreateReward persists a reward notification and emits its insert event.
func (r *NotificationRepository) CreateReward(ctx context.Context, n *models.RewardNotification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return err
	}
	r.publishReward(realtime.RowInserted, n)
	return nil
}

// ListUnreadRewards returns unread rewards oldest first, the presentation
// order of the blocking queue.
func (r *NotificationRepository) ListUnreadRewards(ctx context.Context, userID uint) ([]models.RewardNotification, error) {
	var list []models.RewardNotification
	err := r.db.WithContext(ctx).Where("user_id = ? AND read_at IS NULL", userID).
		Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *NotificationRepository) MarkRewardRead(ctx context.Context, id, userID uint) error {
	var n models.RewardNotification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return err
	}
	if n.ReadAt != nil {
		return nil
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.RewardNotification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).Update("read_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		n.ReadAt = &now
		r.publishReward(realtime.RowUpdated, &n)
	}
	return nil
}

func (r *NotificationRepository) publishReward(typ realtime.EventType, n *models.RewardNotification) {
	if r.broker == nil {
		return
	}
	keys := map[string]string{
		"id":      strconv.FormatUint(uint64(n.ID), 10),
		"user_id": strconv.FormatUint(uint64(n.UserID), 10),
	}
	row := *n
	if typ == realtime.RowInserted {
		r.broker.PublishInsert(models.RewardNotification{}.TableName(), row, keys)
	} else {
		r.broker.PublishUpdate(models.RewardNotification{}.TableName(), row, keys)
	}
}
