package service

import (
	"context"
	"encoding/json"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/repository"
)

type NotificationService struct {
	repo *repository.NotificationRepository
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// Notify persists a notification row; the repository re-emits it as an
// insert event, which the user's dispatcher picks up for delivery.
func (s *NotificationService) Notify(ctx context.Context, userID uint, notifType, title, body string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	return s.repo.Create(ctx, &models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
		Data:   dataJSON,
	})
}

func (s *NotificationService) NotifyJudgeAssigned(ctx context.Context, playerID uint, judgeName string, questionID, conversationID uint) error {
	return s.Notify(ctx, playerID, domain.NotifJudgeAssigned, "Judge assigned",
		judgeName+" took your question", map[string]interface{}{"question_id": questionID, "conversation_id": conversationID})
}

func (s *NotificationService) NotifyNewAnswer(ctx context.Context, playerID uint, judgeName string, conversationID uint) error {
	return s.Notify(ctx, playerID, domain.NotifNewAnswer, "New answer",
		judgeName+" replied to your question", map[string]interface{}{"conversation_id": conversationID})
}

func (s *NotificationService) NotifyCompleted(ctx context.Context, userID uint, conversationID uint) error {
	return s.Notify(ctx, userID, domain.NotifCompleted, "Conversation completed",
		"This rules question has been resolved", map[string]interface{}{"conversation_id": conversationID})
}

func (s *NotificationService) NotifyRating(ctx context.Context, judgeID uint, playerName string, rating int, conversationID uint) error {
	return s.Notify(ctx, judgeID, domain.NotifRating, "You got rated",
		playerName+" rated your answer", map[string]interface{}{"conversation_id": conversationID, "rating": rating})
}

func (s *NotificationService) NotifyAvailability(ctx context.Context, userID uint, judgeName string, judgeID uint) error {
	return s.Notify(ctx, userID, domain.NotifAvailability, "Judge available",
		judgeName+" is now taking questions", map[string]interface{}{"judge_id": judgeID})
}
