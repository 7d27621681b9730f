package service

import (
	"context"
	"encoding/json"
	"fmt"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/repository"
)

// RewardService emits gamification events as reward notifications. The point
// economy itself is simple on purpose; what matters is the notification
// stream it feeds.
type RewardService struct {
	notifRepo *repository.NotificationRepository
	userRepo  *repository.UserRepository
}

func NewRewardService(notifRepo *repository.NotificationRepository, userRepo *repository.UserRepository) *RewardService {
	return &RewardService{notifRepo: notifRepo, userRepo: userRepo}
}

// AwardCompletion grants the judge their completion points and any level-up
// that crosses a threshold.
func (s *RewardService) AwardCompletion(ctx context.Context, judgeID, conversationID uint) error {
	total, err := s.userRepo.AddPoints(ctx, judgeID, domain.PointsPerCompletion)
	if err != nil {
		return err
	}
	if err := s.emit(ctx, judgeID, domain.RewardPoints, domain.RarityCommon,
		fmt.Sprintf("+%d points", domain.PointsPerCompletion),
		"Question resolved. Keep judging!",
		map[string]interface{}{"conversation_id": conversationID, "points": total}); err != nil {
		return err
	}
	return s.maybeLevelUp(ctx, judgeID, total)
}

// AwardBadge grants a named badge.
func (s *RewardService) AwardBadge(ctx context.Context, userID uint, badge, rarity string) error {
	return s.emit(ctx, userID, domain.RewardBadge, rarity,
		"New badge: "+badge, "You earned the "+badge+" badge",
		map[string]interface{}{"badge": badge})
}

func (s *RewardService) maybeLevelUp(ctx context.Context, judgeID uint, totalPoints int) error {
	level := 0
	for i, threshold := range domain.LevelThresholds {
		if totalPoints >= threshold {
			level = i
		}
	}
	before := 0
	for i, threshold := range domain.LevelThresholds {
		if totalPoints-domain.PointsPerCompletion >= threshold {
			before = i
		}
	}
	if level == before {
		return nil
	}
	if err := s.userRepo.SetJudgeLevel(ctx, judgeID, level); err != nil {
		return err
	}
	rarity := domain.RarityRare
	if level >= len(domain.LevelThresholds)-1 {
		rarity = domain.RarityLegendary
	} else if level >= 3 {
		rarity = domain.RarityEpic
	}
	return s.emit(ctx, judgeID, domain.RewardLevelUp, rarity,
		fmt.Sprintf("Level %d!", level),
		fmt.Sprintf("You reached judge level %d", level),
		map[string]interface{}{"level": level})
}

func (s *RewardService) emit(ctx context.Context, userID uint, kind, rarity, title, body string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	return s.notifRepo.CreateReward(ctx, &models.RewardNotification{
		UserID: userID,
		Kind:   kind,
		Rarity: rarity,
		Title:  title,
		Body:   body,
		Data:   dataJSON,
	})
}
