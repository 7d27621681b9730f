package service

import (
	"context"
	"fmt"
	"log"

	"judgeconnect/internal/models"
	"judgeconnect/internal/repository"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMService sends push notifications via Firebase Cloud Messaging.
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not
// configured; a nil service is safe to call and does nothing.
func NewFCMService(serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		log.Printf("[FCM] Failed to init Firebase app: %v", err)
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("[FCM] Failed to get Messaging client: %v", err)
		return nil
	}
	return &FCMService{client: client}
}

// Send sends a push notification to the given FCM token.
func (s *FCMService) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if s == nil || token == "" {
		return nil
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  data,
		Token: token,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
	_, err := s.client.Send(ctx, msg)
	if err != nil {
		log.Printf("[FCM] Send error: %v", err)
		return err
	}
	return nil
}

// FCMPusher adapts FCM to the dispatcher's push hook: a user with no
// registered token has not granted permission and is skipped.
type FCMPusher struct {
	fcm      *FCMService
	userRepo *repository.UserRepository
}

func NewFCMPusher(fcm *FCMService, userRepo *repository.UserRepository) *FCMPusher {
	return &FCMPusher{fcm: fcm, userRepo: userRepo}
}

func (p *FCMPusher) Push(ctx context.Context, userID uint, n models.Notification) error {
	if p.fcm == nil {
		return nil
	}
	u, err := p.userRepo.GetByID(ctx, userID)
	if err != nil || u.FCMToken == "" {
		return err
	}
	data := map[string]string{
		"type":            n.Type,
		"notification_id": fmt.Sprintf("%d", n.ID),
	}
	if n.Data != "" {
		data["payload"] = n.Data
	}
	return p.fcm.Send(ctx, u.FCMToken, n.Title, n.Body, data)
}
