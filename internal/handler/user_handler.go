package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"judgeconnect/internal/middleware"
	"judgeconnect/internal/repository"
	"judgeconnect/internal/service"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	users     *repository.UserRepository
	questions *repository.QuestionRepository
	notifs    *service.NotificationService
}

func NewUserHandler(users *repository.UserRepository, questions *repository.QuestionRepository, notifs *service.NotificationService) *UserHandler {
	return &UserHandler{users: users, questions: questions, notifs: notifs}
}

func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type fcmTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *UserHandler) RegisterFCMToken(c *gin.Context) {
	var req fcmTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.UpdateFCMToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// SetAvailability toggles a judge's availability. Going available notifies
// authors of currently open questions so they know help is around.
func (h *UserHandler) SetAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.GetUserID(c)
	if err := h.users.SetAvailability(c.Request.Context(), userID, *req.Available); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update availability"})
		return
	}
	if *req.Available {
		go h.announceAvailability(userID)
	}
	c.JSON(http.StatusOK, gin.H{"available": *req.Available})
}

func (h *UserHandler) announceAvailability(judgeID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	judge, err := h.users.GetByID(ctx, judgeID)
	if err != nil {
		return
	}
	open, err := h.questions.ListOpen(ctx, 20, 0)
	if err != nil {
		log.Printf("[User] list open questions: %v", err)
		return
	}
	seen := make(map[uint]bool)
	for _, q := range open {
		if q.AuthorID == judgeID || seen[q.AuthorID] {
			continue
		}
		seen[q.AuthorID] = true
		if err := h.notifs.NotifyAvailability(ctx, q.AuthorID, judge.Username, judgeID); err != nil {
			log.Printf("[User] availability notify %d: %v", q.AuthorID, err)
		}
	}
}
