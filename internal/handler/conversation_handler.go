package handler

import (
	"log"
	"net/http"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/middleware"
	"judgeconnect/internal/models"
	"judgeconnect/internal/repository"
	"judgeconnect/internal/service"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	questions     *repository.QuestionRepository
	users         *repository.UserRepository
	notifs        *service.NotificationService
	rewards       *service.RewardService
}

func NewConversationHandler(conversations *repository.ConversationRepository, messages *repository.MessageRepository, questions *repository.QuestionRepository, users *repository.UserRepository, notifs *service.NotificationService, rewards *service.RewardService) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		questions:     questions,
		users:         users,
		notifs:        notifs,
		rewards:       rewards,
	}
}

func (h *ConversationHandler) ListMine(c *gin.Context) {
	limit, offset := pagination(c)
	convs, err := h.conversations.ListByUser(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Get returns the conversation and its full message history, the same bulk
// load the WebSocket path performs on open.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	msgs, err := h.messages.ListByConversation(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

// Complete ends an active conversation. Only the player can complete; the
// judge is rewarded and both sides notified.
func (h *ConversationHandler) Complete(c *gin.Context) {
	conv, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)
	if userID != conv.PlayerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the player can complete"})
		return
	}
	if !conv.CanTransitionTo(domain.ConversationEnded) {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
		return
	}
	ctx := c.Request.Context()
	now := time.Now()
	if err := h.conversations.SetStatus(ctx, conv, domain.ConversationEnded, &now); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
		return
	}
	if err := h.questions.UpdateStatus(ctx, conv.QuestionID, domain.QuestionAnswered); err != nil {
		log.Printf("[Conversation] question status: %v", err)
	}
	if err := h.notifs.NotifyCompleted(ctx, conv.JudgeID, conv.ID); err != nil {
		log.Printf("[Conversation] complete notify: %v", err)
	}
	if err := h.rewards.AwardCompletion(ctx, conv.JudgeID, conv.ID); err != nil {
		log.Printf("[Conversation] reward: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// Dispute flags an active conversation for admin review.
func (h *ConversationHandler) Dispute(c *gin.Context) {
	conv, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	if !conv.CanTransitionTo(domain.ConversationDisputed) {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
		return
	}
	now := time.Now()
	if err := h.conversations.SetStatus(c.Request.Context(), conv, domain.ConversationDisputed, &now); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

type rateRequest struct {
	Rating int `json:"rating" binding:"required,min=1,max=5"`
}

// Rate lets the player rate an ended conversation once.
func (h *ConversationHandler) Rate(c *gin.Context) {
	conv, ok := h.loadParticipant(c)
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)
	if userID != conv.PlayerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the player can rate"})
		return
	}
	if conv.Status != domain.ConversationEnded {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not ended"})
		return
	}
	if conv.Rating != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "already rated"})
		return
	}
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.conversations.SetRating(ctx, conv.ID, req.Rating); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save rating"})
		return
	}
	player, err := h.users.GetByID(ctx, userID)
	playerName := "The player"
	if err == nil {
		playerName = player.Username
	}
	if err := h.notifs.NotifyRating(ctx, conv.JudgeID, playerName, req.Rating, conv.ID); err != nil {
		log.Printf("[Conversation] rating notify: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"rating": req.Rating})
}

func (h *ConversationHandler) loadParticipant(c *gin.Context) (*models.Conversation, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, false
	}
	conv, err := h.conversations.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	if !conv.HasParticipant(middleware.GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not part of this conversation"})
		return nil, false
	}
	return conv, true
}
