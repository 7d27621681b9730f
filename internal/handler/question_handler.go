package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/middleware"
	"judgeconnect/internal/models"
	"judgeconnect/internal/repository"
	"judgeconnect/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type QuestionHandler struct {
	questions     *repository.QuestionRepository
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	users         *repository.UserRepository
	notifs        *service.NotificationService
}

func NewQuestionHandler(questions *repository.QuestionRepository, conversations *repository.ConversationRepository, messages *repository.MessageRepository, users *repository.UserRepository, notifs *service.NotificationService) *QuestionHandler {
	return &QuestionHandler{
		questions:     questions,
		conversations: conversations,
		messages:      messages,
		users:         users,
		notifs:        notifs,
	}
}

type createQuestionRequest struct {
	Title    string `json:"title" binding:"required,max=255"`
	Body     string `json:"body" binding:"required"`
	CardName string `json:"card_name"`
}

func (h *QuestionHandler) Create(c *gin.Context) {
	var req createQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := &models.Question{
		AuthorID: middleware.GetUserID(c),
		Title:    req.Title,
		Body:     req.Body,
		CardName: req.CardName,
		Status:   domain.QuestionOpen,
	}
	if err := h.questions.Create(c.Request.Context(), q); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create question"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"question": q})
}

func (h *QuestionHandler) ListOpen(c *gin.Context) {
	limit, offset := pagination(c)
	questions, err := h.questions.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list questions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *QuestionHandler) ListMine(c *gin.Context) {
	limit, offset := pagination(c)
	questions, err := h.questions.ListByAuthor(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list questions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *QuestionHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	q, err := h.questions.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": q})
}

// Assign lets a judge claim an open question. The claim is guarded at the
// database level, so two judges racing for the same question resolve to
// exactly one winner; the loser gets a 409. The winner gets a fresh
// conversation seeded with a system message, and the player is notified.
func (h *QuestionHandler) Assign(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	judgeID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	q, err := h.questions.GetByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	}
	if q.AuthorID == judgeID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot take your own question"})
		return
	}
	if err := h.questions.Assign(ctx, id, judgeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "question already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign question"})
		return
	}

	now := time.Now()
	conv := &models.Conversation{
		QuestionID:    id,
		PlayerID:      q.AuthorID,
		JudgeID:       judgeID,
		Status:        domain.ConversationActive,
		StartedAt:     now,
		LastMessageAt: now,
	}
	if err := h.conversations.Create(ctx, conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open conversation"})
		return
	}

	judge, err := h.users.GetByID(ctx, judgeID)
	judgeName := "A judge"
	if err == nil {
		judgeName = judge.Username
	}
	system := &models.Message{
		ConversationID: conv.ID,
		SenderID:       judgeID,
		Content:        judgeName + " has taken your question.",
		Type:           domain.MessageSystem,
		CreatedAt:      now,
	}
	if err := h.messages.Create(ctx, system); err != nil {
		log.Printf("[Question] system message: %v", err)
	}
	if err := h.notifs.NotifyJudgeAssigned(ctx, q.AuthorID, judgeName, q.ID, conv.ID); err != nil {
		log.Printf("[Question] assign notify: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"question": q, "conversation": conv})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}
