package handler

import (
	"errors"
	"net/http"
	"strconv"

	"judgeconnect/internal/middleware"
	"judgeconnect/internal/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationHandler is the REST view over the same rows the WebSocket
// dispatcher streams; useful for cold loads and clients without a socket.
type NotificationHandler struct {
	notifs *repository.NotificationRepository
	window int
}

func NewNotificationHandler(notifs *repository.NotificationRepository, window int) *NotificationHandler {
	if window <= 0 {
		window = 50
	}
	return &NotificationHandler{notifs: notifs, window: window}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.window)))
	if limit <= 0 || limit > h.window {
		limit = h.window
	}
	list, err := h.notifs.ListRecent(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead() {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	err := h.notifs.MarkRead(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked read"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.notifs.MarkAllRead(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark all read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all marked read"})
}

func (h *NotificationHandler) ListRewards(c *gin.Context) {
	list, err := h.notifs.ListUnreadRewards(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rewards"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": list})
}

func (h *NotificationHandler) AckReward(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	err := h.notifs.MarkRewardRead(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reward not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge reward"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "acknowledged"})
}
