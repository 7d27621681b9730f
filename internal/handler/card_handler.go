package handler

import (
	"net/http"
	"strconv"

	"judgeconnect/pkg/cards"

	"github.com/gin-gonic/gin"
)

type CardHandler struct {
	cards *cards.Client
}

func NewCardHandler(client *cards.Client) *CardHandler {
	return &CardHandler{cards: client}
}

// Search proxies card lookups so clients can attach card references while
// composing a question or message.
func (h *CardHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 25 {
		limit = 10
	}
	results, err := h.cards.Search(c.Request.Context(), query, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "card lookup unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": results})
}
