package handler

import (
	"fmt"
	"net/http"
	"strings"

	"judgeconnect/internal/middleware"
	"judgeconnect/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxImageSize = 10 << 20 // 10 MB

type UploadHandler struct {
	images cloudinary.Client
}

func NewUploadHandler(images cloudinary.Client) *UploadHandler {
	return &UploadHandler{images: images}
}

// UploadImage accepts a multipart image and returns the delivery URLs. The
// client sends the returned URL as an image message over the chat socket.
func (h *UploadHandler) UploadImage(c *gin.Context) {
	if h.images == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image uploads are not configured"})
		return
	}
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	if header.Size > maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds 10MB"})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file must be an image"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}
	defer file.Close()

	publicID := fmt.Sprintf("chat/%d/%s", middleware.GetUserID(c), uuid.NewString())
	url, thumb, err := h.images.UploadImage(c.Request.Context(), file, "judgeconnect", publicID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "thumbnail_url": thumb})
}
