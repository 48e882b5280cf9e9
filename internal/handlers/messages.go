package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/utils"
)

// GetMessages GET /conversations/:id/messages
func GetMessages(c *gin.Context) {
	conversationID := c.Param("id")

	conv, err := Agent.Conversation(c.Request.Context(), conversationID)
	if err != nil {
		logger.Error().Err(err).Str("conversation", conversationID).Msg("Failed to open conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}

	state, _ := conv.State()
	c.JSON(http.StatusOK, gin.H{
		"messages": conv.Messages(),
		"state":    state.String(),
		"pending":  conv.Pending(),
	})
}

// SendMessage POST /conversations/:id/messages
// Multipart form: content plus zero or more files.
func SendMessage(c *gin.Context) {
	conversationID := c.Param("id")

	conv, err := Agent.Conversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open conversation"})
		return
	}

	content := c.PostForm("content")
	if content != "" {
		sanitized, err := utils.SanitizeMessageContent(content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		content = sanitized
	}

	var uploads []realtime.Upload
	form, err := c.MultipartForm()
	if err == nil && form != nil {
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable upload: " + fh.Filename})
				return
			}
			defer f.Close()
			uploads = append(uploads, realtime.Upload{
				FileName: fh.Filename,
				FileType: fh.Header.Get("Content-Type"),
				FileSize: fh.Size,
				Content:  f,
			})
		}
	}

	if err := conv.Send(c.Request.Context(), content, uploads); err != nil {
		switch {
		case errors.Is(err, realtime.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		case errors.Is(err, realtime.ErrConversationClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "Conversation is closed"})
		default:
			logger.Error().Err(err).Str("conversation", conversationID).Msg("Send failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		}
		return
	}

	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == Agent.UserID {
			c.JSON(http.StatusCreated, gin.H{"message": msgs[i]})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{})
}
