package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// GetNotifications GET /notifications
func GetNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": Agent.Feed.Items()})
}

// GetUnreadCount GET /notifications/unread-count
func GetUnreadCount(c *gin.Context) {
	total, unread := Agent.Feed.Counts()
	c.JSON(http.StatusOK, gin.H{"total": total, "unread": unread})
}

// MarkNotificationRead PUT /notifications/:id/read
func MarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if err := Agent.Feed.MarkRead(c.Request.Context(), id); err != nil {
		logger.Error().Err(err).Str("notification", id).Msg("Failed to mark notification read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}

// MarkAllNotificationsRead PUT /notifications/read-all
func MarkAllNotificationsRead(c *gin.Context) {
	if err := Agent.Feed.MarkAllRead(c.Request.Context()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark all notifications read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark all as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All marked as read"})
}

// RefreshNotifications POST /notifications/refresh
func RefreshNotifications(c *gin.Context) {
	if err := Agent.Feed.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": Agent.Feed.Items()})
}
