package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/realtime"
)

// GetPresence GET /presence
func GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self":  gin.H{"userId": Agent.UserID, "status": Agent.Presence.Status("")},
		"users": Agent.Presence.Snapshot(),
	})
}

// GetUserPresence GET /presence/:userId
func GetUserPresence(c *gin.Context) {
	userID := c.Param("userId")
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"status": Agent.Presence.Status(userID),
	})
}

// UpdatePresenceStatus PUT /presence/status
func UpdatePresenceStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	status := realtime.PresenceStatus(body.Status)
	switch status {
	case realtime.StatusOnline, realtime.StatusBusy:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be online or busy"})
		return
	}

	Agent.Presence.UpdateStatus(c.Request.Context(), status)
	c.JSON(http.StatusOK, gin.H{"status": status})
}
