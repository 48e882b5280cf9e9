package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetTyping GET /conversations/:id/typing
func GetTyping(c *gin.Context) {
	name, ok := Agent.Typing.TypingUser(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"typing": ok,
		"name":   name,
	})
}

// SetTyping POST /conversations/:id/typing
func SetTyping(c *gin.Context) {
	var body struct {
		Typing bool `json:"typing"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	Agent.Typing.SetTyping(c.Request.Context(), c.Param("id"), body.Typing)
	c.JSON(http.StatusOK, gin.H{"typing": body.Typing})
}
