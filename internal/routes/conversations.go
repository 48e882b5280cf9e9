package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/handlers"
	"github.com/abuccarelli/Unicorn1/internal/middleware"
)

func RegisterConversationRoutes(r gin.IRouter) {
	conversations := r.Group("/conversations")
	{
		conversations.GET("/:id/messages", handlers.GetMessages)
		conversations.POST("/:id/messages", middleware.MessageRateLimit(), middleware.UploadRateLimit(), handlers.SendMessage)
		conversations.GET("/:id/typing", handlers.GetTyping)
		conversations.POST("/:id/typing", handlers.SetTyping)
	}
}
