package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/handlers"
)

func RegisterNotificationRoutes(r gin.IRouter) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", handlers.GetNotifications)
		notifications.GET("/unread-count", handlers.GetUnreadCount)
		notifications.PUT("/:id/read", handlers.MarkNotificationRead)
		notifications.PUT("/read-all", handlers.MarkAllNotificationsRead)
		notifications.POST("/refresh", handlers.RefreshNotifications)
	}
}
