package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/abuccarelli/Unicorn1/internal/handlers"
)

func RegisterPresenceRoutes(r gin.IRouter) {
	presence := r.Group("/presence")
	{
		presence.GET("", handlers.GetPresence)
		presence.GET("/:userId", handlers.GetUserPresence)
		presence.PUT("/status", handlers.UpdatePresenceStatus)
	}
}
