package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(roomController *RoomController, allowOrigins []string) *gin.Engine {
	router := gin.Default()
	// Without configured origins only same-origin browsers are served.
	if len(allowOrigins) > 0 {
		router.Use(corsMiddleware(allowOrigins))
	}
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	if roomController != nil {
		api := router.Group("/api")
		rooms := api.Group("/rooms")
		rooms.GET("/:roomID", roomController.GetRoom)
		rooms.DELETE("/:roomID", roomController.DeleteRoom)
		rooms.GET("/:roomID/devices", roomController.ListDevices)
		rooms.GET("/:roomID/active-devices", roomController.ListActiveDevices)
		rooms.GET("/code/:code", roomController.GetRoomByCode)
		rooms.GET("/host/:hostID", roomController.ListRoomsByHost)

		router.GET("/ws", roomController.Connect)
	}

	return router
}

func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowOrigins = allowOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "DELETE", "HEAD", "OPTIONS"}
	return cors.New(config)
}
