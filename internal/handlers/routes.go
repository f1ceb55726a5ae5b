package handlers

import "github.com/gin-gonic/gin"

func RegisterRoutes(router *gin.Engine, game *GameHandler, ws *WebSocketHandler) {
	api := router.Group("/api")
	{
		api.GET("/state", game.GetState)
		api.POST("/predict", game.Predict)
		api.POST("/flip", game.Flip)
		api.GET("/stats", game.GetStats)
		api.POST("/stats/reset", game.ResetStats)
		api.GET("/ws", ws.HandleWebSocket)
	}

	router.GET("/assets/:face", game.ServeAsset)
}
