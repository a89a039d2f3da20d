package httpapi

import "github.com/gin-gonic/gin"

// NewRouter wires the notification endpoints onto a gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.HealthCheck)

	api := router.Group("/api/notifications")
	{
		api.GET("/channel/status", h.ChannelStatus)
		api.GET("/channel/status/stream", h.ChannelStatusStream)
		api.POST("/channel/start-pairing", h.StartPairing)
		api.POST("/channel/disconnect", h.Disconnect)

		api.POST("/send-test", h.SendTest)
		api.POST("/send-batch", h.SendBatch)
		api.POST("/mark-sent/:appointmentId", h.MarkSent)

		api.POST("/manual-batch", h.PrepareManualBatch)
		api.GET("/manual-batch/current", h.ManualBatchCurrent)
		api.POST("/manual-batch/advance", h.ManualBatchAdvance)
	}

	return router
}
