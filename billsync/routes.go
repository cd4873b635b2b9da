package billsync

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/middlewares"
	"github.com/mmdatafocus/itembills_sync/utils"
)

// RegisterRoutes mounts the run API under /api/bill-sync and the Pub/Sub push
// endpoint. The push endpoint sits outside auth; Pub/Sub authenticates it at the
// subscription.
func RegisterRoutes(r gin.IRouter, h *Handlers, worker *Worker, jwtSecret []byte) {
	api := r.Group("/api/bill-sync", middlewares.AuthMiddleware(jwtSecret))
	api.GET("/runs", h.SyncHistoryHandler())
	api.GET("/runs/:id", h.SyncRunDetailHandler())
	api.GET("/runs/:id/report", h.ReportLinkHandler())

	write := api.Group("", middlewares.RequireRole(utils.RoleOperator))
	write.POST("/runs", h.TriggerSyncHandler())
	write.POST("/runs/:id/retry", h.RetrySyncRunHandler())

	r.POST("/pubsub/bill-sync", PubSubPushHandler(worker))
}
