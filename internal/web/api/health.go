package api

import (
	"net/http"

	webModels "buildingops/internal/web/models"

	"github.com/gin-gonic/gin"
)

// Transport reports broker connectivity
type Transport interface {
	IsConnected() bool
}

// Observers reports how many websocket observers are attached
type Observers interface {
	Count() int
}

// RegisterHealthRoutes mounts /healthz and, when metrics is non-nil, /metrics.
// A disconnected broker degrades the service but does not fail the check.
func RegisterHealthRoutes(r *gin.Engine, transport Transport, observers Observers, metrics http.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		resp := webModels.HealthResponse{Status: "ok"}
		if transport != nil {
			resp.MQTTConnected = transport.IsConnected()
		}
		if !resp.MQTTConnected {
			resp.Status = "degraded"
		}
		if observers != nil {
			resp.Observers = observers.Count()
		}
		c.JSON(http.StatusOK, resp)
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
