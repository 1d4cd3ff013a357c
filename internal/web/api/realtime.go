package api

import (
	"net/http"

	"buildingops/internal/realtime"
	"buildingops/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRealtimeRoutes mounts the observer websocket. The token is read from
// ?token=, falling back to the Authorization header, and checked before the
// upgrade.
func RegisterRealtimeRoutes(r *gin.Engine, auth middleware.TokenValidator, hub *realtime.Hub) {
	r.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = c.GetHeader("Authorization")
		}
		subject, err := auth.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set("user_id", subject)
		hub.ServeWS(c.Writer, c.Request, subject)
	})
}
