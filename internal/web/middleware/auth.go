package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.auth.ValidateToken(c.GetHeader("Authorization"))
		if err != nil {
			m.logger.Debug("WEB: authentication failed", "path", c.Request.URL.Path, "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("user_id", userID)

		c.Next()
	}
}
