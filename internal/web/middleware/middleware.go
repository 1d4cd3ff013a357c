package middleware

import (
	"log/slog"
	"time"

	"buildingops/internal/utils"

	"github.com/gin-gonic/gin"
)

// TokenValidator resolves a bearer token to its subject
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// RequestRecorder counts served requests
type RequestRecorder interface {
	Request(route, method string, status int)
}

type MiddlewareManager struct {
	auth     TokenValidator
	recorder RequestRecorder
	logger   *slog.Logger
}

// NewMiddlewareManager builds the shared middleware. recorder may be nil.
func NewMiddlewareManager(auth TokenValidator, recorder RequestRecorder, logger *slog.Logger) *MiddlewareManager {
	return &MiddlewareManager{
		auth:     auth,
		recorder: recorder,
		logger:   utils.Component(logger, "web"),
	}
}

// RequestLog logs every request once it completes and feeds the recorder.
func (m *MiddlewareManager) RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if m.recorder != nil {
			m.recorder.Request(c.FullPath(), c.Request.Method, status)
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		m.logger.Log(c.Request.Context(), level, "WEB: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"user_id", c.GetString("user_id"))
	}
}
