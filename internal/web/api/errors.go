package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/models"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var execErr *automation.ExecutionError
	switch {
	case errors.As(err, &execErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": execErr.Error()})
	case errors.Is(err, models.ErrValidation), errors.Is(err, automation.ErrAutomationDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConflict), errors.Is(err, automation.ErrExecutionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("WEB: unhandled error", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// energyQuery reads from, to (RFC 3339) and limit from the query string.
func energyQuery(c *gin.Context) (models.EnergyQuery, bool) {
	var q models.EnergyQuery
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, name+" must be an RFC 3339 timestamp")
			return q, false
		}
		*dst = &t
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return q, false
	}
	q.Limit = limit
	return q, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
