package api

import (
	"net/http"

	"buildingops/internal/models"
	"buildingops/internal/services"
	"buildingops/internal/web/middleware"
	webModels "buildingops/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterEnergyRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, energy *services.EnergyService) {
	group := r.Group("/energy")
	group.Use(middleware.RequireAuth())
	{
		group.POST("/readings", func(c *gin.Context) {
			var req webModels.EnergyReadingRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			reading, err := energy.CreateReading(c, req.Input())
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, reading)
		})

		group.DELETE("/readings/cleanup", func(c *gin.Context) {
			days, ok := intQuery(c, "daysToKeep", services.DefaultDaysToKeep)
			if !ok {
				return
			}
			n, err := energy.Cleanup(c, days)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, webModels.CleanupResponse{Deleted: n, DaysToKeep: days})
		})

		readings := func(scope func(*gin.Context) models.EnergyScope) gin.HandlerFunc {
			return func(c *gin.Context) {
				q, ok := energyQuery(c)
				if !ok {
					return
				}
				list, err := energy.Readings(c, scope(c), q)
				if err != nil {
					respondError(c, err)
					return
				}
				c.JSON(http.StatusOK, list)
			}
		}
		stats := func(scope func(*gin.Context) models.EnergyScope) gin.HandlerFunc {
			return func(c *gin.Context) {
				q, ok := energyQuery(c)
				if !ok {
					return
				}
				agg, err := energy.Stats(c, scope(c), q)
				if err != nil {
					respondError(c, err)
					return
				}
				c.JSON(http.StatusOK, agg)
			}
		}
		byDevice := func(c *gin.Context) models.EnergyScope { return models.EnergyScope{DeviceID: c.Param("deviceId")} }
		byRoom := func(c *gin.Context) models.EnergyScope { return models.EnergyScope{RoomID: c.Param("roomId")} }

		group.GET("/devices/:deviceId/readings", readings(byDevice))
		group.GET("/devices/:deviceId/stats", stats(byDevice))
		group.GET("/rooms/:roomId/readings", readings(byRoom))
		group.GET("/rooms/:roomId/stats", stats(byRoom))
	}
}
