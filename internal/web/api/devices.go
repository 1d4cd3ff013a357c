package api

import (
	"encoding/json"
	"io"
	"net/http"

	"buildingops/internal/models"
	"buildingops/internal/services"
	"buildingops/internal/web/middleware"
	webModels "buildingops/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterDeviceRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, devices *services.DeviceService) {
	group := r.Group("/devices")
	group.Use(middleware.RequireAuth())
	{
		group.POST("", func(c *gin.Context) {
			var req webModels.DeviceRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			d, err := devices.Create(c, req.Input())
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, devices.View(*d))
		})

		group.GET("", func(c *gin.Context) {
			filter := models.DeviceFilter{
				RoomID: c.Query("roomId"),
				Status: models.DeviceStatus(c.Query("status")),
			}
			list, err := devices.List(c, filter)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, devices.Views(list))
		})

		group.GET("/stats", func(c *gin.Context) {
			stats, err := devices.Stats(c)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		group.GET("/:id", func(c *gin.Context) {
			d, err := devices.Get(c, c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, devices.View(*d))
		})

		group.PUT("/:id", func(c *gin.Context) {
			var req webModels.DeviceRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			d, err := devices.Update(c, c.Param("id"), req.Input())
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, devices.View(*d))
		})

		group.PUT("/:id/status", func(c *gin.Context) {
			var req webModels.StatusRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "status is required")
				return
			}
			d, err := devices.UpdateStatus(c, c.Param("id"), models.DeviceStatus(req.Status))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, devices.View(*d))
		})

		group.PUT("/:id/online", func(c *gin.Context) {
			d, err := devices.MarkSeen(c, c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, devices.View(*d))
		})

		group.POST("/:id/command", func(c *gin.Context) {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				badRequest(c, "Invalid request")
				return
			}
			res, err := devices.SendCommand(c, c.Param("id"), json.RawMessage(body))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, res)
		})

		group.DELETE("/:id", func(c *gin.Context) {
			if err := devices.Delete(c, c.Param("id")); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
