package api

import (
	"context"
	"net/http"

	"buildingops/internal/automation"
	"buildingops/internal/models"
	"buildingops/internal/web/middleware"
	webModels "buildingops/internal/web/models"

	"github.com/gin-gonic/gin"
)

// Executor runs an automation on demand
type Executor interface {
	ExecuteManually(ctx context.Context, id string) (*models.AutomationHistory, error)
}

func RegisterAutomationRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, automations *automation.Service, engine Executor) {
	group := r.Group("/automations")
	group.Use(middleware.RequireAuth())
	{
		group.POST("", func(c *gin.Context) {
			var req webModels.AddAutomationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			a, err := automations.Create(c, req.Input(c.GetString("user_id")))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, automations.Present(*a))
		})

		group.GET("", func(c *gin.Context) {
			list, err := automations.List(c, models.AutomationFilter{})
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.PresentAll(list))
		})

		group.GET("/stats", func(c *gin.Context) {
			stats, err := automations.Stats(c)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		group.GET("/enabled", func(c *gin.Context) {
			list, err := automations.ListEnabled(c)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.PresentAll(list))
		})

		group.GET("/creator/:creatorId", func(c *gin.Context) {
			list, err := automations.ListByCreator(c, c.Param("creatorId"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.PresentAll(list))
		})

		group.GET("/:id", func(c *gin.Context) {
			a, err := automations.Get(c, c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.Present(*a))
		})

		group.GET("/:id/history", func(c *gin.Context) {
			limit, ok := intQuery(c, "limit", automation.DefaultHistoryLimit)
			if !ok {
				return
			}
			history, err := automations.History(c, c.Param("id"), limit)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, history)
		})

		group.PUT("/:id", func(c *gin.Context) {
			var req webModels.UpdateAutomationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			a, err := automations.Update(c, c.Param("id"), req.Input())
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.Present(*a))
		})

		group.PATCH("/:id/toggle", func(c *gin.Context) {
			a, err := automations.Toggle(c, c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, automations.Present(*a))
		})

		group.POST("/:id/execute", func(c *gin.Context) {
			h, err := engine.ExecuteManually(c, c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, webModels.ExecuteResponse{
				Success: true,
				Message: "Automation executed successfully",
				History: h,
			})
		})

		group.DELETE("/:id", func(c *gin.Context) {
			if err := automations.Delete(c, c.Param("id")); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
