package api

import (
	"github.com/gin-gonic/gin"

	"github.com/acpfactory/acpfactory/internal/agent"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events/bus"
)

// SetupRoutes configures the acpfactory API routes
// router should be the /api/v1 group
func SetupRoutes(router *gin.RouterGroup, factory *agent.Factory, eventBus bus.EventBus, log *logger.Logger) *Handler {
	handler := NewHandler(factory, eventBus, log)

	// Agent endpoints under /api/v1/agents
	agents := router.Group("/agents")
	{
		// List all running agent instances
		agents.GET("", handler.ListAgents)

		// Spawn a new agent
		agents.POST("/spawn", handler.SpawnAgent)

		// Agent types endpoints
		agents.GET("/types", handler.ListAgentTypes)
		agents.GET("/types/:typeId", handler.GetAgentType)

		// Single agent instance operations
		agents.GET("/:instanceId/status", handler.GetAgentStatus)
		agents.DELETE("/:instanceId", handler.StopAgent)

		// Session endpoints
		agents.POST("/:instanceId/sessions", handler.CreateSession)
		agents.POST("/:instanceId/sessions/load", handler.LoadSession)
		agents.GET("/:instanceId/sessions", handler.ListSessions)
		agents.POST("/:instanceId/sessions/:sessionId/prompt", handler.SendPrompt)
		agents.GET("/:instanceId/sessions/:sessionId/stream", handler.StreamPrompt)
		agents.POST("/:instanceId/sessions/:sessionId/cancel", handler.CancelSession)
		agents.POST("/:instanceId/sessions/:sessionId/mode", handler.SetSessionMode)
		agents.POST("/:instanceId/sessions/:sessionId/flush", handler.FlushSession)
		agents.POST("/:instanceId/sessions/:sessionId/fork", handler.ForkSession)

		// Permission endpoints
		agents.GET("/:instanceId/permissions", handler.ListPermissions)
		agents.POST("/:instanceId/permissions/:requestId/respond", handler.RespondPermission)
		agents.POST("/:instanceId/permissions/:requestId/cancel", handler.CancelPermission)
	}

	return handler
}
