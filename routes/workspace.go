package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/basit/fileshare-workspaces/handlers"
)

func RegisterWorkspaceRoutes(api *gin.RouterGroup, h *handlers.Handler, authRequired, authOptional gin.HandlerFunc) {
	wsGroup := api.Group("/workspaces")

	wsGroup.GET("/:id", authOptional, h.GetWorkspace)
	wsGroup.GET("/:id/members", authOptional, h.ListMembers)

	protected := wsGroup.Group("", authRequired)
	protected.POST("", h.CreateWorkspace)
	protected.GET("", h.ListWorkspaces)
	protected.PUT("/:id", h.UpdateWorkspace)
	protected.DELETE("/:id", h.DeleteWorkspace)
	protected.POST("/join/:code", h.JoinWorkspace)
	protected.POST("/:id/invite", h.InviteMember)
	protected.PUT("/:id/members/:uid", h.SetMemberRole)
	protected.DELETE("/:id/members/:uid", h.RemoveMember)
}

func RegisterUserRoutes(api *gin.RouterGroup, h *handlers.Handler, authRequired gin.HandlerFunc) {
	api.POST("/users", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	me := api.Group("/users/me", authRequired)
	me.GET("", h.Me)
	me.PUT("", h.UpdateMe)
}
