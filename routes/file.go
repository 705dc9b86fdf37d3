package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/basit/fileshare-workspaces/handlers"
)

func RegisterFileRoutes(api *gin.RouterGroup, h *handlers.Handler, authRequired, authOptional gin.HandlerFunc) {
	fileGroup := api.Group("/files")

	// public share links
	fileGroup.GET("/share/:sid", h.DownloadShared)
	fileGroup.GET("/share/:sid/info", h.SharedInfo)
	fileGroup.GET("/share/:sid/qr", h.SharedQR)

	fileGroup.POST("/anonymous", authOptional, h.UploadAnonymous)
	fileGroup.GET("/workspace/:wid", authOptional, h.ListWorkspaceFiles)
	fileGroup.GET("/workspace/:wid/deleted", authOptional, h.ListDeletedFiles)

	protected := fileGroup.Group("", authRequired)
	protected.POST("/workspace/:wid", h.UploadToWorkspace)
	protected.GET("/:id", h.DownloadFile)
	protected.PUT("/:id", h.UpdateFile)
	protected.DELETE("/:id", h.SoftDeleteFile)
	protected.PUT("/:id/restore", h.RestoreFile)
	protected.DELETE("/:id/permanent", h.PurgeFile)
	protected.GET("/:id/share", h.GetShare)
	protected.GET("/:id/versions", h.FileVersions)
}
