package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/auth/middleware"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/services"
)

type createWorkspaceRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
	IsPublic    bool   `json:"isPublic"`
}

func (h *Handler) CreateWorkspace(c *gin.Context) {
	var body createWorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	ws, err := h.workspaces.Create(c.Request.Context(), mustUser(c), services.CreateWorkspaceInput{
		Name:        body.Name,
		Description: body.Description,
		IsPublic:    body.IsPublic,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workspace": ws})
}

func (h *Handler) ListWorkspaces(c *gin.Context) {
	list, err := h.workspaces.List(c.Request.Context(), mustUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": list})
}

func (h *Handler) GetWorkspace(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	ws, err := h.workspaces.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws})
}

type updateWorkspaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"isPublic"`
}

func (h *Handler) UpdateWorkspace(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	var body updateWorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	ws, err := h.workspaces.Update(c.Request.Context(), mustUser(c), id, services.UpdateWorkspaceInput{
		Name:        body.Name,
		Description: body.Description,
		IsPublic:    body.IsPublic,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws})
}

func (h *Handler) DeleteWorkspace(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	if err := h.workspaces.Delete(c.Request.Context(), mustUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) JoinWorkspace(c *gin.Context) {
	ws, err := h.workspaces.JoinByCode(c.Request.Context(), mustUser(c), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws})
}

func (h *Handler) ListMembers(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	members, err := h.workspaces.ListMembers(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) InviteMember(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	var body inviteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	ws, err := h.workspaces.Invite(c.Request.Context(), mustUser(c), id, body.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws})
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) SetMemberRole(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	target, ok := paramID(c, "uid", "member")
	if !ok {
		return
	}
	var body setRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	role, err := models.ParseRole(body.Role)
	if err != nil {
		respondError(c, apperrors.Validation("role must be one of viewer, editor, owner"))
		return
	}

	ws, err := h.workspaces.SetRole(c.Request.Context(), mustUser(c), id, target, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws})
}

func (h *Handler) RemoveMember(c *gin.Context) {
	id, ok := paramID(c, "id", "workspace")
	if !ok {
		return
	}
	target, ok := paramID(c, "uid", "member")
	if !ok {
		return
	}
	if err := h.workspaces.Remove(c.Request.Context(), mustUser(c), id, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
