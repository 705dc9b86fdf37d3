package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/basit/fileshare-workspaces/auth/middleware"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/services"
)

// readUpload pulls the "file" form field out of a size-limited multipart
// body. The returned closer must be closed after the upload is stored.
func (h *Handler) readUpload(c *gin.Context) (services.Upload, io.Closer, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large"})
			return services.Upload{}, nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return services.Upload{}, nil, false
	}

	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return services.Upload{}, nil, false
	}

	return services.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        src,
	}, src, true
}

func (h *Handler) UploadAnonymous(c *gin.Context) {
	up, closer, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closer.Close()

	f, err := h.files.UploadAnonymous(c.Request.Context(), middleware.UserID(c), up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": f, "shareLink": h.shareLink(c, f.ShareID)})
}

func (h *Handler) UploadToWorkspace(c *gin.Context) {
	wsID, ok := paramID(c, "wid", "workspace")
	if !ok {
		return
	}
	up, closer, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closer.Close()

	f, err := h.files.UploadToWorkspace(c.Request.Context(), mustUser(c), wsID, c.PostForm("folder"), up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": f})
}

func (h *Handler) ListWorkspaceFiles(c *gin.Context) {
	wsID, ok := paramID(c, "wid", "workspace")
	if !ok {
		return
	}
	files, err := h.files.ListWorkspace(c.Request.Context(), middleware.UserID(c), wsID, c.Query("folder"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) ListDeletedFiles(c *gin.Context) {
	wsID, ok := paramID(c, "wid", "workspace")
	if !ok {
		return
	}
	files, err := h.files.ListDeleted(c.Request.Context(), middleware.UserID(c), wsID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) DownloadFile(c *gin.Context) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	actor := mustUser(c)
	f, rc, err := h.files.Download(c.Request.Context(), &actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	h.files.RecordDownload(c.Request.Context(), f, &actor, false, c.ClientIP(), c.Request.UserAgent())
	serveFile(c, f, rc)
}

func serveFile(c *gin.Context, f *models.File, rc io.Reader) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": f.Name})
	c.DataFromReader(http.StatusOK, f.Size, f.ContentType, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

type updateFileRequest struct {
	Name   *string `json:"name"`
	Folder *string `json:"folder"`
}

func (h *Handler) UpdateFile(c *gin.Context) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	var body updateFileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	f, err := h.files.Update(c.Request.Context(), mustUser(c), id, services.FileUpdate{
		Name:   body.Name,
		Folder: body.Folder,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": f})
}

func (h *Handler) SoftDeleteFile(c *gin.Context) {
	h.lifecycle(c, h.files.SoftDelete)
}

func (h *Handler) RestoreFile(c *gin.Context) {
	h.lifecycle(c, h.files.Restore)
}

func (h *Handler) lifecycle(c *gin.Context, op func(ctx context.Context, actorID, fileID uuid.UUID) (*models.File, error)) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	f, err := op(c.Request.Context(), mustUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": f})
}

func (h *Handler) PurgeFile(c *gin.Context) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	res, err := h.files.Purge(c.Request.Context(), mustUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"success": true}
	if res.StorageErr != nil {
		resp["warning"] = "File record removed but stored content could not be deleted"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) FileVersions(c *gin.Context) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	versions, err := h.files.Versions(c.Request.Context(), mustUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}
