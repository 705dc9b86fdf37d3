package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

func (h *Handler) GetShare(c *gin.Context) {
	id, ok := paramID(c, "id", "file")
	if !ok {
		return
	}
	shareID, err := h.files.GetShare(c.Request.Context(), mustUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shareId": shareID, "shareLink": h.shareLink(c, shareID)})
}

func (h *Handler) DownloadShared(c *gin.Context) {
	f, rc, err := h.files.DownloadShare(c.Request.Context(), c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	h.files.RecordDownload(c.Request.Context(), f, nil, true, c.ClientIP(), c.Request.UserAgent())
	serveFile(c, f, rc)
}

type shareInfo struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Size       int64      `json:"size"`
	UploadedAt time.Time  `json:"uploadedAt"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

func (h *Handler) SharedInfo(c *gin.Context) {
	f, err := h.files.ResolveShare(c.Request.Context(), c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shareInfo{
		Name:       f.Name,
		Type:       f.ContentType,
		Size:       f.Size,
		UploadedAt: f.UploadedAt,
		ExpiresAt:  f.ExpiresAt,
	})
}

// SharedQR renders the share link as a PNG QR code.
func (h *Handler) SharedQR(c *gin.Context) {
	f, err := h.files.ResolveShare(c.Request.Context(), c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}
	png, err := qrcode.Encode(h.shareLink(c, f.ShareID), qrcode.Medium, qrSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
