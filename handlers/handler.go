package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/auth"
	"github.com/basit/fileshare-workspaces/auth/middleware"
	"github.com/basit/fileshare-workspaces/services"
)

const DefaultMaxUploadBytes = 100 << 20

type Config struct {
	DB             *gorm.DB
	Workspaces     *services.WorkspaceService
	Files          *services.FileService
	Users          *auth.Provider
	Logger         logrus.FieldLogger
	MaxUploadBytes int64
	// BaseURL prefixes share links. When empty the request's host is used.
	BaseURL string
}

type Handler struct {
	db             *gorm.DB
	workspaces     *services.WorkspaceService
	files          *services.FileService
	users          *auth.Provider
	log            logrus.FieldLogger
	maxUploadBytes int64
	baseURL        string
}

func New(cfg Config) *Handler {
	h := &Handler{
		db:             cfg.DB,
		workspaces:     cfg.Workspaces,
		files:          cfg.Files,
		users:          cfg.Users,
		log:            cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadBytes
	}
	return h
}

// mustUser returns the id set by AuthRequired.
func mustUser(c *gin.Context) uuid.UUID {
	return c.MustGet(middleware.UserIDKey).(uuid.UUID)
}

func paramID(c *gin.Context, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, apperrors.NotFound("%s not found", what))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) shareLink(c *gin.Context, shareID string) string {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/api/files/share/" + shareID
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Error("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
