package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finreport/internal/apperr"
	"finreport/internal/assembler"
	"finreport/internal/auth"
	"finreport/internal/cache"
	"finreport/internal/config"
	"finreport/internal/fetcher"
	"finreport/internal/filestore"
	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/service/ai"
	"finreport/internal/storage"
	"finreport/internal/sysprompt"
	"finreport/internal/worker"
)

// Deps are the collaborators the HTTP layer orchestrates.
type Deps struct {
	Config       *config.Config
	DB           *sql.DB
	Cache        *cache.Cache
	Fetchers     *fetcher.Registry
	Files        *filestore.Store
	Resolver     *assembler.Resolver
	Gateway      *ai.Gateway
	Auth         *auth.Service
	SystemPrompt *sysprompt.Source

	// Dispatcher bounds concurrent model calls; nil runs them inline.
	Dispatcher *worker.Dispatcher
}

// Handler wires HTTP routes to the cache, fetchers, file store and LLM gateway.
type Handler struct {
	cfg       *config.Config
	db        *sql.DB
	cache     *cache.Cache
	fetchers  *fetcher.Registry
	files     *filestore.Store
	resolver  *assembler.Resolver
	gateway   *ai.Gateway
	auth      *auth.Service
	prompt    *sysprompt.Source
	llmPool   *worker.Dispatcher
	cacheTTL  time.Duration
	maxUpload int64
	now       func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	ttl := time.Duration(d.Config.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Handler{
		cfg:       d.Config,
		db:        d.DB,
		cache:     d.Cache,
		fetchers:  d.Fetchers,
		files:     d.Files,
		resolver:  d.Resolver,
		gateway:   d.Gateway,
		auth:      d.Auth,
		prompt:    d.SystemPrompt,
		llmPool:   d.Dispatcher,
		cacheTTL:  ttl,
		maxUpload: maxUploadBytes,
		now:       time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestContext(), recovery())
	router.GET("/health", h.health)
	router.GET("/metrics", metrics.Handler())
	router.POST("/auth/login", h.login)

	authed := router.Group("")
	authed.Use(h.auth.Middleware())
	authed.GET("/me", h.me)
	authed.POST("/data/fetch", h.fetchData)
	authed.POST("/chat", h.chat)
	authed.POST("/db/backup", h.backup)
	authed.POST("/files/upload", h.filesUpload)
	authed.GET("/files/:file_id", h.fileDownload)
}

// respondError writes the error body and logs everything but validation failures.
func respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Kind != apperr.KindValidation {
		logger.FromContext(c.Request.Context()).Error("request failed",
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(appErr.Status(), gin.H{
		"success": false,
		"error": gin.H{
			"code":    appErr.Kind,
			"message": appErr.Message,
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	dbStatus := "ok"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			dbStatus = "unavailable"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "OK",
		"app_name": h.cfg.AppName,
		"database": dbStatus,
		"sources":  h.fetchers.Sources(),
		"time":     storage.FormatTime(h.now()),
	})
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.KindAuth, "apiKey is required"))
		return
	}
	token, subject, err := h.auth.Login(req.APIKey)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("user logged in", zap.String("user_id", subject))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.auth.TokenTTL().Seconds()),
		"user":         gin.H{"id": subject},
	})
}

func (h *Handler) me(c *gin.Context) {
	subject, ok := auth.SubjectFromContext(c)
	if !ok {
		respondError(c, apperr.New(apperr.KindAuth, "authorization required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": subject})
}

func (h *Handler) backup(c *gin.Context) {
	rel, err := storage.Backup(c.Request.Context(), h.db, h.cfg.DBDriver, h.cfg.FileBaseDir, h.now())
	if err != nil {
		if errors.Is(err, storage.ErrBackupUnsupported) {
			respondError(c, apperr.Wrap(apperr.KindBadRequest, "backup is only available for the sqlite cache", err))
			return
		}
		respondError(c, apperr.Wrap(apperr.KindInternal, "database backup failed", err))
		return
	}
	logger.FromContext(c.Request.Context()).Info("database backup written", zap.String("backup_path", rel))
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "database backup created",
		"backup_path": rel,
	})
}
