package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/auth"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/usage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerContextKey = "drive_lifecycle_caller"

var (
	errMissingLifecycle   = errors.New("lifecycle service dependency required")
	errMissingReclamation = errors.New("reclamation queue dependency required")
	errMissingUsage       = errors.New("usage service dependency required")
)

// LifecycleService is the entity store surface exposed over HTTP.
type LifecycleService interface {
	TransitionFileStatus(ctx context.Context, fileID lifecycle.ItemID, target lifecycle.ItemStatus) (lifecycle.File, error)
	TrashFolder(ctx context.Context, folderID lifecycle.ItemID) (lifecycle.Folder, error)
	RestoreFolder(ctx context.Context, folderID lifecycle.ItemID) (lifecycle.Folder, error)
	TransitionFolderRemoved(ctx context.Context, folderID lifecycle.ItemID) (lifecycle.CascadeReport, error)
	TransitionFileVersionStatus(ctx context.Context, versionID lifecycle.ItemID, target lifecycle.VersionStatus) (lifecycle.FileVersion, error)
	GetFile(ctx context.Context, fileID lifecycle.ItemID) (lifecycle.File, error)
	GetFolder(ctx context.Context, folderID lifecycle.ItemID) (lifecycle.Folder, error)
	ListFolderFiles(ctx context.Context, folderID lifecycle.ItemID) ([]lifecycle.File, error)
	GetFileVersion(ctx context.Context, versionID lifecycle.ItemID) (lifecycle.FileVersion, error)
}

// ReclamationQueue is the outbox surface exposed over HTTP.
type ReclamationQueue interface {
	Drain(ctx context.Context, kind reclamation.Kind, batchSize int) ([]reclamation.Pending, error)
	MarkReclaimed(ctx context.Context, kind reclamation.Kind, entityID string) error
	Counts(ctx context.Context, kind reclamation.Kind) (reclamation.Counts, error)
	Get(ctx context.Context, kind reclamation.Kind, entityID string) (reclamation.Record, error)
}

// UsageService is the ledger surface exposed over HTTP.
type UsageService interface {
	GetUserUsage(ctx context.Context, userID string) (usage.Usage, error)
	RunDailyRollup(ctx context.Context) (usage.RollupReport, error)
	RunDailyRollupFor(ctx context.Context, day time.Time) (usage.RollupReport, error)
	RunMonthlyRollup(ctx context.Context) (usage.RollupReport, error)
	RunMonthlyRollupFor(ctx context.Context, month time.Time) (usage.RollupReport, error)
	RunYearlyRollup(ctx context.Context) (usage.RollupReport, error)
	RunYearlyRollupFor(ctx context.Context, year time.Time) (usage.RollupReport, error)
}

// TokenValidator authenticates service callers. A nil validator disables auth.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (auth.ServiceClaims, error)
}

type Dependencies struct {
	Lifecycle      LifecycleService
	Reclamation    ReclamationQueue
	Usage          UsageService
	TokenValidator TokenValidator
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Lifecycle == nil {
		return nil, errMissingLifecycle
	}
	if deps.Reclamation == nil {
		return nil, errMissingReclamation
	}
	if deps.Usage == nil {
		return nil, errMissingUsage
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		lifecycle:   deps.Lifecycle,
		reclamation: deps.Reclamation,
		usage:       deps.Usage,
		validator:   deps.TokenValidator,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/files/:id", handler.handleGetFile)
	protected.POST("/files/:id/status", handler.handleFileStatus)
	protected.GET("/folders/:id", handler.handleGetFolder)
	protected.GET("/folders/:id/files", handler.handleFolderFiles)
	protected.POST("/folders/:id/trash", handler.handleTrashFolder)
	protected.POST("/folders/:id/restore", handler.handleRestoreFolder)
	protected.POST("/folders/:id/remove", handler.handleRemoveFolder)
	protected.GET("/versions/:id", handler.handleGetVersion)
	protected.POST("/versions/:id/status", handler.handleVersionStatus)

	protected.GET("/reclamation/:kind", handler.handleReclamationCounts)
	protected.POST("/reclamation/:kind/drain", handler.handleDrain)
	protected.GET("/reclamation/:kind/:id", handler.handleGetReclamation)
	protected.POST("/reclamation/:kind/:id/reclaimed", handler.handleMarkReclaimed)

	protected.GET("/users/:id/usage", handler.handleUserUsage)
	protected.POST("/rollups/:type", handler.handleRollup)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	lifecycle   LifecycleService
	reclamation ReclamationQueue
	usage       UsageService
	validator   TokenValidator
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.validator == nil {
		c.Next()
		return
	}
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, auth.ErrExpiredToken) {
			level = zap.InfoLevel
		}
		h.logger.Log(level, "token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(callerContextKey, claims.Subject)
	c.Next()
}
