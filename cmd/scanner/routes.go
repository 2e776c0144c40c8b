package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/handler"
	"github.com/noah-isme/beacon-attendance/internal/middleware"
	"github.com/noah-isme/beacon-attendance/internal/service"
	"github.com/noah-isme/beacon-attendance/pkg/config"
	"github.com/noah-isme/beacon-attendance/pkg/logger"
	corsmiddleware "github.com/noah-isme/beacon-attendance/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/beacon-attendance/pkg/middleware/requestid"
)

type routeHandlers struct {
	scan       *handler.ScanHandler
	sync       *handler.SyncHandler
	schedule   *handler.ScheduleHandler
	preference *handler.PreferenceHandler
	dev        *handler.DevHandler
	metrics    *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, auth *service.AuthService, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.RequestLogger(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	// Signed links carry their own authorization.
	api.GET("/exports/:token", h.scan.Download)

	if cfg.Env != config.EnvProduction {
		dev := api.Group("/dev")
		dev.POST("/token", h.dev.IssueToken)
		dev.POST("/detections", h.dev.InjectDetection)
		dev.PUT("/adapter", h.dev.SetAdapterState)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(auth))

	sessions := secured.Group("/sessions")
	sessions.POST("", middleware.Audit(logr, "session.start"), h.scan.Start)
	sessions.PATCH("/:id/records/:studentId", middleware.Audit(logr, "record.amend"), h.sync.AmendRecord)
	sessions.POST("/:id/records", middleware.Audit(logr, "record.add"), h.sync.AddRecord)

	current := sessions.Group("/current")
	current.GET("", h.scan.Current)
	current.DELETE("", h.scan.Close)
	current.GET("/events", h.scan.Events)
	current.POST("/override", middleware.Audit(logr, "session.override"), h.scan.Override)
	current.POST("/retry", h.scan.Retry)
	current.POST("/pause", h.scan.Pause)
	current.POST("/resume", h.scan.Resume)
	current.POST("/blur", h.scan.Blur)
	current.PUT("/batch", h.scan.SetBatch)
	current.PUT("/students/:id/status", h.scan.SetStatus)
	current.POST("/students/:id/toggle", h.scan.Toggle)
	current.POST("/bulk", h.scan.Bulk)
	current.POST("/submit", middleware.Audit(logr, "session.submit"), h.scan.Submit)
	current.GET("/export", h.scan.Export)
	current.POST("/export", h.scan.Archive)

	secured.GET("/schedule/check", h.schedule.Check)

	syncGroup := secured.Group("/sync")
	syncGroup.GET("/items", h.sync.ListItems)
	syncGroup.POST("/items/:id/retry", middleware.Audit(logr, "sync.retry"), h.sync.RetryItem)
	syncGroup.POST("/replay", h.sync.Replay)

	prefs := secured.Group("/preferences")
	prefs.GET("/instructions", h.preference.GetInstructions)
	prefs.PUT("/instructions", h.preference.SetInstructions)

	return r
}
