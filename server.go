package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/middlewares"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("supplymap-api")

// dependenciesReady gates app endpoints until the database (and redis, when
// configured) are connected.
func dependenciesReady() bool {
	if config.GetDB() == nil {
		return false
	}
	if config.RedisEnabled() && config.GetRedisDB() == nil {
		return false
	}
	return true
}

func newRouter(logger *logrus.Logger, settings config.SupplySettings) (*gin.Engine, error) {
	r := gin.New()
	r.Use(middlewares.RequestContext())
	r.Use(func(c *gin.Context) {
		// Always allow the health check.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !dependenciesReady() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.HeaderUserName, middlewares.HeaderCorrelationId)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if utils.EnvBoolDefault("RATE_LIMIT_ENABLED", false) {
		rateLimit, err := middlewares.RateLimit(logger)
		if err != nil {
			return nil, err
		}
		r.Use(rateLimit)
	}

	r.Use(middlewares.LoaderMiddleware(settings))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	h := &supplyHandler{logger: logger, settings: settings}
	api := r.Group("/api")
	api.Use(invalidateSupplyMapsOnWrite())
	{
		api.POST("/sites", h.createSite)
		api.DELETE("/sites/:id", h.deleteSite)
		api.GET("/sites/:id/supply-map", h.supplyMap)
		api.GET("/sites/:id/supply-map.xlsx", h.supplyMapWorkbook)
		api.GET("/sites/:id/history", h.siteHistory)
		api.POST("/locations", h.createLocation)
		api.DELETE("/locations/:id", h.deleteLocation)

		api.POST("/materials", h.upsertMaterial)
		api.DELETE("/materials/:id", h.deleteMaterial)
		api.GET("/categories", h.categories)

		api.POST("/planning-rows", h.createPlanningRow)
		api.GET("/planning-rows/status", h.planningRowStatuses)
		api.GET("/planning-rows/:id", h.planningRow)
		api.PATCH("/planning-rows/:id", h.updatePlanningRow)
		api.DELETE("/planning-rows/:id", h.deletePlanningRow)
		api.GET("/planning-rows/:id/receipt", h.planningRowReceipt)
		api.GET("/planning-rows/:id/status", h.planningRowStatus)
		api.POST("/planning-rows/:id/requisition", h.attachRequisition)
		api.POST("/planning-rows/:id/move", h.movePlanningRow)

		api.POST("/receipts", h.upsertReceipt)
		api.DELETE("/receipts/:id", h.deleteReceipt)

		api.POST("/allocations", h.allocate)
		api.GET("/allocations/:id", h.allocation)
		api.DELETE("/allocations/:id", h.deallocate)

		api.POST("/verifications", h.verify)
		api.POST("/imports/receipts", h.importReceipts)
	}
	r.POST("/pubsub/erp-feed", erpFeedPushHandler(logger, settings))
	r.NoRoute(customNotFoundHandler)
	return r, nil
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings, err := config.LoadSupplySettings()
	if err != nil {
		log.Fatal(err)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r, err := newRouter(logger, settings)
	if err != nil {
		log.Fatal(err)
	}

	// Start listening immediately; until DB/Redis are ready app endpoints return 503.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if config.RedisEnabled() {
		config.ConnectRedisWithRetry(sigCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; allocation locks fall back to row locks only")
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can hold table locks; allow running it as a separate job instead.
	if !utils.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info":      "Connection Established",
		"tolerance": settings.Tolerance.String(),
	}).Info("supply map API listening on port ", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.CloseRedis()
	config.ClosePubSub()
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
