package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/ideiasys/ecomsync_backend/config"
	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/models"
	"bitbucket.org/ideiasys/ecomsync_backend/platform"
	"bitbucket.org/ideiasys/ecomsync_backend/settings"
	"bitbucket.org/ideiasys/ecomsync_backend/syncd"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("SYNC_SERVICE_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
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
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Authorization")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"message": "route not found"}})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	settingsService := settings.NewService(db, logger)
	if err := settingsService.EnsureDefaults(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}
	if _, err := settingsService.GetSessionSecret(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}

	provider := erpdb.NewProvider(settingsService, logger)
	monitor := erpdb.NewHealthMonitor(provider, logger, 0)
	catalog := erpdb.NewCatalog(provider, logger)
	sessions := erpdb.NewSessions(provider, logger)

	mappings := syncd.NewMappingService(db, logger)
	tokens := platform.NewTokenManager(db, logger)
	adapters := platform.NewFactory(tokens, mappings, logger)

	locks := syncd.NewLockManager(db, logger)
	logs := syncd.NewLogs(db, logger)
	jobs := syncd.NewJobs(db, logger)
	orchestrator := syncd.NewOrchestrator(locks, mappings, logs, jobs, catalog, adapters, logger)
	cronDriver := syncd.NewCronDriver(orchestrator, config.GetRedisLock(), logger)

	handlers := &syncd.Handlers{
		Sessions:     sessions,
		Settings:     settingsService,
		Provider:     provider,
		Monitor:      monitor,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Jobs:         jobs,
		Logs:         logs,
		Cron:         cronDriver,
		Logger:       logger,
	}
	handlers.Register(r)

	// The ERP database is the operator's server and may be down at boot.
	// The provider reconnects on demand; a failed first attempt only logs.
	if err := provider.EnsureConnection(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "erpdb"}).Warn(err)
	}
	monitor.Start()

	if err := cronDriver.Start(); err != nil {
		logger.WithFields(logrus.Fields{"field": "cron"}).Fatal(err)
	}

	select {
	case <-sigCtx.Done():
		cronDriver.Stop()
		monitor.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		provider.Disconnect()
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
