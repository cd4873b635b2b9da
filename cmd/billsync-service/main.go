package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/billsync"
	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/middlewares"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/remote"
	"github.com/mmdatafocus/itembills_sync/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := config.EnvString("BILLSYNC_PORT", "")
	if port == "" {
		port = config.EnvString("PORT", defaultPort)
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	gateway := remote.GatewayFromEnv()
	store := billsync.NewGormRunStore(nil)
	worker := billsync.NewWorker(store, nil, nil)
	handlers := billsync.NewHandlers(store, billsync.NewPublisherFromEnv(worker), gateway)

	var ready atomic.Bool

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := config.EnvString("CORS_ALLOWED_ORIGINS", "")
	if strings.EqualFold(config.EnvString("GO_ENV", ""), "production") {
		corsConfig.AllowOrigins = config.SplitList(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	billsync.RegisterRoutes(r, handlers, worker, utils.JwtSecret())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if config.EnvBoolDefault("BILLSYNC_LOCK_ENABLED", true) {
		config.ConnectRedisWithRetry(sigCtx)
		if client := config.GetRedisLock(); client != nil {
			worker.Locker = utils.NewRunLock(client)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "lock"}).Warn("BILLSYNC_LOCK_ENABLED=false; runs are not serialized across instances")
	}

	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		models.MigrateTable(db)
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	connector, err := remote.NewConnectorFromEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "gateway", "gateway": gateway}).Fatal(err)
	}
	worker.Connector = connector
	ready.Store(true)
	logger.WithFields(logrus.Fields{"port": port, "gateway": gateway}).Info("bill sync service ready")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
