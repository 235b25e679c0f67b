package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/exam-seating-api/api/swagger"
	"github.com/noah-isme/exam-seating-api/internal/handler"
	"github.com/noah-isme/exam-seating-api/internal/middleware"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/repository"
	"github.com/noah-isme/exam-seating-api/internal/service"
	"github.com/noah-isme/exam-seating-api/pkg/cache"
	"github.com/noah-isme/exam-seating-api/pkg/config"
	"github.com/noah-isme/exam-seating-api/pkg/database"
	"github.com/noah-isme/exam-seating-api/pkg/export"
	"github.com/noah-isme/exam-seating-api/pkg/jobs"
	"github.com/noah-isme/exam-seating-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/exam-seating-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/exam-seating-api/pkg/middleware/requestid"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

// @title Exam Seating API
// @version 1.0.0
// @description Asynchronous exam seating runs
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	runRepo := repository.NewRunRepository(db).WithMetrics(metricsSvc)
	if err := runRepo.EnsureSchema(ctx); err != nil {
		logr.Fatal("failed to prepare schema", zap.Error(err))
	}

	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, plan cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			repo := repository.NewCacheRepository(redisClient, logr)
			cacheRepo = repo
			checks["redis"] = repo.Ping
		}
	}
	planCache := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cacheRepo != nil)

	files, err := storage.NewLocalStorage(cfg.Runs.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare run storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Runs.SignedURLSecret, cfg.Runs.SignedURLTTL)
	validate := validator.New()

	seatingSvc := service.NewSeatingService(nil, validate, metricsSvc, logr, service.SeatingConfig{SlotWorkers: cfg.Seating.SlotWorkers})
	artifactSvc := service.NewArtifactService(export.NewCSVExporter(), export.NewPDFExporter(), metricsSvc, logr, service.ArtifactConfig{
		RenderWorkers: cfg.Seating.RenderWorkers,
	})
	worker := service.NewRunWorker(runRepo, files, seatingSvc, artifactSvc, planCache, signer, metricsSvc, logr, service.RunWorkerConfig{
		APIPrefix: cfg.APIPrefix,
	})
	queue := jobs.NewQueue("seating-runs", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Runs.WorkerConcurrency,
		BufferSize: 64,
		MaxRetries: cfg.Runs.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
		OnGiveUp:   worker.GiveUp,
	})
	queue.Start(ctx)
	defer queue.Stop()

	runSvc := service.NewRunService(runRepo, files, queue, signer, metricsSvc, validate, logr, service.RunServiceConfig{
		DefaultBuffer:   cfg.Seating.DefaultBuffer,
		DefaultMode:     models.DensityMode(cfg.Seating.DefaultMode),
		MaxUploadBytes:  cfg.Runs.MaxUploadBytes,
		ResultTTL:       cfg.Runs.SignedURLTTL,
		CleanupInterval: cfg.Runs.CleanupInterval,
	})
	runSvc.RecoverPendingJobs(ctx)
	runSvc.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	runHandler := handler.NewRunHandler(runSvc)
	api := r.Group(cfg.APIPrefix)
	api.GET("/runs/download/:token", runHandler.Download)

	secured := api.Group("")
	if cfg.Auth.Enabled {
		tokens := service.NewTokenService(service.TokenConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
			Expiry: cfg.JWT.Expiration,
		})
		secured.Use(middleware.JWT(tokens))
	}
	readers := []models.UserRole{models.RoleAdmin, models.RoleOperator, models.RoleViewer}
	operators := []models.UserRole{models.RoleAdmin, models.RoleOperator}
	secured.POST("/runs", requireRoles(cfg.Auth.Enabled, operators), runHandler.Create)
	secured.GET("/runs", requireRoles(cfg.Auth.Enabled, readers), runHandler.List)
	secured.GET("/runs/:id", requireRoles(cfg.Auth.Enabled, readers), runHandler.Get)
	secured.GET("/runs/:id/rosters", requireRoles(cfg.Auth.Enabled, readers), runHandler.Rosters)
	secured.GET("/runs/:id/usage", requireRoles(cfg.Auth.Enabled, readers), runHandler.Usage)
	secured.GET("/runs/:id/signals", requireRoles(cfg.Auth.Enabled, readers), runHandler.Signals)
	secured.GET("/metrics/snapshot", requireRoles(cfg.Auth.Enabled, readers), metricsHandler.Snapshot)
	secured.DELETE("/cache/plans", requireRoles(cfg.Auth.Enabled, []models.UserRole{models.RoleAdmin}), handler.NewCacheHandler(planCache).Purge)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown failed", "error", err)
	}
}

func requireRoles(enabled bool, roles []models.UserRole) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RequireRoles(roles...)
}
