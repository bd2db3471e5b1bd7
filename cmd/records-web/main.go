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

	_ "github.com/noah-isme/student-records/api/swagger"
	"github.com/noah-isme/student-records/internal/handler"
	"github.com/noah-isme/student-records/internal/repository"
	"github.com/noah-isme/student-records/internal/service"
	"github.com/noah-isme/student-records/pkg/config"
	"github.com/noah-isme/student-records/pkg/export"
	"github.com/noah-isme/student-records/pkg/jobs"
	"github.com/noah-isme/student-records/pkg/logger"
	"github.com/noah-isme/student-records/pkg/storage"
)

// @title Student Records
// @version 1.0.0
// @description Web front-end for the students API: list, search, create, update, delete and export records.
// @BasePath /
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	repo := repository.NewStudentRepository(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout}, metrics, logr)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exports := service.NewExportService(store, signer, service.ExportConfig{
		DownloadPrefix: "/exports",
		ResultTTL:      cfg.Exports.ResultTTL,
	}, metrics, logr, export.NewCSVExporter(), export.NewPDFExporter())
	exports.StartCleanup(ctx, cfg.Exports.CleanupInterval)

	records := service.NewRecordManager(repo, exports, validator.New(), logr)
	if cfg.Refresh.Async {
		queue := jobs.NewQueue("student-refresh", records.HandleRefreshJob, jobs.QueueConfig{
			Workers:    cfg.Refresh.Workers,
			MaxRetries: cfg.Refresh.Retries,
			RetryDelay: time.Second,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()
		records.SetRefresher(service.NewQueueRefresher(queue, logr))
	}

	r, err := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logr,
		Metrics:        metrics,
		Records:        handler.NewRecordHandler(records, exports, logr),
		Health:         handler.NewMetricsHandler(metrics, repo),
	})
	if err != nil {
		logr.Fatal("failed to build router", zap.Error(err))
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Warn("server shutdown failed", zap.Error(err))
		}
	}()

	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "students_api", cfg.API.BaseURL, "async_refresh", cfg.Refresh.Async)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
