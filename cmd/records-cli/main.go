package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/cli"
	"github.com/noah-isme/student-records/internal/repository"
	"github.com/noah-isme/student-records/internal/service"
	"github.com/noah-isme/student-records/pkg/config"
	"github.com/noah-isme/student-records/pkg/export"
	"github.com/noah-isme/student-records/pkg/logger"
	"github.com/noah-isme/student-records/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Logs interleave with the prompts; stay quiet unless LOG_LEVEL is set.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "error"
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	repo := repository.NewStudentRepository(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout}, nil, logr)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	exports := service.NewExportService(store, nil, service.ExportConfig{ResultTTL: cfg.Exports.ResultTTL}, nil, logr, export.NewCSVExporter(), export.NewPDFExporter())
	records := service.NewRecordManager(repo, exports, validator.New(), logr)

	driver := cli.NewSurveyDriver(terminal.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	app := cli.NewApp(records, exports, driver, os.Stdout, logr)
	if err := app.Run(ctx); err != nil {
		logr.Error("cli stopped", zap.Error(err))
		os.Exit(1)
	}
}
