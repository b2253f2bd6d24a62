package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmu-delphi/epitools/internal/compaction"
	corecfg "github.com/cmu-delphi/epitools/internal/core/config"
	"github.com/cmu-delphi/epitools/internal/core/dataset"
	"github.com/cmu-delphi/epitools/internal/core/storage/postgres"
	"github.com/cmu-delphi/epitools/internal/ingestion"
	"github.com/cmu-delphi/epitools/internal/migrations"
	"github.com/cmu-delphi/epitools/internal/query"
	"github.com/cmu-delphi/epitools/internal/server"
)

func main() {
	configPath := flag.String("config", "epitools.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"datasets", len(cfg.Loaded.Datasets),
		"dataset_dir", cfg.Loaded.ConfigDir,
		"compaction_enabled", cfg.Compaction.Enabled,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Dataset Definitions
	datasets, err := dataset.NewFileSystemRepository(cfg.Datasets.ConfigDir)
	if err != nil {
		slog.Error("Failed to load dataset definitions", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Ingestion (write side)
	ingestionSvc := ingestion.NewService(datasets, dbAdapter, cfg.Server.MaxBodySizeMB)

	// 5. Initialize Query (read side: snapshots + slides)
	querySvc := query.NewService(datasets, dbAdapter, cfg.Slide.Workers)

	// 6. Initialize Compaction
	var compactor *compaction.Scheduler
	if cfg.Compaction.Enabled {
		interval, err := time.ParseDuration(cfg.Compaction.Interval)
		if err != nil {
			slog.Error("Invalid compaction interval", "value", cfg.Compaction.Interval, "error", err)
			os.Exit(1)
		}
		compactor = compaction.NewScheduler(interval, datasets, dbAdapter, cfg.Compaction.WorkerCount)
	}

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if compactor != nil {
		go func() {
			if err := compactor.Start(ctx); err != nil {
				slog.Error("Compaction scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Compaction scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
