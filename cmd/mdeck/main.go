package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/config"
	"github.com/xxxsen/mdeck/internal/db"
	"github.com/xxxsen/mdeck/internal/filestore"
	"github.com/xxxsen/mdeck/internal/handler"
	"github.com/xxxsen/mdeck/internal/importer"
	"github.com/xxxsen/mdeck/internal/job"
	"github.com/xxxsen/mdeck/internal/middleware"
	"github.com/xxxsen/mdeck/internal/progress"
	"github.com/xxxsen/mdeck/internal/repo"
	"github.com/xxxsen/mdeck/internal/schedule"
	"github.com/xxxsen/mdeck/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mdeck",
		Short: "mdeck flashcard import server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run mdeck server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, conn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config file (json or yaml)")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("file_store", cfg.FileStore.Type),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := repo.NewStore(conn, cfg.Database.Driver)
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	imp := cfg.Import
	pipeline := importer.NewPipeline(store, files, importer.Options{
		Persist: importer.PersistOptions{
			DeckBatchSize: imp.DeckBatchSize,
			CardBatchSize: imp.CardBatchSize,
			BatchPause:    imp.BatchPause,
		},
		Media: importer.MediaOptions{
			Feature:     imp.MediaFeature,
			Concurrency: imp.MediaConcurrency,
			CacheSize:   imp.MediaCacheSize,
			CacheTTL:    imp.MediaCacheTTL,
		},
	})
	tracker := progress.NewTracker(imp.ProgressIdle)
	importService := service.NewImportService(pipeline, store, tracker, service.ImportOptions{
		Timeout:   imp.Timeout,
		Workers:   imp.Workers,
		QueueSize: imp.QueueSize,
		UploadDir: imp.UploadDir,
	})
	importService.Start(ctx)
	defer importService.Stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewProgressSweepJob(tracker), imp.SweepSpec); err != nil {
		return fmt.Errorf("schedule progress sweep: %w", err)
	}
	cleanup := job.NewUploadCleanupJob(importService.UploadDir(), imp.UploadMaxAge)
	if err := scheduler.AddJob(cleanup, "@hourly"); err != nil {
		return fmt.Errorf("schedule upload cleanup: %w", err)
	}
	// leftovers of a previous process
	if err := scheduler.RunNow(ctx, cleanup.Name()); err != nil {
		logutil.GetLogger(ctx).Warn("initial upload cleanup failed", zap.Error(err))
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Imports:      handler.NewImportHandler(importService, imp.MaxUploadBytes()),
		Files:        handler.NewFileHandler(files),
		JWTSecret:    []byte(cfg.JWTSecret),
		UploadWindow: imp.UploadWindow,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/ws$`})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
