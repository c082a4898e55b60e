// Package main is the entry point for the AlphaForge-Brain backtesting
// engine. It wires the deterministic run pipeline (hashing, orchestration,
// feature cache, validation, artifacts) together with the retention
// lifecycle and exposes both over a thin HTTP adapter.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/audit"
	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/coldstorage"
	"github.com/friscapuff/alphaforge-brain/internal/config"
	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/features"
	"github.com/friscapuff/alphaforge-brain/internal/retention"
	"github.com/friscapuff/alphaforge-brain/internal/run"
	"github.com/friscapuff/alphaforge-brain/internal/scheduler"
	"github.com/friscapuff/alphaforge-brain/internal/server"
	"github.com/friscapuff/alphaforge-brain/internal/store"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

// retentionSchedule re-applies the retention plan hourly.
const retentionSchedule = "@hourly"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)

	canonical.SetFloatPrecision(cfg.FloatPrecision)

	// Core services.
	datasets := dataset.NewCache(dataset.NewLoader(log), filepath.Join(cfg.DataDir, "dataset-cache"), log)
	featCache := features.NewCache(filepath.Join(cfg.DataDir, "feature-cache"), log)
	writer := artifacts.NewWriter(cfg.ArtifactRoot, log)
	auditLog := audit.New(cfg.ArtifactRoot, cfg.AuditRotateBytes, log)

	var cold *coldstorage.Service
	if cfg.ColdStorageEnabled {
		provider, err := buildProvider(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize cold storage provider")
		}
		cold = coldstorage.NewService(provider, cfg.ArtifactRoot, cfg.ColdStoragePrefix, log)
	}

	registry := run.NewRegistry()
	recordStore, err := store.Open(filepath.Join(cfg.DataDir, "runs.db"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run store")
	}
	defer recordStore.Close()
	if _, err := recordStore.LoadInto(registry); err != nil {
		log.Warn().Err(err).Msg("Run record restore failed; starting with an empty registry")
	}

	engine := run.NewEngine(registry, run.EngineOptions{
		Datasets:       datasets,
		FeatureCache:   featCache,
		Writer:         writer,
		Store:          recordStore,
		CautionPValue:  cfg.CautionPValue,
		CautionMetrics: cfg.CautionMetrics,
	}, log)

	retentionMgr := retention.NewManager(registry, cfg.ArtifactRoot, auditLog, cold, retention.Config{
		KeepLast:        cfg.RetentionKeepLast,
		TopKPerStrategy: cfg.RetentionTopK,
		MaxFullBytes:    cfg.RetentionMaxFullBytes,
	}, log)

	sched := scheduler.New(log)
	if err := sched.AddJob(retentionSchedule, scheduler.NewRetentionJob(retentionMgr)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register retention job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Engine:    engine,
		Retention: retentionMgr,
		Writer:    writer,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// buildProvider resolves the configured cold storage provider.
func buildProvider(cfg *config.Config) (coldstorage.Provider, error) {
	switch cfg.ColdStorageProvider {
	case "", "local":
		return coldstorage.NewLocalMirror(filepath.Join(cfg.ArtifactRoot, "cold-mirror")), nil
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return coldstorage.NewS3Provider(ctx, coldstorage.S3Options{
			Bucket: cfg.ColdStorageBucket,
			Region: os.Getenv("AWS_REGION"),
		})
	default:
		return nil, &unsupportedProviderError{name: cfg.ColdStorageProvider}
	}
}

type unsupportedProviderError struct{ name string }

func (e *unsupportedProviderError) Error() string {
	return "unsupported cold storage provider: " + e.name
}
