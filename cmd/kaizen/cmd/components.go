package cmd

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/config"
	"github.com/hyperjump/kaizen/internal/corpus"
	"github.com/hyperjump/kaizen/internal/embedding"
	"github.com/hyperjump/kaizen/internal/metrics"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Catalog   storage.Catalog
	Artifacts storage.ArtifactStore
	Embedder  embedding.Embedder
	Engine    *reconcile.Engine
	Source    *corpus.DirectorySource
	Metrics   *metrics.Collector
}

// Close releases every component and returns the combined error.
func (c *Components) Close() error {
	var err error
	if c.Embedder != nil {
		err = multierr.Append(err, c.Embedder.Close())
	}
	if c.Artifacts != nil {
		err = multierr.Append(err, c.Artifacts.Close())
	}
	if c.Catalog != nil {
		err = multierr.Append(err, c.Catalog.Close())
	}
	_ = c.Logger.Sync()
	return err
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Metrics: metrics.New()}

	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.Driver, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	c.Catalog = catalog

	artifacts, err := storage.NewArtifactStore(cfg.Storage.ArtifactBackend, cfg.Storage.ArtifactPath)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	c.Artifacts = artifacts

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	c.Engine = reconcile.NewEngine(catalog, artifacts, embedder,
		reconcile.WithLogger(logger),
		reconcile.WithWorkers(cfg.Reconcile.Workers),
		reconcile.WithLockDir(cfg.Storage.LockDir),
		reconcile.WithLockWait(cfg.Reconcile.LockWait),
	)
	c.Source = corpus.NewDirectorySource(cfg.Corpus.Directory,
		corpus.WithExtensions(cfg.Corpus.Extensions),
		corpus.WithRecursive(cfg.Corpus.RecursiveOrDefault()),
		corpus.WithLogger(logger),
	)

	logger.Debug("components initialized",
		zap.String("catalog", cfg.Storage.DatabasePath),
		zap.String("artifact_backend", cfg.Storage.ArtifactBackend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("corpus", cfg.Corpus.Directory),
	)
	return c, nil
}

// reconcileOnChange returns a watcher callback that reconciles version and
// records the run in the metrics collector. It waits for a version held by
// another writer, so a corpus change is never skipped because of lock_wait.
func (c *Components) reconcileOnChange(version string) func(ctx context.Context) {
	engine := c.Engine.Waiting()
	return func(ctx context.Context) {
		report, err := engine.ReconcileSource(ctx, c.Source, version)
		if report != nil {
			c.Metrics.ObserveRun(len(report.Added)+len(report.Updated)+len(report.Restored), len(report.Deleted), err != nil)
		}
		if err != nil {
			c.Logger.Warn("watch reconcile failed", zap.String("version", version), zap.Error(err))
		}
	}
}
