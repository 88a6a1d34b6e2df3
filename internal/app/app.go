// Package app wires configured collaborators into the pipeline components
// shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/backfill"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/config"
	"github.com/tendant/mediaref/pkg/mediaref/delivery"
	"github.com/tendant/mediaref/pkg/mediaref/lock"
	"github.com/tendant/mediaref/pkg/mediaref/migrate"
	"github.com/tendant/mediaref/pkg/mediaref/mover"
	"github.com/tendant/mediaref/pkg/mediaref/orphan"
	"github.com/tendant/mediaref/pkg/mediaref/reorganize"
)

// App holds the collaborators built from one ServerConfig.
type App struct {
	Config     *config.ServerConfig
	Logger     *slog.Logger
	Repo       mediaref.Repository
	Store      mediaref.BlobStore
	Classifier *classify.Classifier
	Delivery   *delivery.Client
	Prober     mediaref.Prober
	Locker     lock.Locker

	closers []func()
}

// New builds every collaborator. Close releases the database pool.
func New(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	store, err := cfg.BuildBlobStore(ctx)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("failed to build object store: %w", err)
	}
	locker, err := cfg.BuildLocker(ctx, logger)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("failed to build locker: %w", err)
	}

	classifier := cfg.BuildClassifier(store)
	return &App{
		Config:     cfg,
		Logger:     logger,
		Repo:       repo,
		Store:      store,
		Classifier: classifier,
		Delivery:   cfg.BuildLegacyDelivery(),
		Prober:     cfg.BuildProber(store, classifier),
		Locker:     locker,
		closers:    []func(){closeRepo},
	}, nil
}

// OnClose registers fn to run on Close.
func (a *App) OnClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases held resources in reverse registration order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) Reorganizer() *reorganize.Reorganizer {
	m := mover.New(a.Store, a.Classifier, mover.WithLogger(a.Logger))
	return reorganize.New(a.Repo, m, reorganize.WithLocker(a.Locker), reorganize.WithLogger(a.Logger))
}

func (a *App) OrphanScanner() *orphan.Scanner {
	return orphan.New(a.Repo, a.Prober, a.Classifier, orphan.WithLogger(a.Logger))
}

func (a *App) Migrator() *migrate.Migrator {
	return migrate.New(a.Repo, a.Store, a.Delivery, a.Classifier, migrate.WithLogger(a.Logger))
}

func (a *App) Backfiller() *backfill.Backfiller {
	return backfill.New(a.Repo, a.Delivery, a.Classifier, backfill.WithLogger(a.Logger))
}
