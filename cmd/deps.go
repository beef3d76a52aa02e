package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/gallery"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/worker"
)

func openStore(ctx context.Context) (store.Store, error) {
	s, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresURL: cfg.Store.PostgresURL,
	}, logging.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return s, nil
}

func newEngine() (*worker.Engine, error) {
	dist, err := engine.MetricByName(cfg.Engine.Metric)
	if err != nil {
		return nil, err
	}
	return worker.NewEngine(worker.Options{
		Python:      cfg.Engine.Python,
		Script:      cfg.Engine.Script,
		ReadTimeout: cfg.EngineReadTimeout(),
		Distance:    dist,
	}, logging.Component(logger, "engine")), nil
}

func newGallery() *gallery.Gallery {
	return gallery.New(cfg.Paths.TempDir, cfg.Paths.DatasetDir)
}
