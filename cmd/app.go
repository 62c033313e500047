package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poetry-tutor/internal/config"
	"poetry-tutor/internal/logger"
	"poetry-tutor/internal/metrics"
	"poetry-tutor/internal/operations"
	"poetry-tutor/internal/pipeline"
	"poetry-tutor/internal/provider"
	providerfactory "poetry-tutor/internal/provider/factory"
	"poetry-tutor/internal/router"
)

// app bundles the components shared by serve and invoke.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	catalog, err := operations.Default()
	if err != nil {
		return nil, err
	}
	cfg.EnsureModels(catalog.Models()...)

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(ctx, cfg, registry); err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Options{
		Catalog:      catalog,
		Dispatcher:   router.New(registry),
		DefaultModel: cfg.LLM.DefaultModel,
		Logger:       log,
		Metrics:      metrics.New(reg),
	})
	if err != nil {
		return nil, err
	}

	log.Debug("pipeline ready",
		zap.Strings("models", registry.ModelIDs()),
		zap.Int("operations", len(catalog.All())),
	)

	return &app{cfg: cfg, logger: log, pipeline: p}, nil
}
