package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rssdigest/internal/config"
	"rssdigest/internal/infrastructure/email"
	"rssdigest/internal/infrastructure/feed"
	"rssdigest/internal/infrastructure/llm"
	"rssdigest/internal/infrastructure/storage"
	"rssdigest/internal/logging"
	"rssdigest/internal/ports"
	"rssdigest/internal/usecase"
)

// Application wires configuration to adapters and the pipeline for one run.
type Application struct {
	pipeline *usecase.Pipeline
	logger   *slog.Logger
}

// New builds a runnable application instance. All configuration is resolved
// here, before any network call is made.
func New(cfg config.Config, opts config.Options, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if opts.OutputDir != "" {
		cfg.Email.OutputDir = opts.OutputDir
	}

	var store ports.ArticleStore
	if cfg.Database.DSN != "" {
		db, err := storage.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open article store: %w", err)
		}
		store = storage.NewPostgresStore(db)
	}

	if err := opts.Validate(store != nil); err != nil {
		return nil, err
	}

	source := feed.NewReader(cfg.Feeds, nil, baseLogger.With("component", "feed"))
	generator := llm.NewClient(cfg.LLM, baseLogger.With("component", "llm"))

	deliverer, err := email.NewSender(cfg.Email, baseLogger.With("component", "email"))
	if err != nil {
		return nil, fmt.Errorf("build email sender: %w", err)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:         source,
		Generator:      generator,
		Deliverer:      deliverer,
		Store:          store,
		Options:        opts,
		InputPriceUSD:  cfg.LLM.InputPriceUSD,
		OutputPriceUSD: cfg.LLM.OutputPriceUSD,
		Logger:         baseLogger.With("component", "pipeline"),
	})

	return &Application{pipeline: pipeline, logger: baseLogger}, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) error {
	_, err := a.pipeline.Run(ctx, time.Now().UTC())
	return err
}
