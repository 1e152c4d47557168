package app

import (
	"context"
	"fmt"
	"log/slog"

	"MaterialsMonitor/internal/config"
	"MaterialsMonitor/internal/dedup"
	"MaterialsMonitor/internal/domain"
	"MaterialsMonitor/internal/enrich"
	"MaterialsMonitor/internal/feed"
	"MaterialsMonitor/internal/infrastructure/sources"
	"MaterialsMonitor/internal/infrastructure/storage"
	"MaterialsMonitor/internal/logging"
	"MaterialsMonitor/internal/parser"
	"MaterialsMonitor/internal/resolve"
	"MaterialsMonitor/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.SQLiteStore
	runner *usecase.Runner
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	entityStore := storage.NewSQLiteEntityStore(store.DB())
	resolver, err := resolve.Load(context.Background(), entityStore, 0.6)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	quality := sources.NewQualityFilter(cfg.Quality.Allowlist, cfg.Quality.Blocklist)

	registry := feed.NewRegistry()
	registry.Register(sources.NewRSSAdapter(nil, quality, baseLogger.With("component", "adapter.rss")))
	registry.Register(sources.NewHTMLListAdapter(nil, quality, baseLogger.With("component", "adapter.htmllist")))
	registry.Register(sources.NewJSONAPIAdapter(nil, quality, baseLogger.With("component", "adapter.jsonapi")))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Registry: registry,
		Parser:   parser.New(),
		Dedup:    dedup.New(store, baseLogger.With("component", "dedup")),
		Resolver: resolver,
		Enricher: enrich.New(enricherConfig(cfg)),
		Records:  store,
		Cursors:  store,
		Logger:   baseLogger.With("component", "pipeline"),
	})

	runner, err := usecase.NewRunner(pipeline, len(cfg.Feeds), baseLogger.With("component", "runner"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build runner: %w", err)
	}

	return &Application{cfg: cfg, logger: baseLogger, store: store, runner: runner}, nil
}

// Run executes one ingest pass over every configured feed. An external
// scheduler collaborator decides how often this fires.
func (a *Application) Run(ctx context.Context) error {
	return a.runner.RunAll(ctx, a.cfg.Feeds)
}

// Close tears down the worker pool and the store.
func (a *Application) Close() error {
	a.runner.Release()
	return a.store.Close()
}

func enricherConfig(cfg config.Config) enrich.Config {
	rules := make([]enrich.Rule, 0, len(cfg.Tagging.Rules))
	for _, rule := range cfg.Tagging.Rules {
		rules = append(rules, enrich.Rule{
			Tag:          rule.Tag,
			Keywords:     rule.Keywords,
			Severity:     rule.Severity,
			WhyItMatters: rule.WhyItMatters,
		})
	}

	trust := make(map[domain.SourceKind]float64, len(cfg.Scoring.TrustWeights))
	for kind, weight := range cfg.Scoring.TrustWeights {
		trust[domain.SourceKind(kind)] = weight
	}

	return enrich.Config{
		RuleVersion:  cfg.Tagging.Version,
		Rules:        rules,
		EntityWeight: cfg.Scoring.EntityWeight,
		TrustWeights: trust,
	}
}
