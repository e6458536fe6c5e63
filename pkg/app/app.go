// Package app wires the configured stores, connectors and services into a
// runnable engine shared by the web server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/de-tools/cost-atlas/pkg/config"
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/connector/aws"
	"github.com/de-tools/cost-atlas/pkg/connector/azure"
	"github.com/de-tools/cost-atlas/pkg/connector/gcp"
	"github.com/de-tools/cost-atlas/pkg/connector/mock"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/server"
	"github.com/de-tools/cost-atlas/pkg/services/account"
	"github.com/de-tools/cost-atlas/pkg/services/aggregation"
	"github.com/de-tools/cost-atlas/pkg/services/alarm"
	"github.com/de-tools/cost-atlas/pkg/services/ingestion"
	"github.com/de-tools/cost-atlas/pkg/services/linking"
	"github.com/de-tools/cost-atlas/pkg/services/normalize"
	"github.com/de-tools/cost-atlas/pkg/services/query"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/duckdb"
	"github.com/de-tools/cost-atlas/pkg/store/duckdb/costs"
	"github.com/de-tools/cost-atlas/pkg/store/duckdb/documents"
	"github.com/de-tools/cost-atlas/pkg/store/memory"
	"github.com/rs/zerolog"
)

// Engine holds every long lived component of the process.
type Engine struct {
	Repos      store.Repositories
	Costs      store.CostStore
	Connectors connector.Registry

	Aggregator *aggregation.Aggregator
	Events     *alarm.EventService
	Rules      *alarm.RuleService
	Evaluator  *alarm.Evaluator
	Ingestion  *ingestion.DefaultController
	Linking    *linking.Service
	Accounts   *account.Service
	Query      *query.Service

	db *sql.DB
}

// New builds the engine described by cfg. Close releases the store.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	e := &Engine{}

	if err := e.openStore(cfg.Storage); err != nil {
		return nil, err
	}

	registry, err := buildConnectors(ctx, cfg.Connectors)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.Connectors = registry

	pipeline, err := buildPipeline(cfg.Normalization)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	e.Aggregator = aggregation.NewAggregator(e.Costs)
	e.Events = alarm.NewEventService(e.Repos.Events)
	e.Rules = alarm.NewRuleService(e.Repos.Rules)
	e.Evaluator = alarm.NewEvaluator(e.Repos, e.Events, e.Aggregator, alarm.Options{
		Interval:            cfg.Alarms.Interval,
		ForecastWindowDays:  cfg.Alarms.ForecastWindowDays,
		DefaultStdDevs:      cfg.Alarms.DefaultStdDevs,
		DefaultTrailingDays: cfg.Alarms.DefaultTrailingDays,
	})

	runner := ingestion.NewRunner(e.Repos.Accounts, e.Costs, registry, pipeline, e.Evaluator)
	e.Ingestion = ingestion.NewController(runner, e.Repos.Accounts, ingestion.Options{
		Workers:      cfg.Ingestion.Workers,
		LookbackDays: cfg.Ingestion.LookbackDays,
		BackfillDays: cfg.Ingestion.BackfillDays,
		QueueSize:    cfg.Ingestion.QueueSize,
	})

	principals := make(map[domain.Provider]string)
	if cfg.Connectors.PlatformPrincipal != "" {
		principals[domain.ProviderAWS] = cfg.Connectors.PlatformPrincipal
	}
	e.Linking = linking.NewService(e.Repos, registry, e.Ingestion, linking.Options{
		TTL:             cfg.Linking.TTL,
		FinalizeTimeout: cfg.Linking.FinalizeTimeout,
		SweepInterval:   cfg.Linking.SweepInterval,
		Principals:      principals,
	})
	e.Accounts = account.NewService(e.Repos.Accounts, registry, cfg.Linking.FinalizeTimeout)
	e.Query = query.NewService(e.Aggregator, e.Costs, e.Events)

	return e, nil
}

func (e *Engine) openStore(cfg config.StorageConfig) error {
	switch cfg.Driver {
	case config.DriverMemory:
		e.Costs = memory.NewCostStore()
		e.Repos = store.NewRepositories(memory.NewKV())
		return nil
	case config.DriverDuckDB:
		db, err := duckdb.NewDB(duckdb.Settings{DbPath: cfg.Path, Threads: cfg.Threads})
		if err != nil {
			return fmt.Errorf("failed to create DuckDB instance: %w", err)
		}
		e.db = db

		costStore, err := costs.NewStore(db)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to create cost store: %w", err)
		}
		docs, err := documents.NewStore(db)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to create document store: %w", err)
		}
		e.Costs = costStore
		e.Repos = store.NewRepositories(docs)
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func buildConnectors(ctx context.Context, cfg config.ConnectorsConfig) (connector.Registry, error) {
	retry := connector.RetryPolicy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
	}

	factories := map[domain.Provider]struct {
		mode string
		real connector.Factory
	}{
		domain.ProviderAWS: {cfg.AWS, func() (connector.Connector, error) {
			c, err := aws.New(ctx, aws.Options{
				Region:          cfg.AWSRegion,
				SessionName:     cfg.SessionName,
				SessionDuration: cfg.SessionDuration,
				Retry:           retry,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		}},
		domain.ProviderGCP: {cfg.GCP, func() (connector.Connector, error) {
			return gcp.New(gcp.Options{Dataset: cfg.GCPBillingDataset, Retry: retry}), nil
		}},
		domain.ProviderAzure: {cfg.Azure, func() (connector.Connector, error) {
			return azure.New(azure.Options{Retry: retry}), nil
		}},
	}

	registry := connector.NewRegistry()
	for provider, f := range factories {
		factory := f.real
		if f.mode == config.ConnectorMock {
			factory = func() (connector.Connector, error) { return mock.New(provider), nil }
		}
		if err := registry.Register(provider, factory); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildPipeline(cfg config.NormalizationConfig) (*normalize.Pipeline, error) {
	if cfg.RatesFile == "" {
		return normalize.NewPipeline(nil, nil), nil
	}
	rates, err := normalize.LoadRatesFile(cfg.RatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	return normalize.NewPipeline(rates, nil), nil
}

// Run starts the background loops: the ingestion queue, the link expiry
// sweep and the alarm evaluator. It returns once ctx is cancelled and every
// loop has stopped.
func (e *Engine) Run(ctx context.Context) {
	loops := []func(context.Context){e.Ingestion.Run, e.Linking.Run, e.Evaluator.Run}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
	zerolog.Ctx(ctx).Info().Msg("background loops stopped")
}

// ServerConfig exposes the engine through the HTTP API.
func (e *Engine) ServerConfig(cfg *config.Config, logger zerolog.Logger) server.Config {
	return server.Config{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Dependencies: server.Dependencies{
			Linking:   e.Linking,
			Accounts:  e.Accounts,
			Ingestion: e.Ingestion,
			Rules:     e.Rules,
			Events:    e.Events,
			Tester:    e.Evaluator,
			Query:     e.Query,
			Logger:    logger,
		},
	}
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
