package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/caarlos0/env/v6"
	"github.com/dealpool/ingest/cmd/ingest/config"
	"github.com/dealpool/ingest/internal/adapter"
	"github.com/dealpool/ingest/internal/handler"
	"github.com/dealpool/ingest/internal/ingest"
	"github.com/dealpool/ingest/internal/normalizer"
	"github.com/dealpool/ingest/internal/platform/rabbitmq"
	"github.com/dealpool/ingest/internal/platform/retry"
	"github.com/dealpool/ingest/internal/platform/storage"
	"github.com/dealpool/ingest/internal/report"
	"github.com/dealpool/ingest/internal/scheduler"
	"github.com/dealpool/ingest/internal/upsert"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cfg config.Config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't parse env variables")
	}

	shops, err := config.LoadShops(cfg.ShopsFile)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't load shops file")
	}

	amqpConnection, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't open RabbitMQ connection")
	}

	conn, err := rabbitmq.NewRabbitMQ(amqpConnection, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't open RabbitMQ channel")
	}

	pgDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't open Postgres connection")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	unitRetry := retry.Policy{
		MaxAttempts: cfg.Ingest.RetryAttempts,
		BaseDelay:   cfg.Ingest.RetryBaseDelay,
		Multiplier:  cfg.Ingest.RetryMultiplier,
	}

	registry, err := adapter.NewRegistry(buildAdapters(shops, httpClient, unitRetry)...)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't build adapter registry")
	}

	store := storage.NewPostgres(pgDB)
	runner := ingest.NewRunner(
		registry,
		store,
		upsert.New(store),
		ingest.Config{
			Concurrency:        cfg.Ingest.Concurrency,
			PerShopConcurrency: cfg.Ingest.PerShopConcurrency,
			UnitTimeout:        cfg.Ingest.UnitTimeout,
			UnitRetry:          unitRetry,
			StorageRetry:       retry.DefaultPolicy,
			ShopRules:          buildRules(shops),
		},
		&logger,
	)

	reporter := report.NewEmitter(conn, cfg.RabbitMQ.ReportRoutingKey, &logger)

	han := handler.NewHandler(conn, runner, reporter, &logger)

	// start consuming and handling run commands
	err = han.Start(ctx, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Fatal().
			Err(err).
			Msg("can't start consuming")
	}

	sched := scheduler.New(runner, reporter, cfg.Ingest.Interval, &logger)
	sched.Start(ctx)

	logger.Info().
		Int("shops", len(shops)).
		Msg("deal ingestion up and running")

	// handle graceful shutdown and context cancellation
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-termChan:
		cancel()
	case <-ctx.Done():
	}

	logger.Info().Msg("graceful shutdown start")

	// wait for the consumer and the scheduler to finish
	<-conn.Done()
	sched.Wait()

	// close connections
	wg := sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := pgDB.Close(); err != nil {
			logger.Fatal().
				Err(err).
				Msg("can't close Postgres connection")
		}
	}()

	go func() {
		defer wg.Done()
		if err := amqpConnection.Close(); err != nil {
			logger.Fatal().
				Err(err).
				Msg("can't close RabbitMQ connection")
		}
	}()

	wg.Wait()

	logger.Info().Msg("graceful shutdown successful")
}

func buildAdapters(shops []config.Shop, client *http.Client, pol retry.Policy) []adapter.Adapter {
	adapters := make([]adapter.Adapter, 0, len(shops))
	for _, shop := range shops {
		switch shop.Kind {
		case config.KindAPI:
			adapters = append(adapters, adapter.NewAPI(adapter.APIConfig{
				Slug:              shop.Slug,
				BaseURL:           shop.BaseURL,
				ClientID:          shop.ClientID,
				ClientSecret:      shop.ClientSecret,
				PageSize:          shop.PageSize,
				MaxPages:          shop.MaxPages,
				RequestsPerSecond: shop.RequestsPerSecond,
				Retry:             pol,
			}, client))
		case config.KindScrape:
			adapters = append(adapters, adapter.NewScrape(adapter.ScrapeConfig{
				Slug:              shop.Slug,
				BaseURL:           shop.BaseURL,
				MaxPages:          shop.MaxPages,
				RequestsPerSecond: shop.RequestsPerSecond,
				Retry:             pol,
			}, client))
		}
	}

	return adapters
}

func buildRules(shops []config.Shop) map[string]normalizer.Rules {
	rules := make(map[string]normalizer.Rules, len(shops))
	for _, shop := range shops {
		if len(shop.CategoryLabels) == 0 {
			continue
		}
		rules[shop.Slug] = normalizer.Rules{CategoryLabels: shop.CategoryLabels}
	}

	return rules
}
