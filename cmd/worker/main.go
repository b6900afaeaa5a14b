// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ADR Report Enrichment Worker
//
// Entry point for the enrichment worker. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to MongoDB, the object store and RabbitMQ (plus Redis and
//     PostgreSQL when configured)
//  3. Consumes report.created and runs the enrichment pipeline per report
//  4. Periodically republishes reports that never finished enrichment
//  5. Serves /health and shuts down gracefully on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/adrwatch/enricher/internal/ai"
	"github.com/adrwatch/enricher/internal/alert"
	"github.com/adrwatch/enricher/internal/blob"
	"github.com/adrwatch/enricher/internal/config"
	"github.com/adrwatch/enricher/internal/health"
	"github.com/adrwatch/enricher/internal/inflight"
	"github.com/adrwatch/enricher/internal/processor"
	"github.com/adrwatch/enricher/internal/queue"
	"github.com/adrwatch/enricher/internal/repository"
	"github.com/adrwatch/enricher/internal/republish"
	"github.com/adrwatch/enricher/internal/runlog"
	"github.com/adrwatch/enricher/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Structured JSON logging; the level is adjusted once config is loaded.
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	})))

	slog.Info("starting ADR enrichment worker", "version", version)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())

	slog.Info("configuration loaded",
		"ai_provider", cfg.AI.Provider,
		"max_attempts", cfg.Processing.MaxAttempts,
		"sweep_interval", cfg.Processing.SweepInterval,
		"dead_letter", cfg.Broker.DeadLetter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Error Reporting ---
	reporter, err := alert.New(alert.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
	if err != nil {
		slog.Error("failed to initialise error reporting", "error", err)
		os.Exit(1)
	}
	defer reporter.Flush(5 * time.Second)

	// --- Connect to MongoDB ---
	repo, err := repository.Connect(ctx, repository.Config{
		URI:                 cfg.Mongo.URI,
		Database:            cfg.Mongo.Database,
		ReportsCollection:   cfg.Mongo.ReportsCollection,
		MedicinesCollection: cfg.Mongo.MedicinesCollection,
	})
	if err != nil {
		slog.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to MongoDB", "database", cfg.Mongo.Database)

	checks := []health.Check{{Name: "mongo", Probe: repo.Ping}}

	// --- Object Store ---
	// Declared as the interface so an unset bucket leaves it nil.
	var media processor.MediaFetcher
	if cfg.Storage.Bucket != "" {
		s3Client, err := blob.NewS3Client(ctx, blob.S3Options{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			slog.Error("failed to create object store client", "error", err)
			os.Exit(1)
		}
		media = blob.NewClient(s3Client, cfg.Storage.Bucket)
		slog.Info("object store configured", "bucket", cfg.Storage.Bucket)
	} else {
		slog.Warn("no storage bucket configured, attachments will be skipped")
	}

	// --- AI Client ---
	analyzer := ai.New(ai.Config{
		Credential:     cfg.AI.Credential(),
		TextModel:      cfg.AI.TextModel,
		VisionModel:    cfg.AI.VisionModel,
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
		MaxInlineBytes: cfg.AI.MaxInlineBytes,
	}, newProvider(ctx, cfg.AI))
	if analyzer.Configured() {
		slog.Info("AI analysis enabled", "provider", cfg.AI.Provider, "model", cfg.AI.TextModel)
	} else {
		slog.Warn("AI credential not configured, using rule-based fallback analysis")
	}

	// --- Optional: Redis in-flight claims ---
	var claimer worker.Claimer
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup, claims will be skipped until it recovers", "error", err)
		}
		claimer = inflight.NewGuard(rdb, cfg.Processing.InflightTTL)
		checks = append(checks, health.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		slog.Info("in-flight claims enabled", "ttl", cfg.Processing.InflightTTL)
	}

	// --- Optional: PostgreSQL run ledger ---
	var runs worker.RunRecorder
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		store, err := runlog.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise run ledger", "error", err)
			os.Exit(1)
		}
		runs = store
		checks = append(checks, health.Check{Name: "postgres", Probe: store.Ping})
		slog.Info("processing run ledger enabled")
	}

	// --- Connect to RabbitMQ ---
	broker := queue.New(queue.Config{
		URL:                  cfg.Broker.URL,
		Prefetch:             cfg.Broker.Prefetch,
		ReconnectDelay:       cfg.Broker.ReconnectDelay,
		MaxReconnectAttempts: cfg.Broker.MaxReconnectAttempts,
		DeadLetter:           cfg.Broker.DeadLetter,
	})
	if err := broker.Connect(ctx); err != nil {
		slog.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to RabbitMQ")
	checks = append(checks, health.Check{Name: "broker", Probe: broker.Check})

	// --- Pipeline ---
	proc := processor.New(processor.Config{
		Repository:  repo,
		Media:       media,
		Analyzer:    analyzer,
		MaxAttempts: cfg.Processing.MaxAttempts,
	})

	handler := worker.NewHandler(worker.HandlerConfig{
		Processor:      proc,
		Publisher:      broker,
		Claimer:        claimer,
		Runs:           runs,
		Alerter:        reporter,
		ProcessedQueue: cfg.Broker.ProcessedQueue,
	})

	sweeper := republish.NewSweeper(republish.SweeperConfig{
		Runner: republish.NewRunner(republish.RunnerConfig{
			Publisher:   broker,
			Lister:      repo,
			Queue:       cfg.Broker.CreatedQueue,
			MaxAttempts: cfg.Processing.MaxAttempts,
			RequestedBy: "sweeper",
		}),
		Interval:  cfg.Processing.SweepInterval,
		OlderThan: cfg.Processing.SweepOlderThan,
		Limit:     cfg.Processing.SweepLimit,
	})

	g, gctx := errgroup.WithContext(ctx)

	// --- Health Check Server ---
	ready, err := health.Serve(gctx, cfg.Port, health.NewHandler(health.DefaultProbeTimeout, checks...))
	if err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Consume ---
	if err := broker.Consume(gctx, cfg.Broker.CreatedQueue, handler.HandleReportCreated); err != nil {
		slog.Error("failed to start consumer", "queue", cfg.Broker.CreatedQueue, "error", err)
		os.Exit(1)
	}
	slog.Info("consuming reports", "queue", cfg.Broker.CreatedQueue)

	sweeper.Start(gctx)

	// A broker that cannot reconnect takes the whole process down.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-broker.Fatal():
			reporter.Error("broker", err)
			return err
		}
	})

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("worker stopping after fatal error", "error", runErr)
	} else {
		slog.Info("received shutdown signal")
	}

	// --- Graceful Shutdown ---
	sweeper.Stop()

	// Close waits for the in-flight report to be settled.
	if err := broker.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
		slog.Error("broker close error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := repo.Close(shutdownCtx); err != nil {
		slog.Error("mongo disconnect error", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	if pgPool != nil {
		pgPool.Close()
	}

	slog.Info("enrichment worker stopped")
	if runErr != nil {
		reporter.Flush(5 * time.Second)
		os.Exit(1)
	}
}

// newProvider builds the generative-AI backend. It returns nil when no
// credential is configured so the client stays in fallback mode.
func newProvider(ctx context.Context, cfg config.AIConfig) ai.Provider {
	switch cfg.Provider {
	case config.ProviderVertex:
		if cfg.Project == "" {
			return nil
		}
		p, err := ai.NewVertex(ctx, cfg.Project, cfg.Location)
		if err != nil {
			slog.Warn("vertex AI credentials unavailable, using fallback analysis", "error", err)
			return nil
		}
		return p
	default:
		if cfg.APIKey == "" {
			return nil
		}
		return ai.NewGemini(ai.GeminiConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey})
	}
}
