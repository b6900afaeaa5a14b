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

// ADR Report Republish Command
//
// Standalone CLI that puts reports back on the report.created queue, either
// by id or by scanning MongoDB for reports that never finished enrichment.
//
// Usage:
//
//	republish [report-id ...] [--pending] [--limit 100] [--older-than 15m] [--force]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrwatch/enricher/internal/config"
	"github.com/adrwatch/enricher/internal/queue"
	"github.com/adrwatch/enricher/internal/repository"
	"github.com/adrwatch/enricher/internal/republish"
)

type options struct {
	pending   bool
	limit     int
	olderThan time.Duration
	force     bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "republish [report-id ...]",
		Short: "Queue ADR reports for AI enrichment",
		Long: "Publishes report.created events for the given report ids and, with --pending,\n" +
			"for every report that has not been AI-processed and is still under the attempt limit.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.pending {
				return fmt.Errorf("give at least one report id or --pending")
			}
			return run(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.pending, "pending", false, "also republish reports still waiting for enrichment")
	cmd.Flags().IntVar(&opts.limit, "limit", republish.DefaultLimit, "max pending reports to republish")
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 15*time.Minute, "only pending reports created at least this long ago")
	cmd.Flags().BoolVar(&opts.force, "force", false, "reprocess reports even if already enriched")
	return cmd
}

func run(ctx context.Context, ids []string, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Connect to RabbitMQ ---
	broker := queue.New(queue.Config{
		URL:                  cfg.Broker.URL,
		MaxReconnectAttempts: 1,
		DeadLetter:           cfg.Broker.DeadLetter,
	})
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer broker.Close()

	runnerCfg := republish.RunnerConfig{
		Publisher:   broker,
		Queue:       cfg.Broker.CreatedQueue,
		MaxAttempts: cfg.Processing.MaxAttempts,
		RequestedBy: "cli",
	}

	// MongoDB is only needed for the pending scan.
	if opts.pending {
		repo, err := repository.Connect(ctx, repository.Config{
			URI:                 cfg.Mongo.URI,
			Database:            cfg.Mongo.Database,
			ReportsCollection:   cfg.Mongo.ReportsCollection,
			MedicinesCollection: cfg.Mongo.MedicinesCollection,
		})
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer repo.Close(context.Background())
		runnerCfg.Lister = repo
	}

	result, err := republish.NewRunner(runnerCfg).Run(ctx, republish.Request{
		ReportIDs: ids,
		Pending:   opts.pending,
		Limit:     opts.limit,
		OlderThan: opts.olderThan,
		Force:     opts.force,
	})
	if err != nil {
		return err
	}

	// --- Summary ---
	slog.Info("republish summary",
		"requested", result.Requested,
		"published", result.Published,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	for _, id := range result.Failed {
		slog.Warn("report not republished", "report_id", id)
	}
	if result.Errors > 0 {
		return fmt.Errorf("%d of %d reports failed to publish", result.Errors, result.Requested)
	}
	return nil
}
