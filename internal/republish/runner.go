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

// Package republish puts reports back on the report.created queue, either
// by id or by scanning the repository for reports that never finished
// enrichment.
package republish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/adrwatch/enricher/internal/models"
	"github.com/adrwatch/enricher/internal/queue"
)

// Publisher sends a message to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Lister finds reports still waiting for enrichment.
type Lister interface {
	ListPending(ctx context.Context, limit, maxAttempts int, olderThan time.Time) ([]string, error)
}

// ErrNothingToPublish is returned when a request names no reports.
var ErrNothingToPublish = errors.New("no report ids given and pending scan not requested")

// DefaultLimit caps a pending scan when the request sets no limit.
const DefaultLimit = 100

// Request defines the scope of a republish run.
type Request struct {
	ReportIDs []string
	Pending   bool          // also republish pending reports from the repository
	Limit     int           // max pending reports to pick up
	OlderThan time.Duration // only pending reports created before now-OlderThan
	Force     bool          // reprocess even if already enriched
}

// Result summarises a republish run.
type Result struct {
	Requested int
	Published int
	Errors    int
	Failed    []string
	Elapsed   time.Duration
}

// Runner publishes report.created events.
type Runner struct {
	publisher   Publisher
	lister      Lister
	queue       string
	maxAttempts int
	requestedBy string
	now         func() time.Time
}

// RunnerConfig holds dependencies for the runner.
type RunnerConfig struct {
	Publisher Publisher
	// Lister is only needed for pending scans.
	Lister      Lister
	Queue       string
	MaxAttempts int
	RequestedBy string
	Now         func() time.Time
}

// NewRunner creates a republish runner.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		publisher:   cfg.Publisher,
		lister:      cfg.Lister,
		queue:       cfg.Queue,
		maxAttempts: cfg.MaxAttempts,
		requestedBy: cfg.RequestedBy,
		now:         cfg.Now,
	}
	if r.queue == "" {
		r.queue = queue.ReportCreatedQueue
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run publishes one event per distinct report. A failed publish is counted
// and the run continues; only a failed pending scan or a cancelled context
// aborts it.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ids := lo.Compact(lo.Map(req.ReportIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	}))

	if req.Pending {
		pending, err := r.pending(ctx, req)
		if err != nil {
			return nil, err
		}
		ids = append(ids, pending...)
	}

	ids = lo.Uniq(ids)
	if len(ids) == 0 && !req.Pending {
		return nil, ErrNothingToPublish
	}

	slog.Info("starting republish",
		"queue", r.queue,
		"reports", len(ids),
		"pending_scan", req.Pending,
		"force", req.Force,
	)

	result := &Result{Requested: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Elapsed = time.Since(start)
			return result, fmt.Errorf("republish interrupted: %w", err)
		}

		event := models.ReportCreatedEvent{
			ReportID:       id,
			ForceReprocess: req.Force,
			RequestedBy:    r.requestedBy,
		}
		if err := r.publisher.Publish(ctx, r.queue, event); err != nil {
			slog.Error("republish failed", "report_id", id, "error", err)
			result.Errors++
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Published++
	}

	result.Elapsed = time.Since(start)

	slog.Info("republish complete",
		"published", result.Published,
		"errors", result.Errors,
		"elapsed", result.Elapsed.String(),
	)
	return result, nil
}

func (r *Runner) pending(ctx context.Context, req Request) ([]string, error) {
	if r.lister == nil {
		return nil, fmt.Errorf("pending scan requested but no repository configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	cutoff := r.now().UTC().Add(-req.OlderThan)

	ids, err := r.lister.ListPending(ctx, limit, r.maxAttempts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	return ids, nil
}
