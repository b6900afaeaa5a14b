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

// Package worker turns report.created deliveries into processing runs and
// decides how each delivery is settled.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/adrwatch/enricher/internal/inflight"
	"github.com/adrwatch/enricher/internal/models"
	"github.com/adrwatch/enricher/internal/processor"
	"github.com/adrwatch/enricher/internal/queue"
	"github.com/adrwatch/enricher/internal/runlog"
)

// Processor runs the enrichment pipeline for one report.
type Processor interface {
	Process(ctx context.Context, job processor.Job) *processor.Result
}

// Publisher sends a message to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Claimer guards against two consumers working on the same report.
type Claimer interface {
	Acquire(ctx context.Context, reportID string) (*inflight.Claim, error)
	Release(ctx context.Context, c *inflight.Claim) error
}

// RunRecorder stores a record of every processing run.
type RunRecorder interface {
	Record(ctx context.Context, r runlog.Run) error
}

// Alerter is notified of failed runs.
type Alerter interface {
	ProcessingFailed(reportID, step, message string, retryable bool)
}

// DefaultHeldRetryDelay is how long a delivery for a report claimed by
// another consumer is held before it goes back to the queue.
const DefaultHeldRetryDelay = 2 * time.Second

// Handler consumes report.created events.
type Handler struct {
	processor      Processor
	publisher      Publisher
	claimer        Claimer
	runs           RunRecorder
	alerter        Alerter
	processedQueue string
	heldDelay      time.Duration
}

// HandlerConfig holds dependencies for the handler. Claimer, Runs and
// Alerter are optional.
type HandlerConfig struct {
	Processor      Processor
	Publisher      Publisher
	Claimer        Claimer
	Runs           RunRecorder
	Alerter        Alerter
	ProcessedQueue string
	// HeldRetryDelay paces redeliveries of a report whose claim is held
	// elsewhere. Zero uses DefaultHeldRetryDelay.
	HeldRetryDelay time.Duration
}

// NewHandler creates a report.created handler.
func NewHandler(cfg HandlerConfig) *Handler {
	q := cfg.ProcessedQueue
	if q == "" {
		q = queue.ReportProcessedQueue
	}
	delay := cfg.HeldRetryDelay
	if delay <= 0 {
		delay = DefaultHeldRetryDelay
	}
	return &Handler{
		processor:      cfg.Processor,
		publisher:      cfg.Publisher,
		claimer:        cfg.Claimer,
		runs:           cfg.Runs,
		alerter:        cfg.Alerter,
		processedQueue: q,
		heldDelay:      delay,
	}
}

// HandleReportCreated processes one report.created message body:
//   - malformed payloads are rejected
//   - a report claimed by another consumer is requeued after a pause; the
//     holder may have crashed, so the delivery is never dropped
//   - success is acked and announced on report.processed (unless the
//     report had already been processed)
//   - retryable failures are requeued, permanent ones rejected
func (h *Handler) HandleReportCreated(ctx context.Context, body []byte) queue.Outcome {
	var event models.ReportCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("invalid report.created payload", "error", err, "body_len", len(body))
		return queue.Reject
	}
	event.ReportID = strings.TrimSpace(event.ReportID)
	if event.ReportID == "" {
		slog.Error("report.created payload has no reportId")
		return queue.Reject
	}

	claim, held := h.claim(ctx, event.ReportID)
	if held {
		slog.Info("report claimed by another consumer, requeueing",
			"report_id", event.ReportID,
			"delay", h.heldDelay,
		)
		h.pause(ctx)
		return queue.Requeue
	}
	defer h.release(ctx, claim)

	startedAt := time.Now().UTC()
	res := h.processor.Process(ctx, processor.Job{
		ReportID:       event.ReportID,
		ForceReprocess: event.ForceReprocess,
	})
	h.record(ctx, res, startedAt)

	if !res.Success {
		if h.alerter != nil {
			h.alerter.ProcessingFailed(res.ReportID, failedStep(res), res.Error, res.Retryable)
		}
		if res.Retryable {
			slog.Warn("processing failed, requeueing", "report_id", res.ReportID, "error", res.Error)
			return queue.Requeue
		}
		slog.Error("processing failed permanently, rejecting", "report_id", res.ReportID, "error", res.Error)
		return queue.Reject
	}

	if !res.AlreadyProcessed {
		h.announce(ctx, res)
	}
	return queue.Ack
}

// claim returns held=true only when another consumer owns the report.
// Redis being unavailable is not a reason to stop processing.
func (h *Handler) claim(ctx context.Context, reportID string) (claim *inflight.Claim, held bool) {
	if h.claimer == nil {
		return nil, false
	}
	c, err := h.claimer.Acquire(ctx, reportID)
	if err != nil {
		slog.Warn("inflight claim failed, proceeding without it", "report_id", reportID, "error", err)
		return nil, false
	}
	return c, c == nil
}

func (h *Handler) pause(ctx context.Context) {
	t := time.NewTimer(h.heldDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (h *Handler) release(ctx context.Context, c *inflight.Claim) {
	if h.claimer == nil || c == nil {
		return
	}
	if err := h.claimer.Release(ctx, c); err != nil {
		slog.Warn("inflight release failed", "error", err)
	}
}

func (h *Handler) record(ctx context.Context, res *processor.Result, startedAt time.Time) {
	if h.runs == nil {
		return
	}
	if err := h.runs.Record(ctx, runlog.FromResult(res, startedAt)); err != nil {
		slog.Warn("failed to record processing run", "report_id", res.ReportID, "error", err)
	}
}

// announce publishes report.processed. The analysis is already stored, so
// a publish failure does not fail the delivery.
func (h *Handler) announce(ctx context.Context, res *processor.Result) {
	event := models.ReportProcessedEvent{
		ReportID:     res.ReportID,
		Status:       models.ProcessedStatus,
		Analysis:     res.Analysis,
		ModelUsed:    res.ModelUsed,
		FallbackUsed: res.FallbackUsed,
		ProcessedAt:  time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, h.processedQueue, event); err != nil {
		slog.Error("failed to publish report.processed", "report_id", res.ReportID, "error", err)
	}
}

func failedStep(res *processor.Result) string {
	for i := len(res.Steps) - 1; i >= 0; i-- {
		if res.Steps[i].Status == processor.StepFailed {
			return res.Steps[i].Name
		}
	}
	return ""
}
