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

// Package processor runs the enrichment pipeline for a single report:
// load the report, fetch its attachments, analyse it and persist the
// analysis. Each run produces a Result; Process never returns an error.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adrwatch/enricher/internal/ai"
	"github.com/adrwatch/enricher/internal/models"
)

var (
	// ErrReportNotFound means the event references a report that does not exist.
	ErrReportNotFound = errors.New("report not found")
	// ErrAttemptLimit means the report has failed too many times to retry.
	ErrAttemptLimit = errors.New("processing attempt limit reached")
	// ErrStepPanic wraps a panic recovered from a pipeline step.
	ErrStepPanic = errors.New("pipeline step panicked")
)

// Repository is the report storage the pipeline reads from and writes to.
type Repository interface {
	FindReport(ctx context.Context, id string) (*models.Report, error)
	FindMedication(ctx context.Context, id string) (*models.Medication, error)
	ApplyUpdate(ctx context.Context, id string, patch *models.ReportPatch) error
}

// MediaFetcher resolves attachment references to bytes. Missing or failing
// attachments are omitted from the result.
type MediaFetcher interface {
	GetManyForProcessing(ctx context.Context, refs []models.AttachmentRef) []models.MediaFile
}

// Analyzer produces an analysis for a report. It does not fail; degraded
// runs are reported through the result.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, data ai.ReportData, media []models.MediaFile) *ai.Result
}

// Job is one request to process a report.
type Job struct {
	ReportID       string
	ForceReprocess bool
}

// Step statuses.
const (
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

// StepResult records how one pipeline step went.
type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"durationNs"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of one Process call.
type Result struct {
	Success          bool
	ReportID         string
	Analysis         *models.AnalysisResult
	ModelUsed        string
	FallbackUsed     bool
	AlreadyProcessed bool
	// Retryable is set on failures that may succeed on a later attempt.
	Retryable      bool
	Error          string
	Errors         []string
	ProcessingTime time.Duration
	Steps          []StepResult
}

// Processor runs the pipeline.
type Processor struct {
	repo        Repository
	media       MediaFetcher
	analyzer    Analyzer
	maxAttempts int
	now         func() time.Time
	steps       []step
}

// Config holds dependencies for the processor.
type Config struct {
	Repository Repository
	Media      MediaFetcher
	Analyzer   Analyzer
	// MaxAttempts stops retrying a report once this many runs have failed.
	// Zero disables the limit.
	MaxAttempts int
	Now         func() time.Time
}

// processingContext is the state shared by the steps of one run.
type processingContext struct {
	job              Job
	report           *models.Report
	medication       *models.Medication
	media            []models.MediaFile
	analysis         *ai.Result
	alreadyProcessed bool
}

type step struct {
	name string
	run  func(ctx context.Context, pc *processingContext) error
}

// New creates a processor.
func New(cfg Config) *Processor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Processor{
		repo:        cfg.Repository,
		media:       cfg.Media,
		analyzer:    cfg.Analyzer,
		maxAttempts: cfg.MaxAttempts,
		now:         now,
	}
	p.steps = []step{
		{"fetchReportData", p.fetchReportData},
		{"fetchMediaFiles", p.fetchMediaFiles},
		{"analyzeWithAI", p.analyzeWithAI},
		{"updateReport", p.updateReport},
	}
	return p
}

// Process runs every step in order and stops at the first failure.
func (p *Processor) Process(ctx context.Context, job Job) *Result {
	start := time.Now()
	pc := &processingContext{job: job}
	result := &Result{ReportID: job.ReportID}

	slog.Info("processing report", "report_id", job.ReportID, "force", job.ForceReprocess)

	for _, s := range p.steps {
		// Steps after the first are no-ops for a report that is already done.
		if pc.alreadyProcessed {
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StepSkipped})
			continue
		}

		stepStart := time.Now()
		err := runStep(ctx, s, pc)
		sr := StepResult{Name: s.name, Status: StepCompleted, Duration: time.Since(stepStart)}
		if err != nil {
			sr.Status = StepFailed
			sr.Error = err.Error()
			result.Steps = append(result.Steps, sr)
			return p.fail(ctx, pc, result, s.name, err, start)
		}
		result.Steps = append(result.Steps, sr)
		slog.Debug("step complete", "report_id", job.ReportID, "step", s.name, "duration", sr.Duration)
	}

	result.Success = true
	result.ProcessingTime = time.Since(start)

	if pc.alreadyProcessed {
		result.AlreadyProcessed = true
		result.Analysis = pc.report.Metadata.AIAnalysis
		result.ModelUsed = pc.report.Metadata.AIModelUsed
		if result.Analysis != nil {
			result.FallbackUsed = result.Analysis.FallbackUsed
		}
		slog.Info("report already processed, skipping", "report_id", job.ReportID)
		return result
	}

	result.Analysis = pc.analysis.Analysis
	result.ModelUsed = pc.analysis.ModelUsed
	result.FallbackUsed = pc.analysis.FallbackUsed

	slog.Info("report processed",
		"report_id", job.ReportID,
		"model", result.ModelUsed,
		"fallback", result.FallbackUsed,
		"risk_score", result.Analysis.OverallRiskScore,
		"duration", result.ProcessingTime,
	)
	return result
}

// runStep turns a panic in a step into an ordinary step failure so the
// failure is recorded like any other.
func runStep(ctx context.Context, s step, pc *processingContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()
	return s.run(ctx, pc)
}

func (p *Processor) fetchReportData(ctx context.Context, pc *processingContext) error {
	report, err := p.repo.FindReport(ctx, pc.job.ReportID)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}
	if report == nil {
		return fmt.Errorf("%w: %s", ErrReportNotFound, pc.job.ReportID)
	}
	pc.report = report

	if report.Metadata.AIProcessed && !pc.job.ForceReprocess {
		pc.alreadyProcessed = true
		return nil
	}

	if p.maxAttempts > 0 && !pc.job.ForceReprocess && report.Metadata.AIProcessingAttempts >= p.maxAttempts {
		return fmt.Errorf("%w: %d failed attempts", ErrAttemptLimit, report.Metadata.AIProcessingAttempts)
	}

	// A missing medicine only reduces prompt context.
	med, err := p.repo.FindMedication(ctx, report.Medicine)
	if err != nil {
		slog.Warn("medicine lookup failed", "report_id", report.ID, "medicine", report.Medicine, "error", err)
	} else if med == nil && report.Medicine != "" {
		slog.Warn("medicine not found", "report_id", report.ID, "medicine", report.Medicine)
	}
	pc.medication = med
	return nil
}

func (p *Processor) fetchMediaFiles(ctx context.Context, pc *processingContext) error {
	refs := pc.report.Attachments
	if len(refs) == 0 || p.media == nil {
		return nil
	}
	pc.media = p.media.GetManyForProcessing(ctx, refs)
	if len(pc.media) < len(refs) {
		slog.Warn("some attachments unavailable",
			"report_id", pc.report.ID, "requested", len(refs), "fetched", len(pc.media))
	}
	return nil
}

func (p *Processor) analyzeWithAI(ctx context.Context, pc *processingContext) error {
	data := ai.ReportData{Report: pc.report, Medication: pc.medication}

	var res *ai.Result
	if p.analyzer != nil {
		res = p.analyzer.AnalyzeReport(ctx, data, pc.media)
	}
	if res == nil || res.Analysis == nil {
		now := p.now()
		res = &ai.Result{
			Success:      true,
			Analysis:     ai.FallbackAnalysis(data, now),
			ModelUsed:    ai.FallbackModel,
			ProcessedAt:  now,
			FallbackUsed: true,
		}
	}
	if res.Error != "" {
		slog.Warn("analysis degraded to fallback", "report_id", pc.report.ID, "error", res.Error)
	}
	pc.analysis = res
	return nil
}

func (p *Processor) updateReport(ctx context.Context, pc *processingContext) error {
	patch := successPatch(pc.report, pc.analysis, p.now())
	if err := p.repo.ApplyUpdate(ctx, pc.report.ID, patch); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func successPatch(report *models.Report, res *ai.Result, now time.Time) *models.ReportPatch {
	a := res.Analysis
	patch := models.NewReportPatch().
		Set("priority", a.Priority).
		Set("metadata.aiProcessed", true).
		Set("metadata.aiProcessedAt", res.ProcessedAt).
		Set("metadata.aiModelUsed", res.ModelUsed).
		Set("metadata.aiAnalysis", a).
		Set("metadata.aiRiskScore", a.OverallRiskScore).
		Set("updatedAt", now).
		Unset("metadata.aiLastError").
		Unset("metadata.aiLastErrorAt")

	if len(report.SideEffects) > 0 {
		patch.Set("sideEffects.0.aiSeverity", a.Severity.Level)
		if report.SideEffects[0].BodySystem == "" && len(a.BodySystemsAffected) > 0 {
			patch.Set("sideEffects.0.bodySystem", a.BodySystemsAffected[0])
		}
	}
	if a.Seriousness.Classification != "" {
		patch.Set("reportDetails.seriousness", a.Seriousness.Classification)
	}
	if report.Status == models.StatusDraft {
		patch.Set("status", models.StatusSubmitted)
	}
	return patch
}

func failurePatch(stepName string, err error, now time.Time) *models.ReportPatch {
	return models.NewReportPatch().
		Inc("metadata.aiProcessingAttempts", 1).
		Set("metadata.aiLastError", err.Error()).
		Set("metadata.aiLastErrorAt", now).
		Push("metadata.aiProcessingErrors", models.ProcessingError{
			Step:      stepName,
			Error:     err.Error(),
			Timestamp: now,
		})
}

func (p *Processor) fail(ctx context.Context, pc *processingContext, result *Result, stepName string, err error, start time.Time) *Result {
	result.Success = false
	result.Error = err.Error()
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stepName, err))
	result.Retryable = !errors.Is(err, ErrReportNotFound) && !errors.Is(err, ErrAttemptLimit)

	if !errors.Is(err, ErrReportNotFound) {
		if saveErr := p.repo.ApplyUpdate(ctx, pc.job.ReportID, failurePatch(stepName, err, p.now())); saveErr != nil {
			slog.Error("failed to record processing error",
				"report_id", pc.job.ReportID, "error", saveErr)
			result.Errors = append(result.Errors, fmt.Sprintf("record failure: %v", saveErr))
		}
	}

	result.ProcessingTime = time.Since(start)
	slog.Error("report processing failed",
		"report_id", pc.job.ReportID,
		"step", stepName,
		"retryable", result.Retryable,
		"error", err,
	)
	return result
}
