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

// Package runlog provides a Postgres-backed ledger of report processing
// runs.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adrwatch/enricher/internal/processor"
)

// Run is one row of the processing_runs table.
type Run struct {
	ID               uuid.UUID
	ReportID         string
	Success          bool
	Retryable        bool
	AlreadyProcessed bool
	ModelUsed        string
	FallbackUsed     bool
	RiskScore        *int
	Error            string
	Steps            []processor.StepResult
	Duration         time.Duration
	StartedAt        time.Time
}

// FromResult builds a Run from a processing result.
func FromResult(res *processor.Result, startedAt time.Time) Run {
	r := Run{
		ID:               uuid.New(),
		ReportID:         res.ReportID,
		Success:          res.Success,
		Retryable:        res.Retryable,
		AlreadyProcessed: res.AlreadyProcessed,
		ModelUsed:        res.ModelUsed,
		FallbackUsed:     res.FallbackUsed,
		Error:            res.Error,
		Steps:            res.Steps,
		Duration:         res.ProcessingTime,
		StartedAt:        startedAt,
	}
	if res.Analysis != nil {
		score := res.Analysis.OverallRiskScore
		r.RiskScore = &score
	}
	return r
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes processing runs to Postgres.
type Store struct {
	db   execer
	pool *pgxpool.Pool
}

// NewStore creates a run store backed by the given pool. It ensures the
// processing_runs table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{db: pool, pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure runlog schema: %w", err)
	}
	slog.Info("run log store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processing_runs (
			id                UUID PRIMARY KEY,
			report_id         TEXT NOT NULL,
			success           BOOLEAN NOT NULL,
			retryable         BOOLEAN NOT NULL DEFAULT FALSE,
			already_processed BOOLEAN NOT NULL DEFAULT FALSE,
			model_used        TEXT DEFAULT '',
			fallback_used     BOOLEAN NOT NULL DEFAULT FALSE,
			risk_score        INTEGER,
			error             TEXT DEFAULT '',
			steps             JSONB NOT NULL DEFAULT '[]'::jsonb,
			duration_ms       BIGINT NOT NULL,
			started_at        TIMESTAMPTZ NOT NULL,
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_runs_report ON processing_runs(report_id);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON processing_runs(started_at);
	`)
	return err
}

// Record inserts a run.
func (s *Store) Record(ctx context.Context, r Run) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	if r.Steps == nil {
		steps = []byte("[]")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO processing_runs
			(id, report_id, success, retryable, already_processed, model_used,
			 fallback_used, risk_score, error, steps, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.ReportID, r.Success, r.Retryable, r.AlreadyProcessed, r.ModelUsed,
		r.FallbackUsed, r.RiskScore, r.Error, steps, r.Duration.Milliseconds(), r.StartedAt)
	if err != nil {
		return fmt.Errorf("insert processing run: %w", err)
	}
	return nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
