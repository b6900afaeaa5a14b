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

// Package ai analyses ADR reports with a generative model and falls back to
// a rule-based analysis whenever the model is unconfigured or fails.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adrwatch/enricher/internal/models"
)

const (
	DefaultTextModel      = "gemini-2.0-flash"
	DefaultVisionModel    = "gemini-2.0-flash"
	DefaultTemperature    = 0.2
	DefaultTimeout        = 60 * time.Second
	DefaultMaxInlineBytes = 18 << 20

	maxTemperature = 0.3
)

// Config holds AI client settings.
type Config struct {
	// Credential is the API key or project that enables live calls. Empty
	// or placeholder values keep the client in fallback mode.
	Credential     string
	TextModel      string
	VisionModel    string
	Temperature    float32
	Timeout        time.Duration
	MaxInlineBytes int64
}

// Result is the outcome of AnalyzeReport. Success is always true; a
// degraded run is visible only through ModelUsed and Error.
type Result struct {
	Success      bool
	Analysis     *models.AnalysisResult
	ModelUsed    string
	ProcessedAt  time.Time
	FallbackUsed bool
	Error        string
}

// Client produces report analyses.
type Client struct {
	cfg      Config
	provider Provider
	now      func() time.Time
}

// New creates a Client. provider may be nil, in which case every call uses
// the fallback.
func New(cfg Config, provider Provider) *Client {
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}
	if cfg.Temperature <= 0 || cfg.Temperature > maxTemperature {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInlineBytes <= 0 {
		cfg.MaxInlineBytes = DefaultMaxInlineBytes
	}
	return &Client{cfg: cfg, provider: provider, now: time.Now}
}

// Configured reports whether live AI calls will be attempted.
func (c *Client) Configured() bool {
	return c.provider != nil && !isPlaceholder(c.cfg.Credential)
}

// AnalyzeReport returns an analysis for the report. It never returns an
// error: call, timeout and parse failures produce the fallback analysis
// with Error set.
func (c *Client) AnalyzeReport(ctx context.Context, data ReportData, media []models.MediaFile) *Result {
	if data.Report == nil {
		data.Report = &models.Report{}
	}
	if !c.Configured() {
		return c.fallback(data, "")
	}

	parts := c.inlineParts(data.Report.ID, media)
	model := c.cfg.TextModel
	if len(parts) > 0 {
		model = c.cfg.VisionModel
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := c.provider.GenerateContent(callCtx, GenerateRequest{
		Model:       model,
		Prompt:      buildPrompt(data, len(parts)),
		Parts:       parts,
		Schema:      analysisSchema(),
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		slog.Warn("AI analysis failed, using fallback",
			"report_id", data.Report.ID, "model", model, "error", err)
		return c.fallback(data, fmt.Sprintf("generate content: %v", err))
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		slog.Warn("AI response is not valid JSON, using fallback",
			"report_id", data.Report.ID, "model", model, "error", err)
		return c.fallback(data, fmt.Sprintf("parse AI response: %v", err))
	}

	now := c.now()
	slog.Info("AI analysis complete",
		"report_id", data.Report.ID, "model", model,
		"attachments", len(parts), "duration", time.Since(start))

	return &Result{
		Success:     true,
		Analysis:    enhance(&raw, data, now, true),
		ModelUsed:   model,
		ProcessedAt: now,
	}
}

func (c *Client) fallback(data ReportData, errMsg string) *Result {
	now := c.now()
	return &Result{
		Success:      true,
		Analysis:     FallbackAnalysis(data, now),
		ModelUsed:    FallbackModel,
		ProcessedAt:  now,
		FallbackUsed: true,
		Error:        errMsg,
	}
}

// inlineParts keeps media the model accepts, in order, until the inline
// byte budget is spent.
func (c *Client) inlineParts(reportID string, media []models.MediaFile) []InlinePart {
	var (
		parts []InlinePart
		total int64
	)
	for _, m := range media {
		if !supportedMime(m.MimeType) {
			slog.Info("skipping attachment with unsupported type",
				"report_id", reportID, "key", m.Key, "mime_type", m.MimeType)
			continue
		}
		size := int64(len(m.Data))
		if total+size > c.cfg.MaxInlineBytes {
			slog.Warn("skipping attachment over inline budget",
				"report_id", reportID, "key", m.Key, "size", size)
			continue
		}
		total += size
		parts = append(parts, InlinePart{MimeType: m.MimeType, Data: m.Data})
	}
	return parts
}

func supportedMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return mime == "application/pdf" || mime == "text/plain"
}

var placeholderCredentials = map[string]bool{
	"changeme":    true,
	"change-me":   true,
	"placeholder": true,
	"none":        true,
	"null":        true,
	"xxx":         true,
	"todo":        true,
	"test":        true,
}

func isPlaceholder(cred string) bool {
	c := strings.ToLower(strings.TrimSpace(cred))
	if c == "" || placeholderCredentials[c] {
		return true
	}
	return strings.HasPrefix(c, "your") || strings.Contains(c, "placeholder") ||
		(strings.HasPrefix(c, "<") && strings.HasSuffix(c, ">"))
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
