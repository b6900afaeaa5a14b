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

package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adrwatch/enricher/internal/models"
)

type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	requests []GenerateRequest
}

func (f *fakeProvider) GenerateContent(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

const liveResponse = `{
  "severity": {"level": "Severe", "confidence": 0.9, "reasoning": "Widespread rash with swelling"},
  "priority": "High",
  "seriousness": {"classification": "Serious", "reasons": ["Required hospital visit"]},
  "bodySystemsAffected": ["Skin"],
  "riskFactors": ["Penicillin allergy", "Age over 65"],
  "recommendedActions": ["Discontinue the medication"],
  "causalityAssessment": {"likelihood": "Probable", "reasoning": "Onset two days after first dose"},
  "keywords": ["rash"],
  "summary": "Severe cutaneous reaction.",
  "medicalTerminology": ["urticaria"],
  "patientGuidance": {
    "urgencyLevel": "urgent",
    "recommendation": "See a doctor today.",
    "nextSteps": ["Stop the medicine"],
    "warningSignsToWatch": ["Breathing difficulty"],
    "canContinueMedication": false,
    "shouldSeekMedicalAttention": true
  }
}`

func sampleData(sev models.Severity) ReportData {
	return ReportData{
		Report: &models.Report{
			ID:       "665f1c2e9b1e8a0012345678",
			Medicine: "665f1c2e9b1e8a0000000001",
			SideEffects: []models.SideEffectEntry{
				{Effect: "Rash", Severity: sev, BodySystem: "Skin"},
				{Effect: "Itching", Severity: models.SeverityMild, BodySystem: "Skin"},
			},
			Status: models.StatusDraft,
		},
		Medication: &models.Medication{Name: "Amoxicillin"},
	}
}

func TestAnalyzeReport_Unconfigured(t *testing.T) {
	for _, cred := range []string{"", "your-gemini-api-key", "changeme", "<API_KEY>"} {
		p := &fakeProvider{response: liveResponse}
		c := New(Config{Credential: cred}, p)

		res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityModerate), nil)
		if p.calls() != 0 {
			t.Errorf("credential %q: provider called %d times", cred, p.calls())
		}
		if !res.Success || res.ModelUsed != FallbackModel || !res.FallbackUsed {
			t.Errorf("credential %q: result = %+v", cred, res)
		}
		if res.Error != "" {
			t.Errorf("credential %q: unexpected error %q", cred, res.Error)
		}
	}
}

func TestAnalyzeReport_NilProvider(t *testing.T) {
	c := New(Config{Credential: "real-key"}, nil)
	if c.Configured() {
		t.Fatal("client without provider should not be configured")
	}
	res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityMild), nil)
	if res.ModelUsed != FallbackModel {
		t.Errorf("ModelUsed = %q", res.ModelUsed)
	}
}

func TestAnalyzeReport_Live(t *testing.T) {
	p := &fakeProvider{response: liveResponse}
	c := New(Config{Credential: "AIzaSyRealKey", TextModel: "text-model", VisionModel: "vision-model"}, p)

	res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityModerate), nil)
	if !res.Success || res.FallbackUsed || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}
	if res.ModelUsed != "text-model" {
		t.Errorf("ModelUsed = %q, want text-model", res.ModelUsed)
	}

	a := res.Analysis
	if a.Severity.Level != models.SeveritySevere || a.Severity.Confidence != 0.9 {
		t.Errorf("severity = %+v", a.Severity)
	}
	if !a.AIProcessed || a.FallbackUsed {
		t.Errorf("AIProcessed = %v, FallbackUsed = %v", a.AIProcessed, a.FallbackUsed)
	}
	// Severe 30 + High 20 + Serious 20 + 2 risk factors 4
	if a.OverallRiskScore != 74 {
		t.Errorf("OverallRiskScore = %d, want 74", a.OverallRiskScore)
	}
	if a.CausalityAssessment.Likelihood != "Probable" {
		t.Errorf("causality = %+v", a.CausalityAssessment)
	}

	req := p.requests[0]
	if req.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if req.Schema == nil {
		t.Error("expected response schema on request")
	}
	if !strings.Contains(req.Prompt, "Amoxicillin") || !strings.Contains(req.Prompt, "Rash") {
		t.Errorf("prompt missing report context:\n%s", req.Prompt)
	}
}

func TestAnalyzeReport_MediaSelectsVisionModel(t *testing.T) {
	p := &fakeProvider{response: liveResponse}
	c := New(Config{Credential: "k", TextModel: "text-model", VisionModel: "vision-model", MaxInlineBytes: 10}, p)

	media := []models.MediaFile{
		{Key: "a.png", MimeType: "image/png", Data: []byte("123456")},
		{Key: "b.zip", MimeType: "application/zip", Data: []byte("1")},
		{Key: "c.jpg", MimeType: "image/jpeg", Data: []byte("123456")},
		{Key: "d.txt", MimeType: "text/plain", Data: []byte("1234")},
	}
	res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityMild), media)
	if res.ModelUsed != "vision-model" {
		t.Errorf("ModelUsed = %q, want vision-model", res.ModelUsed)
	}

	parts := p.requests[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 inline parts (zip unsupported, jpg over budget), got %d", len(parts))
	}
	if parts[0].MimeType != "image/png" || parts[1].MimeType != "text/plain" {
		t.Errorf("parts = %+v", parts)
	}
}

func TestAnalyzeReport_OnlyUnsupportedMediaUsesTextModel(t *testing.T) {
	p := &fakeProvider{response: liveResponse}
	c := New(Config{Credential: "k", TextModel: "text-model", VisionModel: "vision-model"}, p)

	c.AnalyzeReport(context.Background(), sampleData(models.SeverityMild), []models.MediaFile{
		{Key: "x.bin", MimeType: "application/octet-stream", Data: []byte("1")},
	})
	if p.requests[0].Model != "text-model" {
		t.Errorf("model = %q, want text-model", p.requests[0].Model)
	}
}

func TestAnalyzeReport_FailuresFallBack(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		wantErr  string
	}{
		{"provider error", &fakeProvider{err: errors.New("503 unavailable")}, "generate content"},
		{"invalid json", &fakeProvider{response: "I think it is severe"}, "parse AI response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Credential: "k"}, tt.provider)
			res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityLifeThreatening), nil)

			if !res.Success || !res.FallbackUsed || res.ModelUsed != FallbackModel {
				t.Fatalf("result = %+v", res)
			}
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantErr)
			}
			if res.Analysis.Priority != models.PriorityCritical {
				t.Errorf("fallback priority = %s", res.Analysis.Priority)
			}
		})
	}
}

func TestAnalyzeReport_TimeoutFallsBack(t *testing.T) {
	p := &fakeProvider{block: true}
	c := New(Config{Credential: "k", Timeout: 20 * time.Millisecond}, p)

	start := time.Now()
	res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityModerate), nil)
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout was not applied")
	}
	if !res.FallbackUsed || !strings.Contains(res.Error, "deadline exceeded") {
		t.Errorf("result = %+v", res)
	}
}

func TestAnalyzeReport_CodeFence(t *testing.T) {
	p := &fakeProvider{response: "```json\n" + liveResponse + "\n```"}
	c := New(Config{Credential: "k"}, p)

	res := c.AnalyzeReport(context.Background(), sampleData(models.SeverityModerate), nil)
	if res.FallbackUsed {
		t.Fatalf("fenced JSON should parse, got error %q", res.Error)
	}
}

func TestAnalyzeReport_LifeThreateningGuidanceEscalated(t *testing.T) {
	p := &fakeProvider{response: `{
		"severity": {"level": "Life-threatening", "confidence": 0.8, "reasoning": "Anaphylaxis"},
		"priority": "Critical",
		"patientGuidance": {"urgencyLevel": "routine", "recommendation": "Rest.", "nextSteps": ["Rest"],
			"warningSignsToWatch": ["None"], "canContinueMedication": true, "shouldSeekMedicalAttention": false}
	}`}
	c := New(Config{Credential: "k"}, p)

	g := c.AnalyzeReport(context.Background(), sampleData(models.SeverityMild), nil).Analysis.PatientGuidance
	if g.UrgencyLevel != models.UrgencyEmergency || g.CanContinueMedication || !g.ShouldSeekMedicalAttention {
		t.Errorf("guidance not escalated: %+v", g)
	}
}

func TestNewClampsTemperature(t *testing.T) {
	for _, temp := range []float32{0, -1, 0.9} {
		c := New(Config{Temperature: temp}, nil)
		if c.cfg.Temperature != DefaultTemperature {
			t.Errorf("temperature %v => %v, want %v", temp, c.cfg.Temperature, DefaultTemperature)
		}
	}
	if c := New(Config{Temperature: 0.1}, nil); c.cfg.Temperature != 0.1 {
		t.Errorf("temperature 0.1 => %v", c.cfg.Temperature)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
