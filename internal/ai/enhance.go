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
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/adrwatch/enricher/internal/models"
	"github.com/adrwatch/enricher/internal/risk"
)

const defaultConfidence = 0.5

var defaultRecommendedActions = []string{
	"Review the report and confirm the reported details with the patient",
	"Assess whether the medication should be continued, adjusted or stopped",
	"Monitor the patient and record any change in symptoms",
}

const defaultCausalityReasoning = "A temporal relationship between the medication and the reported reaction is plausible, but other causes cannot be excluded."

// rawAnalysis is the model output before defaulting. Pointer fields
// distinguish an absent value from a zero value.
type rawAnalysis struct {
	Severity            *rawSeverity                `json:"severity"`
	Priority            string                      `json:"priority"`
	Seriousness         *rawSeriousness             `json:"seriousness"`
	BodySystemsAffected []string                    `json:"bodySystemsAffected"`
	RiskFactors         []string                    `json:"riskFactors"`
	RecommendedActions  []string                    `json:"recommendedActions"`
	CausalityAssessment *models.CausalityAssessment `json:"causalityAssessment"`
	Keywords            []string                    `json:"keywords"`
	Summary             string                      `json:"summary"`
	MedicalTerminology  []string                    `json:"medicalTerminology"`
	PatientGuidance     *rawGuidance                `json:"patientGuidance"`
}

type rawSeverity struct {
	Level      string   `json:"level"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

type rawSeriousness struct {
	Classification string   `json:"classification"`
	Reasons        []string `json:"reasons"`
}

type rawGuidance struct {
	UrgencyLevel               string   `json:"urgencyLevel"`
	Recommendation             string   `json:"recommendation"`
	NextSteps                  []string `json:"nextSteps"`
	WarningSignsToWatch        []string `json:"warningSignsToWatch"`
	CanContinueMedication      *bool    `json:"canContinueMedication"`
	ShouldSeekMedicalAttention *bool    `json:"shouldSeekMedicalAttention"`
}

// enhance fills every field of the analysis with a usable value and
// computes the overall risk score. Both the live and the fallback path go
// through here so the result shape never differs.
func enhance(raw *rawAnalysis, data ReportData, now time.Time, aiProcessed bool) *models.AnalysisResult {
	if raw == nil {
		raw = &rawAnalysis{}
	}
	report := data.Report

	out := &models.AnalysisResult{
		Severity:            enhanceSeverity(raw.Severity, report),
		Priority:            normalizePriority(raw.Priority),
		BodySystemsAffected: cleanList(raw.BodySystemsAffected),
		RiskFactors:         cleanList(raw.RiskFactors),
		RecommendedActions:  cleanList(raw.RecommendedActions),
		Keywords:            cleanList(raw.Keywords),
		Summary:             strings.TrimSpace(raw.Summary),
		MedicalTerminology:  cleanList(raw.MedicalTerminology),
		AIProcessed:         aiProcessed,
		AIProcessedAt:       now,
		FallbackUsed:        !aiProcessed,
	}

	out.Seriousness = models.SeriousnessAssessment{Classification: models.ClassificationNonSerious, Reasons: []string{}}
	if raw.Seriousness != nil {
		out.Seriousness.Classification = normalizeClassification(raw.Seriousness.Classification)
		out.Seriousness.Reasons = cleanList(raw.Seriousness.Reasons)
	}

	if len(out.RecommendedActions) == 0 {
		out.RecommendedActions = append([]string(nil), defaultRecommendedActions...)
	}

	out.CausalityAssessment = models.CausalityAssessment{Likelihood: "Possible", Reasoning: defaultCausalityReasoning}
	if c := raw.CausalityAssessment; c != nil && strings.TrimSpace(c.Likelihood) != "" {
		out.CausalityAssessment.Likelihood = strings.TrimSpace(c.Likelihood)
		if strings.TrimSpace(c.Reasoning) != "" {
			out.CausalityAssessment.Reasoning = strings.TrimSpace(c.Reasoning)
		}
	}

	if out.Summary == "" {
		out.Summary = defaultSummary(data, out.Severity.Level)
	}

	out.PatientGuidance = enhanceGuidance(raw.PatientGuidance, out.Severity.Level)
	out.OverallRiskScore = risk.Score(out)
	return out
}

func enhanceSeverity(raw *rawSeverity, report *models.Report) models.SeverityAssessment {
	reported := models.SeverityModerate
	if report != nil && report.FirstSeverity().Valid() {
		reported = report.FirstSeverity()
	}

	if raw == nil {
		return models.SeverityAssessment{
			Level:      reported,
			Confidence: defaultConfidence,
			Reasoning:  "Based on the patient-reported severity.",
		}
	}

	out := models.SeverityAssessment{
		Level:      normalizeSeverity(raw.Level, reported),
		Confidence: defaultConfidence,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}
	if raw.Confidence != nil {
		out.Confidence = clamp(*raw.Confidence, 0, 1)
	}
	if out.Reasoning == "" {
		out.Reasoning = "Based on the patient-reported severity."
	}
	return out
}

func enhanceGuidance(raw *rawGuidance, level models.Severity) models.PatientGuidance {
	tier := GuidanceFor(level)
	if raw == nil {
		return tier
	}

	g := models.PatientGuidance{
		UrgencyLevel:               tier.UrgencyLevel,
		Recommendation:             strings.TrimSpace(raw.Recommendation),
		NextSteps:                  cleanList(raw.NextSteps),
		WarningSignsToWatch:        cleanList(raw.WarningSignsToWatch),
		CanContinueMedication:      tier.CanContinueMedication,
		ShouldSeekMedicalAttention: tier.ShouldSeekMedicalAttention,
	}
	if u := models.UrgencyLevel(strings.ToLower(strings.TrimSpace(raw.UrgencyLevel))); u.Valid() {
		g.UrgencyLevel = u
	}
	if g.Recommendation == "" {
		g.Recommendation = tier.Recommendation
	}
	if len(g.NextSteps) == 0 {
		g.NextSteps = tier.NextSteps
	}
	if len(g.WarningSignsToWatch) == 0 {
		g.WarningSignsToWatch = tier.WarningSignsToWatch
	}
	if raw.CanContinueMedication != nil {
		g.CanContinueMedication = *raw.CanContinueMedication
	}
	if raw.ShouldSeekMedicalAttention != nil {
		g.ShouldSeekMedicalAttention = *raw.ShouldSeekMedicalAttention
	}

	applySafetyFloor(&g, level)
	return g
}

func normalizeSeverity(s string, fallback models.Severity) models.Severity {
	for _, v := range []models.Severity{models.SeverityMild, models.SeverityModerate, models.SeveritySevere, models.SeverityLifeThreatening} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return fallback
}

func normalizePriority(s string) models.Priority {
	for _, v := range []models.Priority{models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return models.PriorityMedium
}

func normalizeClassification(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), models.ClassificationSerious) {
		return models.ClassificationSerious
	}
	return models.ClassificationNonSerious
}

// cleanList trims entries, drops blanks and never returns nil.
func cleanList(in []string) []string {
	out := lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if out == nil {
		return []string{}
	}
	return out
}

func defaultSummary(data ReportData, level models.Severity) string {
	n := 0
	if data.Report != nil {
		n = len(data.Report.SideEffects)
	}
	return fmt.Sprintf("%s adverse reaction report for %s with %d side effect(s).", level, data.medicationName(), n)
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
