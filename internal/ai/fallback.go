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
)

// FallbackModel is reported as the model used when no AI call was made or
// the call failed.
const FallbackModel = "rule-based-fallback"

const seriousFallbackReason = "Patient-reported severity indicates a potentially serious adverse reaction"

// FallbackAnalysis derives an analysis from the patient-reported fields
// alone. It makes no network calls and is deterministic for a given now.
func FallbackAnalysis(data ReportData, now time.Time) *models.AnalysisResult {
	if data.Report == nil {
		data.Report = &models.Report{}
	}
	return enhance(fallbackRaw(data), data, now, false)
}

func fallbackRaw(data ReportData) *rawAnalysis {
	r := data.Report

	level := models.SeverityModerate
	if s := r.FirstSeverity(); s.Valid() {
		level = s
	}

	priority := models.PriorityMedium
	seriousness := &rawSeriousness{Classification: models.ClassificationNonSerious, Reasons: []string{}}
	switch level {
	case models.SeverityLifeThreatening:
		priority = models.PriorityCritical
		seriousness = &rawSeriousness{Classification: models.ClassificationSerious, Reasons: []string{seriousFallbackReason}}
	case models.SeveritySevere:
		priority = models.PriorityHigh
		seriousness = &rawSeriousness{Classification: models.ClassificationSerious, Reasons: []string{seriousFallbackReason}}
	}

	confidence := defaultConfidence
	effects := lo.Map(r.SideEffects, func(se models.SideEffectEntry, _ int) string { return se.Effect })

	bodySystems := lo.Uniq(lo.Compact(lo.Map(r.SideEffects, func(se models.SideEffectEntry, _ int) string {
		return strings.TrimSpace(se.BodySystem)
	})))

	keywords := lo.Map(effects, func(e string, _ int) string { return strings.ToLower(strings.TrimSpace(e)) })
	if data.Medication != nil {
		keywords = append(keywords, strings.ToLower(data.Medication.Name))
	}
	keywords = lo.Uniq(lo.Compact(keywords))

	summary := fmt.Sprintf("Rule-based assessment of a %s reaction to %s", strings.ToLower(string(level)), data.medicationName())
	if len(effects) > 0 {
		summary += ": " + strings.Join(lo.Compact(effects), ", ")
	}
	summary += ". AI analysis was not available."

	return &rawAnalysis{
		Severity: &rawSeverity{
			Level:      string(level),
			Confidence: &confidence,
			Reasoning:  "Derived from the patient-reported severity of the first side effect.",
		},
		Priority:            string(priority),
		Seriousness:         seriousness,
		BodySystemsAffected: bodySystems,
		RiskFactors:         []string{},
		Keywords:            keywords,
		Summary:             summary,
		MedicalTerminology:  []string{},
	}
}
