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

package models

import "time"

// Priority is the triage priority assigned to a report.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Seriousness classifications (ICH E2A sense).
const (
	ClassificationSerious    = "Serious"
	ClassificationNonSerious = "Non-serious"
)

// UrgencyLevel tells the patient how quickly to act.
type UrgencyLevel string

const (
	UrgencyRoutine   UrgencyLevel = "routine"
	UrgencySoon      UrgencyLevel = "soon"
	UrgencyUrgent    UrgencyLevel = "urgent"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// Valid reports whether u is one of the known urgency levels.
func (u UrgencyLevel) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencySoon, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// SeverityAssessment is the assessed severity with a confidence in [0,1].
type SeverityAssessment struct {
	Level      Severity `bson:"level" json:"level"`
	Confidence float64  `bson:"confidence" json:"confidence"`
	Reasoning  string   `bson:"reasoning" json:"reasoning"`
}

// SeriousnessAssessment is the regulatory seriousness classification.
type SeriousnessAssessment struct {
	Classification string   `bson:"classification" json:"classification"`
	Reasons        []string `bson:"reasons" json:"reasons"`
}

// CausalityAssessment estimates how likely the medicine caused the effect.
type CausalityAssessment struct {
	Likelihood string `bson:"likelihood" json:"likelihood"`
	Reasoning  string `bson:"reasoning" json:"reasoning"`
}

// PatientGuidance is patient-facing advice derived from the analysis.
type PatientGuidance struct {
	UrgencyLevel               UrgencyLevel `bson:"urgencyLevel" json:"urgencyLevel"`
	Recommendation             string       `bson:"recommendation" json:"recommendation"`
	NextSteps                  []string     `bson:"nextSteps" json:"nextSteps"`
	WarningSignsToWatch        []string     `bson:"warningSignsToWatch" json:"warningSignsToWatch"`
	CanContinueMedication      bool         `bson:"canContinueMedication" json:"canContinueMedication"`
	ShouldSeekMedicalAttention bool         `bson:"shouldSeekMedicalAttention" json:"shouldSeekMedicalAttention"`
}

// AnalysisResult is the structured enrichment written onto a report. Every
// field is populated on both the live and the fallback path.
type AnalysisResult struct {
	Severity            SeverityAssessment    `bson:"severity" json:"severity"`
	Priority            Priority              `bson:"priority" json:"priority"`
	Seriousness         SeriousnessAssessment `bson:"seriousness" json:"seriousness"`
	BodySystemsAffected []string              `bson:"bodySystemsAffected" json:"bodySystemsAffected"`
	RiskFactors         []string              `bson:"riskFactors" json:"riskFactors"`
	RecommendedActions  []string              `bson:"recommendedActions" json:"recommendedActions"`
	CausalityAssessment CausalityAssessment   `bson:"causalityAssessment" json:"causalityAssessment"`
	Keywords            []string              `bson:"keywords" json:"keywords"`
	Summary             string                `bson:"summary" json:"summary"`
	MedicalTerminology  []string              `bson:"medicalTerminology" json:"medicalTerminology"`
	PatientGuidance     PatientGuidance       `bson:"patientGuidance" json:"patientGuidance"`
	OverallRiskScore    int                   `bson:"overallRiskScore" json:"overallRiskScore"`
	AIProcessed         bool                  `bson:"aiProcessed" json:"aiProcessed"`
	AIProcessedAt       time.Time             `bson:"aiProcessedAt" json:"aiProcessedAt"`
	FallbackUsed        bool                  `bson:"fallbackUsed,omitempty" json:"fallbackUsed,omitempty"`
}
