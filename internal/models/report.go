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

// Package models defines the data structures shared across the enrichment service.
package models

import "time"

// Severity is the patient-reported or AI-assessed severity of a side effect.
type Severity string

const (
	SeverityMild            Severity = "Mild"
	SeverityModerate        Severity = "Moderate"
	SeveritySevere          Severity = "Severe"
	SeverityLifeThreatening Severity = "Life-threatening"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityLifeThreatening:
		return true
	}
	return false
}

// ReportStatus is the workflow state of an ADR report.
type ReportStatus string

const (
	StatusDraft       ReportStatus = "Draft"
	StatusSubmitted   ReportStatus = "Submitted"
	StatusUnderReview ReportStatus = "Under Review"
	StatusReviewed    ReportStatus = "Reviewed"
	StatusClosed      ReportStatus = "Closed"
)

// SideEffectEntry is one adverse effect listed on a report.
type SideEffectEntry struct {
	Effect      string   `bson:"effect" json:"effect"`
	Severity    Severity `bson:"severity" json:"severity"`
	Onset       string   `bson:"onset,omitempty" json:"onset,omitempty"`
	BodySystem  string   `bson:"bodySystem,omitempty" json:"bodySystem,omitempty"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	AISeverity  Severity `bson:"aiSeverity,omitempty" json:"aiSeverity,omitempty"`
}

// PatientInfo holds the optional patient context supplied with a report.
type PatientInfo struct {
	Age            *int     `bson:"age,omitempty" json:"age,omitempty"`
	Gender         string   `bson:"gender,omitempty" json:"gender,omitempty"`
	Weight         *float64 `bson:"weight,omitempty" json:"weight,omitempty"`
	Allergies      []string `bson:"allergies,omitempty" json:"allergies,omitempty"`
	MedicalHistory []string `bson:"medicalHistory,omitempty" json:"medicalHistory,omitempty"`
}

// Dosage describes how the suspected medicine was taken.
type Dosage struct {
	Amount    string `bson:"amount,omitempty" json:"amount,omitempty"`
	Frequency string `bson:"frequency,omitempty" json:"frequency,omitempty"`
	Route     string `bson:"route,omitempty" json:"route,omitempty"`
}

// MedicationUsage describes why and how the medicine was used.
type MedicationUsage struct {
	Indication string `bson:"indication,omitempty" json:"indication,omitempty"`
	Dosage     Dosage `bson:"dosage,omitempty" json:"dosage,omitempty"`
}

// ReportDetails holds incident-level facts.
type ReportDetails struct {
	IncidentDate *time.Time `bson:"incidentDate,omitempty" json:"incidentDate,omitempty"`
	Seriousness  string     `bson:"seriousness,omitempty" json:"seriousness,omitempty"`
	Outcome      string     `bson:"outcome,omitempty" json:"outcome,omitempty"`
}

// AttachmentRef identifies a blob in the object store.
type AttachmentRef struct {
	Key      string `bson:"key" json:"key"`
	MimeType string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	Filename string `bson:"filename,omitempty" json:"filename,omitempty"`
}

// ProcessingError is one entry of a report's AI error history.
type ProcessingError struct {
	Step      string    `bson:"step,omitempty" json:"step,omitempty"`
	Error     string    `bson:"error" json:"error"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ReportMetadata carries enrichment bookkeeping. AIProcessed is the
// idempotency gate for redelivered events.
type ReportMetadata struct {
	AIProcessed          bool              `bson:"aiProcessed" json:"aiProcessed"`
	AIProcessingAttempts int               `bson:"aiProcessingAttempts" json:"aiProcessingAttempts"`
	AIProcessedAt        *time.Time        `bson:"aiProcessedAt,omitempty" json:"aiProcessedAt,omitempty"`
	AIModelUsed          string            `bson:"aiModelUsed,omitempty" json:"aiModelUsed,omitempty"`
	AIAnalysis           *AnalysisResult   `bson:"aiAnalysis,omitempty" json:"aiAnalysis,omitempty"`
	AIRiskScore          int               `bson:"aiRiskScore,omitempty" json:"aiRiskScore,omitempty"`
	AILastError          string            `bson:"aiLastError,omitempty" json:"aiLastError,omitempty"`
	AILastErrorAt        *time.Time        `bson:"aiLastErrorAt,omitempty" json:"aiLastErrorAt,omitempty"`
	AIProcessingErrors   []ProcessingError `bson:"aiProcessingErrors,omitempty" json:"aiProcessingErrors,omitempty"`
}

// Report is the read-only projection of an ADR report fetched for one
// processing run. It is never cached across runs.
type Report struct {
	ID              string            `bson:"_id" json:"id"`
	Medicine        string            `bson:"medicine" json:"medicine"`
	SideEffects     []SideEffectEntry `bson:"sideEffects" json:"sideEffects"`
	PatientInfo     PatientInfo       `bson:"patientInfo" json:"patientInfo"`
	MedicationUsage MedicationUsage   `bson:"medicationUsage" json:"medicationUsage"`
	ReportDetails   ReportDetails     `bson:"reportDetails" json:"reportDetails"`
	Attachments     []AttachmentRef   `bson:"attachments" json:"attachments"`
	Status          ReportStatus      `bson:"status" json:"status"`
	Metadata        ReportMetadata    `bson:"metadata" json:"metadata"`
	CreatedAt       time.Time         `bson:"createdAt" json:"createdAt"`
}

// FirstSeverity returns the patient-reported severity of the first side
// effect, or "" when the report lists none.
func (r *Report) FirstSeverity() Severity {
	if len(r.SideEffects) == 0 {
		return ""
	}
	return r.SideEffects[0].Severity
}

// Medication is the subset of a medicine record used as AI prompt context.
type Medication struct {
	ID                string   `bson:"_id" json:"id"`
	Name              string   `bson:"name" json:"name"`
	GenericName       string   `bson:"genericName,omitempty" json:"genericName,omitempty"`
	Manufacturer      string   `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Category          string   `bson:"category,omitempty" json:"category,omitempty"`
	DosageForm        string   `bson:"dosageForm,omitempty" json:"dosageForm,omitempty"`
	Strength          string   `bson:"strength,omitempty" json:"strength,omitempty"`
	ActiveIngredients []string `bson:"activeIngredients,omitempty" json:"activeIngredients,omitempty"`
}

// MediaFile is an attachment resolved to bytes for a single processing run.
type MediaFile struct {
	Key      string
	Data     []byte
	MimeType string
	Size     int64
}
