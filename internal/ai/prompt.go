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

	"github.com/adrwatch/enricher/internal/models"
)

// ReportData is the context handed to the analyzer for one report.
// Medication is nil when the referenced medicine could not be resolved.
type ReportData struct {
	Report     *models.Report
	Medication *models.Medication
}

func (d ReportData) medicationName() string {
	if d.Medication != nil && d.Medication.Name != "" {
		return d.Medication.Name
	}
	return "the reported medication"
}

const promptPreamble = `You are a pharmacovigilance assistant reviewing an adverse drug reaction (ADR) report.
Assess the severity, triage priority, regulatory seriousness (ICH E2A) and causality of the reaction,
and write short patient-facing guidance. Use only the information below and any attached media.
Respond with a single JSON object that matches the provided schema. Do not include markdown.`

func buildPrompt(data ReportData, attachments int) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")

	b.WriteString("## Medication\n")
	if m := data.Medication; m != nil {
		writeField(&b, "Name", m.Name)
		writeField(&b, "Generic name", m.GenericName)
		writeField(&b, "Manufacturer", m.Manufacturer)
		writeField(&b, "Category", m.Category)
		writeField(&b, "Dosage form", m.DosageForm)
		writeField(&b, "Strength", m.Strength)
		if len(m.ActiveIngredients) > 0 {
			writeField(&b, "Active ingredients", strings.Join(m.ActiveIngredients, ", "))
		}
	} else {
		b.WriteString("- Not available\n")
	}

	r := data.Report
	b.WriteString("\n## Side effects\n")
	if len(r.SideEffects) == 0 {
		b.WriteString("- None listed\n")
	}
	for i, se := range r.SideEffects {
		fmt.Fprintf(&b, "%d. %s (patient-reported severity: %s)", i+1, se.Effect, orUnknown(string(se.Severity)))
		if se.Onset != "" {
			fmt.Fprintf(&b, ", onset: %s", se.Onset)
		}
		if se.BodySystem != "" {
			fmt.Fprintf(&b, ", body system: %s", se.BodySystem)
		}
		if se.Description != "" {
			fmt.Fprintf(&b, ". %s", se.Description)
		}
		b.WriteString("\n")
	}

	p := r.PatientInfo
	b.WriteString("\n## Patient\n")
	if p.Age != nil {
		writeField(&b, "Age", fmt.Sprintf("%d", *p.Age))
	}
	writeField(&b, "Gender", p.Gender)
	if p.Weight != nil {
		writeField(&b, "Weight (kg)", fmt.Sprintf("%.1f", *p.Weight))
	}
	if len(p.Allergies) > 0 {
		writeField(&b, "Allergies", strings.Join(p.Allergies, ", "))
	}
	if len(p.MedicalHistory) > 0 {
		writeField(&b, "Medical history", strings.Join(p.MedicalHistory, ", "))
	}

	u := r.MedicationUsage
	b.WriteString("\n## Medication usage\n")
	writeField(&b, "Indication", u.Indication)
	writeField(&b, "Dose", u.Dosage.Amount)
	writeField(&b, "Frequency", u.Dosage.Frequency)
	writeField(&b, "Route", u.Dosage.Route)

	d := r.ReportDetails
	b.WriteString("\n## Report details\n")
	if d.IncidentDate != nil {
		writeField(&b, "Incident date", d.IncidentDate.Format("2006-01-02"))
	}
	writeField(&b, "Reporter seriousness", d.Seriousness)
	writeField(&b, "Outcome", d.Outcome)

	if attachments > 0 {
		fmt.Fprintf(&b, "\n%d attachment(s) are included. Consider visible findings when assessing severity.\n", attachments)
	}

	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", name, value)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
