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

import "github.com/adrwatch/enricher/internal/models"

// GuidanceFor returns the patient guidance tier for a severity level.
// Unknown levels get the routine tier.
func GuidanceFor(level models.Severity) models.PatientGuidance {
	switch level {
	case models.SeverityLifeThreatening:
		return models.PatientGuidance{
			UrgencyLevel:   models.UrgencyEmergency,
			Recommendation: "Seek emergency medical care immediately. Call your local emergency number or go to the nearest emergency department.",
			NextSteps: []string{
				"Stop taking the medication unless a doctor tells you otherwise",
				"Call emergency services or go to the nearest emergency department now",
				"Bring the medication packaging with you",
			},
			WarningSignsToWatch: []string{
				"Difficulty breathing or swallowing",
				"Swelling of the face, lips, tongue or throat",
				"Chest pain or a racing heartbeat",
				"Fainting, confusion or seizures",
			},
			CanContinueMedication:      false,
			ShouldSeekMedicalAttention: true,
		}
	case models.SeveritySevere:
		return models.PatientGuidance{
			UrgencyLevel:   models.UrgencyUrgent,
			Recommendation: "Contact your doctor or an urgent care service today. Do not take further doses until you have spoken to a healthcare professional.",
			NextSteps: []string{
				"Pause the medication until you receive medical advice",
				"Contact your doctor or pharmacist today",
				"Write down when the symptoms started and how they have changed",
			},
			WarningSignsToWatch: []string{
				"Symptoms getting rapidly worse",
				"Difficulty breathing",
				"High fever or widespread rash",
			},
			CanContinueMedication:      false,
			ShouldSeekMedicalAttention: true,
		}
	case models.SeverityModerate:
		return models.PatientGuidance{
			UrgencyLevel:   models.UrgencySoon,
			Recommendation: "Arrange to speak with your doctor or pharmacist within the next few days about these side effects.",
			NextSteps: []string{
				"Keep a diary of your symptoms",
				"Book an appointment with your doctor or pharmacist",
			},
			WarningSignsToWatch: []string{
				"Symptoms becoming severe",
				"New symptoms appearing",
				"Symptoms lasting longer than a week",
			},
			CanContinueMedication:      true,
			ShouldSeekMedicalAttention: false,
		}
	default:
		return models.PatientGuidance{
			UrgencyLevel:   models.UrgencyRoutine,
			Recommendation: "These side effects are usually mild. Continue your medication and mention them at your next routine appointment.",
			NextSteps: []string{
				"Continue taking the medication as prescribed",
				"Mention the side effects at your next appointment",
			},
			WarningSignsToWatch: []string{
				"Symptoms getting worse",
				"Symptoms that interfere with daily activities",
			},
			CanContinueMedication:      true,
			ShouldSeekMedicalAttention: false,
		}
	}
}

var urgencyRank = map[models.UrgencyLevel]int{
	models.UrgencyRoutine:   0,
	models.UrgencySoon:      1,
	models.UrgencyUrgent:    2,
	models.UrgencyEmergency: 3,
}

// applySafetyFloor escalates guidance that is less cautious than the tier
// for level. Only Severe and Life-threatening tiers set a floor.
func applySafetyFloor(g *models.PatientGuidance, level models.Severity) {
	if level != models.SeveritySevere && level != models.SeverityLifeThreatening {
		return
	}
	floor := GuidanceFor(level)
	if urgencyRank[g.UrgencyLevel] < urgencyRank[floor.UrgencyLevel] {
		g.UrgencyLevel = floor.UrgencyLevel
		g.Recommendation = floor.Recommendation
	}
	g.CanContinueMedication = false
	g.ShouldSeekMedicalAttention = true
}
