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

func stringArray() map[string]any {
	return map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}}
}

func enumString(values ...string) map[string]any {
	return map[string]any{"type": "STRING", "enum": values}
}

// analysisSchema is the responseSchema sent with every request. It mirrors
// models.AnalysisResult minus the fields computed locally (risk score and
// processing flags).
func analysisSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"severity": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"level":      enumString("Mild", "Moderate", "Severe", "Life-threatening"),
					"confidence": map[string]any{"type": "NUMBER"},
					"reasoning":  map[string]any{"type": "STRING"},
				},
				"required": []string{"level", "confidence", "reasoning"},
			},
			"priority": enumString("Low", "Medium", "High", "Critical"),
			"seriousness": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"classification": enumString("Serious", "Non-serious"),
					"reasons":        stringArray(),
				},
				"required": []string{"classification", "reasons"},
			},
			"bodySystemsAffected": stringArray(),
			"riskFactors":         stringArray(),
			"recommendedActions":  stringArray(),
			"causalityAssessment": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"likelihood": enumString("Certain", "Probable", "Possible", "Unlikely", "Conditional", "Unassessable"),
					"reasoning":  map[string]any{"type": "STRING"},
				},
				"required": []string{"likelihood", "reasoning"},
			},
			"keywords":           stringArray(),
			"summary":            map[string]any{"type": "STRING"},
			"medicalTerminology": stringArray(),
			"patientGuidance": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"urgencyLevel":               enumString("routine", "soon", "urgent", "emergency"),
					"recommendation":             map[string]any{"type": "STRING"},
					"nextSteps":                  stringArray(),
					"warningSignsToWatch":        stringArray(),
					"canContinueMedication":      map[string]any{"type": "BOOLEAN"},
					"shouldSeekMedicalAttention": map[string]any{"type": "BOOLEAN"},
				},
				"required": []string{"urgencyLevel", "recommendation", "nextSteps", "warningSignsToWatch",
					"canContinueMedication", "shouldSeekMedicalAttention"},
			},
		},
		"required": []string{"severity", "priority", "seriousness", "bodySystemsAffected", "riskFactors",
			"recommendedActions", "causalityAssessment", "keywords", "summary", "medicalTerminology", "patientGuidance"},
	}
}
