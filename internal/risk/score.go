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

// Package risk computes the overall risk score of an analysed report.
package risk

import (
	"math"

	"github.com/adrwatch/enricher/internal/models"
)

const (
	// MaxScore is the upper bound of Score.
	MaxScore = 100

	seriousPoints       = 20
	pointsPerRiskFactor = 2
	maxRiskFactorPoints = 10
)

var severityPoints = map[models.Severity]float64{
	models.SeverityLifeThreatening: 40,
	models.SeveritySevere:          30,
	models.SeverityModerate:        15,
	models.SeverityMild:            5,
}

var priorityPoints = map[models.Priority]float64{
	models.PriorityCritical: 30,
	models.PriorityHigh:     20,
	models.PriorityMedium:   10,
	models.PriorityLow:      5,
}

// Score combines severity, priority, seriousness and the number of risk
// factors into an integer in [0, MaxScore]. Unrecognised severity or
// priority values score as Moderate / Medium.
func Score(a *models.AnalysisResult) int {
	if a == nil {
		return 0
	}

	sev, ok := severityPoints[a.Severity.Level]
	if !ok {
		sev = severityPoints[models.SeverityModerate]
	}

	pri, ok := priorityPoints[a.Priority]
	if !ok {
		pri = priorityPoints[models.PriorityMedium]
	}

	var serious float64
	if a.Seriousness.Classification == models.ClassificationSerious {
		serious = seriousPoints
	}

	factors := math.Min(float64(len(a.RiskFactors)*pointsPerRiskFactor), maxRiskFactorPoints)

	total := math.Min(sev+pri+serious+factors, MaxScore)
	return int(math.Round(total))
}
