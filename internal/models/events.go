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

// ReportCreatedEvent is the only payload carried on the report.created
// queue. Everything else is fetched live when the event is processed.
//
// This struct's JSON serialisation MUST stay compatible with the API layer,
// which publishes {"reportId": "..."}.
type ReportCreatedEvent struct {
	ReportID       string `json:"reportId"`
	ForceReprocess bool   `json:"forceReprocess,omitempty"`
	RequestedBy    string `json:"requestedBy,omitempty"`
}

// ProcessedStatus is the status carried by ReportProcessedEvent.
const ProcessedStatus = "processed"

// ReportProcessedEvent is published on report.processed after a successful run.
type ReportProcessedEvent struct {
	ReportID     string          `json:"reportId"`
	Status       string          `json:"status"`
	Analysis     *AnalysisResult `json:"analysis"`
	ModelUsed    string          `json:"modelUsed,omitempty"`
	FallbackUsed bool            `json:"fallbackUsed"`
	ProcessedAt  time.Time       `json:"processedAt"`
}
