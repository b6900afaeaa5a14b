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

import "testing"

func TestReportPatch_SetClearsUnset(t *testing.T) {
	p := NewReportPatch()
	p.Unset("metadata.aiLastError")
	p.Set("metadata.aiLastError", "boom")

	if got := p.Unsets(); len(got) != 0 {
		t.Errorf("unsets = %v, want none", got)
	}
	if got := p.Sets()["metadata.aiLastError"]; got != "boom" {
		t.Errorf("set value = %v, want boom", got)
	}
}

func TestReportPatch_UnsetIgnoredAfterSet(t *testing.T) {
	p := NewReportPatch().Set("priority", PriorityHigh).Unset("priority")

	if got := p.Unsets(); len(got) != 0 {
		t.Errorf("unsets = %v, want none", got)
	}
	if got := p.Sets()["priority"]; got != PriorityHigh {
		t.Errorf("priority = %v, want High", got)
	}
}

func TestReportPatch_IncAccumulates(t *testing.T) {
	p := NewReportPatch().
		Inc("metadata.aiProcessingAttempts", 1).
		Inc("metadata.aiProcessingAttempts", 2)

	if got := p.Incs()["metadata.aiProcessingAttempts"]; got != 3 {
		t.Errorf("inc = %d, want 3", got)
	}
}

func TestReportPatch_Empty(t *testing.T) {
	p := NewReportPatch()
	if !p.Empty() {
		t.Error("new patch should be empty")
	}

	p.Push("metadata.aiProcessingErrors", ProcessingError{Error: "x"})
	if p.Empty() {
		t.Error("patch with a push should not be empty")
	}
}

func TestReportPatch_CopiesAreIndependent(t *testing.T) {
	p := NewReportPatch().Set("status", StatusSubmitted)

	sets := p.Sets()
	sets["status"] = StatusDraft

	if got := p.Sets()["status"]; got != StatusSubmitted {
		t.Errorf("status = %v, mutation of copy leaked into patch", got)
	}
}

func TestSeverity_Valid(t *testing.T) {
	tests := []struct {
		in   Severity
		want bool
	}{
		{SeverityMild, true},
		{SeverityModerate, true},
		{SeveritySevere, true},
		{SeverityLifeThreatening, true},
		{"life-threatening", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := tt.in.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
