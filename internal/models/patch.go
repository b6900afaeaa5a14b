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

import "sort"

// ReportPatch is a partial update to a report record. Paths are dotted field
// paths in storage naming ("metadata.aiProcessed", "sideEffects.0.aiSeverity").
// Set, Unset, Inc and Push are applied atomically by the repository.
type ReportPatch struct {
	set   map[string]any
	unset map[string]struct{}
	inc   map[string]int
	push  map[string]any
}

// NewReportPatch returns an empty patch.
func NewReportPatch() *ReportPatch {
	return &ReportPatch{
		set:   make(map[string]any),
		unset: make(map[string]struct{}),
		inc:   make(map[string]int),
		push:  make(map[string]any),
	}
}

// Set assigns value at path. A later Set on the same path wins and clears any
// pending Unset for it.
func (p *ReportPatch) Set(path string, value any) *ReportPatch {
	p.set[path] = value
	delete(p.unset, path)
	return p
}

// Unset removes the field at path.
func (p *ReportPatch) Unset(path string) *ReportPatch {
	if _, ok := p.set[path]; ok {
		return p
	}
	p.unset[path] = struct{}{}
	return p
}

// Inc atomically adds n to the numeric field at path.
func (p *ReportPatch) Inc(path string, n int) *ReportPatch {
	p.inc[path] += n
	return p
}

// Push appends value to the array at path.
func (p *ReportPatch) Push(path string, value any) *ReportPatch {
	p.push[path] = value
	return p
}

// Empty reports whether the patch would change nothing.
func (p *ReportPatch) Empty() bool {
	return len(p.set) == 0 && len(p.unset) == 0 && len(p.inc) == 0 && len(p.push) == 0
}

// Sets returns a copy of the assignments.
func (p *ReportPatch) Sets() map[string]any {
	out := make(map[string]any, len(p.set))
	for k, v := range p.set {
		out[k] = v
	}
	return out
}

// Unsets returns the removed paths in sorted order.
func (p *ReportPatch) Unsets() []string {
	out := make([]string, 0, len(p.unset))
	for k := range p.unset {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Incs returns a copy of the increments.
func (p *ReportPatch) Incs() map[string]int {
	out := make(map[string]int, len(p.inc))
	for k, v := range p.inc {
		out[k] = v
	}
	return out
}

// Pushes returns a copy of the array appends.
func (p *ReportPatch) Pushes() map[string]any {
	out := make(map[string]any, len(p.push))
	for k, v := range p.push {
		out[k] = v
	}
	return out
}
