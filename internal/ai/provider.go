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

import "context"

// InlinePart is binary content sent alongside the prompt.
type InlinePart struct {
	MimeType string
	Data     []byte
}

// GenerateRequest is a single structured-content generation call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Parts       []InlinePart
	Schema      map[string]any
	Temperature float32
}

// Provider defines the interface for generative-AI backends. Implementations
// return the raw response text, which the caller parses as JSON.
type Provider interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (string, error)
}
