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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiGenerateContent(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k-123" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"priority\":"},{"text":"\"High\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{BaseURL: srv.URL + "/", APIKey: "k-123"})
	text, err := g.GenerateContent(context.Background(), GenerateRequest{
		Model:       "gemini-test",
		Prompt:      "analyse this",
		Parts:       []InlinePart{{MimeType: "image/png", Data: []byte("abc")}},
		Schema:      map[string]any{"type": "OBJECT"},
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"priority":"High"}` {
		t.Errorf("text = %q", text)
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents: %+v", got.Contents)
	}
	if got.Contents[0].Parts[0].Text != "analyse this" {
		t.Errorf("prompt part = %q", got.Contents[0].Parts[0].Text)
	}
	inline := got.Contents[0].Parts[1].InlineData
	if inline == nil || inline.MimeType != "image/png" || inline.Data != "YWJj" {
		t.Errorf("inline part = %+v", inline)
	}
	if got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("responseMimeType = %q", got.GenerationConfig.ResponseMimeType)
	}
	if got.GenerationConfig.Temperature == nil || *got.GenerationConfig.Temperature != 0.2 {
		t.Errorf("temperature = %v", got.GenerationConfig.Temperature)
	}
}

func TestGeminiGenerateContent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusTooManyRequests, `{"error":"quota"}`, "status 429"},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, "prompt blocked: SAFETY"},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, "no candidates"},
		{"empty candidate", http.StatusOK, `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`, "empty candidate"},
		{"bad json", http.StatusOK, `not json`, "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGemini(GeminiConfig{BaseURL: srv.URL})
			_, err := g.GenerateContent(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestVertexBaseURL(t *testing.T) {
	got := VertexBaseURL("adr-prod", "europe-west4")
	want := "https://europe-west4-aiplatform.googleapis.com/v1/projects/adr-prod/locations/europe-west4/publishers/google"
	if got != want {
		t.Errorf("VertexBaseURL = %q, want %q", got, want)
	}
}
