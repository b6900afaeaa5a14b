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

package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adrwatch/enricher/internal/ai"
	"github.com/adrwatch/enricher/internal/models"
)

// --- Fakes ---

type fakeRepo struct {
	reports     map[string]*models.Report
	medications map[string]*models.Medication
	findErr     error
	medErr      error
	// updateErrs is consumed one entry per ApplyUpdate call.
	updateErrs []error
	patches    []*models.ReportPatch
	reads      int
}

func (f *fakeRepo) FindReport(_ context.Context, id string) (*models.Report, error) {
	f.reads++
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.reports[id], nil
}

func (f *fakeRepo) FindMedication(_ context.Context, id string) (*models.Medication, error) {
	if f.medErr != nil {
		return nil, f.medErr
	}
	return f.medications[id], nil
}

func (f *fakeRepo) ApplyUpdate(_ context.Context, _ string, patch *models.ReportPatch) error {
	f.patches = append(f.patches, patch)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		return err
	}
	return nil
}

type fakeMedia struct {
	files []models.MediaFile
	refs  []models.AttachmentRef
}

func (f *fakeMedia) GetManyForProcessing(_ context.Context, refs []models.AttachmentRef) []models.MediaFile {
	f.refs = refs
	return f.files
}

type fakeAnalyzer struct {
	result *ai.Result
	calls  int
	data   ai.ReportData
	media  []models.MediaFile
}

func (f *fakeAnalyzer) AnalyzeReport(_ context.Context, data ai.ReportData, media []models.MediaFile) *ai.Result {
	f.calls++
	f.data = data
	f.media = media
	if f.result != nil {
		return f.result
	}
	return &ai.Result{
		Success:     true,
		Analysis:    ai.FallbackAnalysis(data, fixedNow),
		ModelUsed:   "gemini-test",
		ProcessedAt: fixedNow,
	}
}

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

const reportID = "665f1c2e9b1e8a0012345678"

func draftReport() *models.Report {
	return &models.Report{
		ID:       reportID,
		Medicine: "med-1",
		SideEffects: []models.SideEffectEntry{
			{Effect: "Hives", Severity: models.SeveritySevere},
		},
		Attachments: []models.AttachmentRef{{Key: "a.jpg"}, {Key: "b.jpg"}},
		Status:      models.StatusDraft,
	}
}

func newTestProcessor(repo *fakeRepo, media *fakeMedia, analyzer *fakeAnalyzer, maxAttempts int) *Processor {
	return New(Config{
		Repository:  repo,
		Media:       media,
		Analyzer:    analyzer,
		MaxAttempts: maxAttempts,
		Now:         func() time.Time { return fixedNow },
	})
}

type panickingMedia struct{}

func (panickingMedia) GetManyForProcessing(context.Context, []models.AttachmentRef) []models.MediaFile {
	panic("nil map write")
}

// --- Tests ---

func TestProcess_FreshReport(t *testing.T) {
	repo := &fakeRepo{
		reports:     map[string]*models.Report{reportID: draftReport()},
		medications: map[string]*models.Medication{"med-1": {ID: "med-1", Name: "Ibuprofen"}},
	}
	analyzer := &fakeAnalyzer{result: &ai.Result{
		Success: true,
		Analysis: &models.AnalysisResult{
			Severity:            models.SeverityAssessment{Level: models.SeverityLifeThreatening},
			Priority:            models.PriorityCritical,
			Seriousness:         models.SeriousnessAssessment{Classification: models.ClassificationSerious},
			BodySystemsAffected: []string{"Skin", "Respiratory"},
			OverallRiskScore:    90,
		},
		ModelUsed:   "gemini-test",
		ProcessedAt: fixedNow,
	}}
	p := newTestProcessor(repo, &fakeMedia{}, analyzer, 5)

	res := p.Process(context.Background(), Job{ReportID: reportID})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ModelUsed != "gemini-test" || res.Analysis.OverallRiskScore != 90 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(res.Steps))
	}
	for _, s := range res.Steps {
		if s.Status != StepCompleted {
			t.Errorf("step %s status = %s", s.Name, s.Status)
		}
	}
	if analyzer.data.Medication == nil || analyzer.data.Medication.Name != "Ibuprofen" {
		t.Errorf("analyzer did not receive medication: %+v", analyzer.data.Medication)
	}

	if len(repo.patches) != 1 {
		t.Fatalf("expected 1 update, got %d", len(repo.patches))
	}
	sets := repo.patches[0].Sets()
	want := map[string]any{
		"metadata.aiProcessed":      true,
		"metadata.aiModelUsed":      "gemini-test",
		"metadata.aiRiskScore":      90,
		"priority":                  models.PriorityCritical,
		"sideEffects.0.aiSeverity":  models.SeverityLifeThreatening,
		"sideEffects.0.bodySystem":  "Skin",
		"reportDetails.seriousness": models.ClassificationSerious,
		"status":                    models.StatusSubmitted,
	}
	for k, v := range want {
		if sets[k] != v {
			t.Errorf("set %s = %v, want %v", k, sets[k], v)
		}
	}
	if _, ok := sets["sideEffects.0.severity"]; ok {
		t.Error("patient-reported severity must not be overwritten")
	}
	unsets := repo.patches[0].Unsets()
	if len(unsets) != 2 || unsets[0] != "metadata.aiLastError" {
		t.Errorf("unsets = %v", unsets)
	}
}

func TestProcess_KeepsExistingBodySystemAndStatus(t *testing.T) {
	r := draftReport()
	r.SideEffects[0].BodySystem = "Dermatological"
	r.Status = models.StatusUnderReview
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: r}}

	res := newTestProcessor(repo, &fakeMedia{}, &fakeAnalyzer{}, 5).Process(context.Background(), Job{ReportID: reportID})
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	sets := repo.patches[0].Sets()
	if _, ok := sets["sideEffects.0.bodySystem"]; ok {
		t.Error("existing body system should be kept")
	}
	if _, ok := sets["status"]; ok {
		t.Error("status should only advance from Draft")
	}
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	stored := &models.AnalysisResult{Priority: models.PriorityHigh, OverallRiskScore: 55}
	r := draftReport()
	r.Metadata = models.ReportMetadata{AIProcessed: true, AIAnalysis: stored, AIModelUsed: "gemini-old"}
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: r}}
	media := &fakeMedia{}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, media, analyzer, 5).Process(context.Background(), Job{ReportID: reportID})

	if !res.Success || !res.AlreadyProcessed {
		t.Fatalf("result = %+v", res)
	}
	if res.Analysis != stored || res.ModelUsed != "gemini-old" {
		t.Errorf("stored analysis not returned: %+v", res)
	}
	if analyzer.calls != 0 || media.refs != nil {
		t.Error("already-processed report should not fetch media or call the analyzer")
	}
	if len(repo.patches) != 0 {
		t.Errorf("expected no writes, got %d", len(repo.patches))
	}
	if repo.reads != 1 {
		t.Errorf("expected a single read, got %d", repo.reads)
	}
	skipped := 0
	for _, s := range res.Steps {
		if s.Status == StepSkipped {
			skipped++
		}
	}
	if skipped != 3 {
		t.Errorf("expected 3 skipped steps, got %d", skipped)
	}
}

func TestProcess_ForceReprocess(t *testing.T) {
	r := draftReport()
	r.Metadata = models.ReportMetadata{AIProcessed: true, AIProcessingAttempts: 9}
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: r}}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, &fakeMedia{}, analyzer, 5).Process(context.Background(), Job{ReportID: reportID, ForceReprocess: true})
	if !res.Success || res.AlreadyProcessed {
		t.Fatalf("result = %+v", res)
	}
	if analyzer.calls != 1 || len(repo.patches) != 1 {
		t.Errorf("calls = %d, patches = %d", analyzer.calls, len(repo.patches))
	}
}

func TestProcess_FallbackStillSucceeds(t *testing.T) {
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: draftReport()}}
	data := ai.ReportData{Report: draftReport()}
	analyzer := &fakeAnalyzer{result: &ai.Result{
		Success:      true,
		Analysis:     ai.FallbackAnalysis(data, fixedNow),
		ModelUsed:    ai.FallbackModel,
		ProcessedAt:  fixedNow,
		FallbackUsed: true,
		Error:        "generate content: 503",
	}}

	res := newTestProcessor(repo, &fakeMedia{}, analyzer, 5).Process(context.Background(), Job{ReportID: reportID})
	if !res.Success || !res.FallbackUsed || res.ModelUsed != ai.FallbackModel {
		t.Fatalf("result = %+v", res)
	}
	if repo.patches[0].Sets()["metadata.aiModelUsed"] != ai.FallbackModel {
		t.Error("fallback model should be persisted")
	}
}

func TestProcess_NilAnalyzerResultUsesFallback(t *testing.T) {
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: draftReport()}}
	p := New(Config{Repository: repo, Now: func() time.Time { return fixedNow }})

	res := p.Process(context.Background(), Job{ReportID: reportID})
	if !res.Success || res.ModelUsed != ai.FallbackModel || res.Analysis == nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcess_NotFound(t *testing.T) {
	repo := &fakeRepo{reports: map[string]*models.Report{}}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, &fakeMedia{}, analyzer, 5).Process(context.Background(), Job{ReportID: "missing"})
	if res.Success || res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	if analyzer.calls != 0 || len(repo.patches) != 0 {
		t.Error("not-found should stop before analysis and write nothing")
	}
	if len(res.Steps) != 1 || res.Steps[0].Status != StepFailed {
		t.Errorf("steps = %+v", res.Steps)
	}
}

func TestProcess_AttemptLimit(t *testing.T) {
	r := draftReport()
	r.Metadata.AIProcessingAttempts = 5
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: r}}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, &fakeMedia{}, analyzer, 5).Process(context.Background(), Job{ReportID: reportID})
	if res.Success || res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	if analyzer.calls != 0 {
		t.Error("analyzer should not run past the attempt limit")
	}

	// Limit 0 disables the check.
	res = newTestProcessor(repo, &fakeMedia{}, analyzer, 0).Process(context.Background(), Job{ReportID: reportID})
	if !res.Success {
		t.Errorf("limit 0 should not block: %+v", res)
	}
}

func TestProcess_LoadErrorIsRetryable(t *testing.T) {
	repo := &fakeRepo{findErr: errors.New("connection refused")}

	res := newTestProcessor(repo, &fakeMedia{}, &fakeAnalyzer{}, 5).Process(context.Background(), Job{ReportID: reportID})
	if res.Success || !res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	if len(repo.patches) != 1 {
		t.Fatalf("expected failure to be recorded, got %d patches", len(repo.patches))
	}
	if repo.patches[0].Incs()["metadata.aiProcessingAttempts"] != 1 {
		t.Errorf("incs = %v", repo.patches[0].Incs())
	}
}

func TestProcess_UpdateFailure(t *testing.T) {
	repo := &fakeRepo{
		reports:    map[string]*models.Report{reportID: draftReport()},
		updateErrs: []error{errors.New("write concern timeout")},
	}

	res := newTestProcessor(repo, &fakeMedia{}, &fakeAnalyzer{}, 5).Process(context.Background(), Job{ReportID: reportID})
	if res.Success || !res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	if len(repo.patches) != 2 {
		t.Fatalf("expected success attempt plus failure record, got %d", len(repo.patches))
	}

	failure := repo.patches[1]
	if failure.Incs()["metadata.aiProcessingAttempts"] != 1 {
		t.Errorf("attempts not incremented: %v", failure.Incs())
	}
	if failure.Sets()["metadata.aiLastErrorAt"] != fixedNow {
		t.Errorf("aiLastErrorAt = %v", failure.Sets()["metadata.aiLastErrorAt"])
	}
	pe, ok := failure.Pushes()["metadata.aiProcessingErrors"].(models.ProcessingError)
	if !ok || pe.Step != "updateReport" {
		t.Errorf("pushed error = %#v", failure.Pushes()["metadata.aiProcessingErrors"])
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != "updateReport" || last.Status != StepFailed {
		t.Errorf("last step = %+v", last)
	}
}

func TestProcess_FailureRecordErrorNotRaised(t *testing.T) {
	repo := &fakeRepo{
		reports:    map[string]*models.Report{reportID: draftReport()},
		updateErrs: []error{errors.New("primary down"), errors.New("still down")},
	}

	res := newTestProcessor(repo, &fakeMedia{}, &fakeAnalyzer{}, 5).Process(context.Background(), Job{ReportID: reportID})
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestProcess_PartialAttachments(t *testing.T) {
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: draftReport()}}
	media := &fakeMedia{files: []models.MediaFile{{Key: "a.jpg", MimeType: "image/jpeg", Data: []byte("x"), Size: 1}}}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, media, analyzer, 5).Process(context.Background(), Job{ReportID: reportID})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(media.refs) != 2 {
		t.Errorf("requested refs = %v", media.refs)
	}
	if len(analyzer.media) != 1 || analyzer.media[0].Key != "a.jpg" {
		t.Errorf("analyzer media = %+v", analyzer.media)
	}
}

func TestProcess_MedicineLookupFailureIsDegradable(t *testing.T) {
	repo := &fakeRepo{
		reports: map[string]*models.Report{reportID: draftReport()},
		medErr:  errors.New("timeout"),
	}
	analyzer := &fakeAnalyzer{}

	res := newTestProcessor(repo, &fakeMedia{}, analyzer, 5).Process(context.Background(), Job{ReportID: reportID})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if analyzer.data.Medication != nil {
		t.Error("medication should be nil after failed lookup")
	}
}

func TestProcess_UnconfiguredAIStoresFallbackAnalysis(t *testing.T) {
	tests := []struct {
		severity     models.Severity
		wantPriority models.Priority
		wantClass    string
		wantUrgency  models.UrgencyLevel
		wantScore    int
	}{
		{models.SeverityMild, models.PriorityMedium, models.ClassificationNonSerious, models.UrgencyRoutine, 15},
		{models.SeverityLifeThreatening, models.PriorityCritical, models.ClassificationSerious, models.UrgencyEmergency, 90},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			report := &models.Report{
				ID:          reportID,
				Medicine:    "med-1",
				SideEffects: []models.SideEffectEntry{{Effect: "Nausea", Severity: tt.severity}},
				Status:      models.StatusSubmitted,
			}
			repo := &fakeRepo{
				reports:     map[string]*models.Report{reportID: report},
				medications: map[string]*models.Medication{"med-1": {ID: "med-1", Name: "Metformin"}},
			}
			p := New(Config{
				Repository: repo,
				Analyzer:   ai.New(ai.Config{}, nil),
				Now:        func() time.Time { return fixedNow },
			})

			res := p.Process(context.Background(), Job{ReportID: reportID})
			if !res.Success || !res.FallbackUsed || res.ModelUsed != ai.FallbackModel {
				t.Fatalf("result = %+v", res)
			}
			if len(repo.patches) != 1 {
				t.Fatalf("expected 1 update, got %d", len(repo.patches))
			}
			sets := repo.patches[0].Sets()
			stored, ok := sets["metadata.aiAnalysis"].(*models.AnalysisResult)
			if !ok {
				t.Fatalf("metadata.aiAnalysis = %#v", sets["metadata.aiAnalysis"])
			}
			if stored.Severity.Level != tt.severity || stored.Priority != tt.wantPriority {
				t.Errorf("severity/priority = %s/%s", stored.Severity.Level, stored.Priority)
			}
			if stored.Seriousness.Classification != tt.wantClass {
				t.Errorf("classification = %s, want %s", stored.Seriousness.Classification, tt.wantClass)
			}
			if stored.PatientGuidance.UrgencyLevel != tt.wantUrgency {
				t.Errorf("urgency = %s, want %s", stored.PatientGuidance.UrgencyLevel, tt.wantUrgency)
			}
			if stored.OverallRiskScore != tt.wantScore || sets["metadata.aiRiskScore"] != tt.wantScore {
				t.Errorf("risk score = %d / %v, want %d", stored.OverallRiskScore, sets["metadata.aiRiskScore"], tt.wantScore)
			}
			if sets["metadata.aiModelUsed"] != ai.FallbackModel || sets["priority"] != tt.wantPriority {
				t.Errorf("model/priority sets = %v/%v", sets["metadata.aiModelUsed"], sets["priority"])
			}
		})
	}
}

func TestProcess_StepPanicIsRecorded(t *testing.T) {
	repo := &fakeRepo{reports: map[string]*models.Report{reportID: draftReport()}}
	p := New(Config{
		Repository: repo,
		Media:      panickingMedia{},
		Analyzer:   &fakeAnalyzer{},
		Now:        func() time.Time { return fixedNow },
	})

	res := p.Process(context.Background(), Job{ReportID: reportID})
	if res.Success || !res.Retryable {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, ErrStepPanic.Error()) || !strings.Contains(res.Error, "nil map write") {
		t.Errorf("error = %q", res.Error)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != "fetchMediaFiles" || last.Status != StepFailed {
		t.Errorf("last step = %+v", last)
	}
	if len(repo.patches) != 1 || repo.patches[0].Incs()["metadata.aiProcessingAttempts"] != 1 {
		t.Fatalf("failure not recorded: %d patches", len(repo.patches))
	}
	pe, ok := repo.patches[0].Pushes()["metadata.aiProcessingErrors"].(models.ProcessingError)
	if !ok || pe.Step != "fetchMediaFiles" {
		t.Errorf("pushed error = %#v", repo.patches[0].Pushes()["metadata.aiProcessingErrors"])
	}
}
