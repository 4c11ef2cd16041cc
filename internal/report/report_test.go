package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/blueprint"
	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/outcomes"
	"pulsebench/internal/platformclient"
	"pulsebench/internal/storage"
)

func newTestService(t *testing.T) (*Service, storage.Repository) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := storage.NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	llm := llmclient.New(llmclient.Config{APIKey: ""})
	pc := platformclient.New(platformclient.Config{APIKey: ""})
	bp := blueprint.New(store, llm, pc, time.Hour)
	oc := outcomes.New(store, true)
	return New(store, bp, oc), store
}

func seedCompletedAudit(t *testing.T, store storage.Repository, userID string) models.Audit {
	t.Helper()
	created, err := store.CreateAudit(models.Audit{
		UserID: userID,
		Status: models.AuditCompleted,
		InputJSON: models.AuditInput{
			SourceItemID: "item-1",
			PlatformHint: "youtube",
		},
		OutputJSON: &models.AuditOutput{
			Diagnosis: map[string]any{"overall_score": 82.0, "strongest_section": "hook"},
			VideoAnalysis: &models.AuditResult{
				VideoID: "vid-1", OverallScore: 75.0, Summary: "solid",
				Sections: []models.AnalysisSection{
					{Name: "hook", Score: 80, Feedback: []string{"Open with the payoff sooner."}},
				},
			},
			PerformancePrediction: map[string]any{
				"combined_metrics": models.ScoreBreakdown{Combined: 88.0},
				"next_actions": []models.NextAction{
					{Title: "Tighten the hook", Why: "Retention drops at second 3"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateAudit: %v", err)
	}
	return created
}

func TestGetConsolidatedReportUsesLatestCompletedAuditWhenIDOmitted(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")

	rep, err := svc.GetConsolidatedReport(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("GetConsolidatedReport: %v", err)
	}
	if rep.AuditID != audit.ID {
		t.Fatalf("AuditID = %q, want %q", rep.AuditID, audit.ID)
	}
	if rep.ReportPlatform != models.PlatformYouTube {
		t.Fatalf("ReportPlatform = %q, want youtube", rep.ReportPlatform)
	}
	if rep.OverallScore <= 0 || rep.OverallScore > 100 {
		t.Fatalf("OverallScore = %v, want in (0,100]", rep.OverallScore)
	}
	if len(rep.Recommendations) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	if rep.Recommendations[len(rep.Recommendations)-1] != "Focus on the next 3 pillar topics identified in your Competitor Blueprint." {
		t.Fatalf("expected the blueprint-pillar recommendation last, got %v", rep.Recommendations)
	}
}

func TestGetConsolidatedReportRejectsUnownedAuditID(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")

	if _, err := svc.GetConsolidatedReport(context.Background(), "user-2", audit.ID); err == nil {
		t.Fatal("expected error for an audit owned by a different user")
	}
}

func TestGetConsolidatedReportErrorsWithNoCompletedAudit(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetConsolidatedReport(context.Background(), "user-1", ""); err == nil {
		t.Fatal("expected error when the user has no completed audit")
	}
}

func TestGetConsolidatedReportPicksUpBestEditedVariantAndOutcome(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")

	snap, err := store.CreateDraftSnapshot(models.DraftSnapshot{
		UserID: "user-1", Platform: models.PlatformYouTube, SourceItemID: "item-1",
		ScriptText: "Hook. Setup. Value. This is a long script body that should get truncated in the preview text once it exceeds the configured character budget for the report payload, which is three hundred and forty characters in total so this sentence needs to run on for a good while longer to actually cross that threshold and trigger truncation in the test.",
		RescoredScore: 81, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateDraftSnapshot: %v", err)
	}

	predicted := 70.0
	if _, err := store.CreateOutcomeMetric(models.OutcomeMetric{
		UserID: "user-1", Platform: models.PlatformYouTube, ReportID: audit.ID,
		DraftSnapshotID: snap.ID, PostedAt: time.Now().UTC(), PredictedScore: &predicted, ActualScore: 65,
	}); err != nil {
		t.Fatalf("CreateOutcomeMetric: %v", err)
	}

	rep, err := svc.GetConsolidatedReport(context.Background(), "user-1", audit.ID)
	if err != nil {
		t.Fatalf("GetConsolidatedReport: %v", err)
	}
	if rep.PredictionVsActual == nil || rep.PredictionVsActual.OutcomeID == "" {
		t.Fatal("expected a linked prediction_vs_actual outcome")
	}
	if rep.BestEditedVariant == nil || rep.BestEditedVariant.ID != snap.ID {
		t.Fatalf("expected best_edited_variant to resolve to %q", snap.ID)
	}
	if len(rep.BestEditedVariant.ScriptPreview) > 340 {
		t.Fatalf("script preview not truncated: len=%d", len(rep.BestEditedVariant.ScriptPreview))
	}
}

func TestCreateShareLinkThenResolveSharedReportRoundTrips(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")

	link, err := svc.CreateShareLink("user-1", audit.ID, 24)
	if err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}
	if link.ShareToken == "" {
		t.Fatal("expected a non-empty share token")
	}

	shared, err := svc.ResolveSharedReport(context.Background(), link.ShareToken)
	if err != nil {
		t.Fatalf("ResolveSharedReport: %v", err)
	}
	if shared.Report.AuditID != audit.ID {
		t.Fatalf("shared report AuditID = %q, want %q", shared.Report.AuditID, audit.ID)
	}
}

func TestCreateShareLinkRejectsUnownedAudit(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")
	if _, err := svc.CreateShareLink("user-2", audit.ID, 24); err == nil {
		t.Fatal("expected error creating a share link for another user's audit")
	}
}

func TestResolveSharedReportRejectsExpiredLink(t *testing.T) {
	svc, store := newTestService(t)
	audit := seedCompletedAudit(t, store, "user-1")

	link, err := store.CreateShareLink(models.ReportShareLink{
		UserID: "user-1", AuditID: audit.ID, ShareToken: "expired-token",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}

	if _, err := svc.ResolveSharedReport(context.Background(), link.ShareToken); err == nil {
		t.Fatal("expected error resolving an expired share link")
	}
}

func TestResolveSharedReportRejectsUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ResolveSharedReport(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error for an unknown share token")
	}
}
