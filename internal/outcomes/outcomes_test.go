package outcomes

import (
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/models"
	"pulsebench/internal/storage"
)

func newTestService(t *testing.T) (*Service, storage.Repository) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := storage.NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return New(store, true), store
}

func TestIngestRejectsWhenFeatureDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := storage.NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	svc := New(store, false)
	_, err = svc.Ingest("user-1", IngestRequest{
		Platform: models.PlatformYouTube, PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 1000},
	})
	if err == nil {
		t.Fatal("expected error when outcome learning is disabled")
	}
}

func TestIngestComputesActualScoreAndCalibrationDelta(t *testing.T) {
	svc, _ := newTestService(t)
	predicted := 70.0
	result, err := svc.Ingest("user-1", IngestRequest{
		Platform: models.PlatformYouTube, PostedAt: time.Now(),
		ActualMetrics:  models.ActualMetrics{Views: 100000, Likes: 5000, Comments: 500, Shares: 300, Saves: 200, AvgWatchTime: 40},
		PredictedScore: &predicted,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ActualScore <= 0 || result.ActualScore > 100 {
		t.Fatalf("ActualScore = %v, want in (0,100]", result.ActualScore)
	}
	if result.CalibrationDelta == nil {
		t.Fatal("expected a calibration delta since a predicted score was supplied")
	}
	if result.ConfidenceUpdate.SampleSize != 1 {
		t.Fatalf("SampleSize = %d, want 1", result.ConfidenceUpdate.SampleSize)
	}
}

func TestIngestWithoutPredictedScoreLeavesDeltaNil(t *testing.T) {
	svc, _ := newTestService(t)
	result, err := svc.Ingest("user-1", IngestRequest{
		Platform: models.PlatformTikTok, PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 500},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.CalibrationDelta != nil {
		t.Fatalf("expected nil calibration delta, got %v", *result.CalibrationDelta)
	}
}

func TestIngestRejectsInvalidPlatform(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Ingest("user-1", IngestRequest{
		Platform: models.Platform("twitter"), PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 100},
	})
	if err == nil {
		t.Fatal("expected error for unsupported platform")
	}
}

func TestSummaryForPlatformReportsInsufficientDataUnderFive(t *testing.T) {
	svc, _ := newTestService(t)
	predicted := 50.0
	for i := 0; i < 3; i++ {
		if _, err := svc.Ingest("user-1", IngestRequest{
			Platform: models.PlatformYouTube, PostedAt: time.Now(),
			ActualMetrics:  models.ActualMetrics{Views: 1000},
			PredictedScore: &predicted,
		}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	summary, err := svc.SummaryForPlatform("user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("SummaryForPlatform: %v", err)
	}
	if !summary.InsufficientData {
		t.Fatal("expected InsufficientData = true with only 3 samples")
	}
	if summary.SampleSize != 3 {
		t.Fatalf("SampleSize = %d, want 3", summary.SampleSize)
	}
	if len(summary.NextActions) == 0 {
		t.Fatal("expected at least one next action")
	}
}

func TestSummaryWithNoOutcomesReturnsDefaultMessage(t *testing.T) {
	svc, _ := newTestService(t)
	summary, err := svc.Summary("user-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !summary.InsufficientData {
		t.Fatal("expected InsufficientData = true with zero outcomes")
	}
	if len(summary.Recommendations) != 1 {
		t.Fatalf("expected exactly one default recommendation, got %v", summary.Recommendations)
	}
}

func TestSummaryAcrossPlatformsListsEachPlatform(t *testing.T) {
	svc, _ := newTestService(t)
	predicted := 50.0
	for i := 0; i < 6; i++ {
		if _, err := svc.Ingest("user-1", IngestRequest{
			Platform: models.PlatformYouTube, PostedAt: time.Now(),
			ActualMetrics: models.ActualMetrics{Views: 2000}, PredictedScore: &predicted,
		}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	if _, err := svc.Ingest("user-1", IngestRequest{
		Platform: models.PlatformTikTok, PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 500}, PredictedScore: &predicted,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	summary, err := svc.Summary("user-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary.Platforms) != 2 {
		t.Fatalf("expected 2 platforms, got %d", len(summary.Platforms))
	}
}

func TestRecalibrateAllRefreshesEveryObservedPair(t *testing.T) {
	svc, _ := newTestService(t)
	predicted := 60.0
	if _, err := svc.Ingest("user-1", IngestRequest{
		Platform: models.PlatformYouTube, PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 1000}, PredictedScore: &predicted,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := svc.Ingest("user-2", IngestRequest{
		Platform: models.PlatformInstagram, PostedAt: time.Now(),
		ActualMetrics: models.ActualMetrics{Views: 2000}, PredictedScore: &predicted,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	result := svc.RecalibrateAll()
	if result.Refreshed != 2 {
		t.Fatalf("Refreshed = %d, want 2", result.Refreshed)
	}
}
