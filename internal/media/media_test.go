package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/llmclient"
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
	llm := llmclient.New(llmclient.Config{APIKey: ""})
	svc := New(store, nil, llm, t.TempDir(), true)
	svc.sleep = func(time.Duration) {}
	return svc, store
}

func TestEnqueueDownloadWithNilQueueFailsImmediately(t *testing.T) {
	svc, store := newTestService(t)
	job, err := svc.EnqueueDownload(context.Background(), "user-1", models.PlatformYouTube, "https://youtu.be/abc")
	if err == nil {
		t.Fatal("expected ServiceUnavailable error with nil queue")
	}
	if job.Status != models.MediaJobFailed || job.ErrorCode != "queue_unavailable" {
		t.Fatalf("job = %+v, want failed/queue_unavailable", job)
	}
	stored, ok := store.GetMediaDownloadJob(job.ID)
	if !ok || stored.Status != models.MediaJobFailed {
		t.Fatalf("stored job not marked failed: %+v", stored)
	}
}

func TestProcessDownloadCompletesDeterministically(t *testing.T) {
	svc, store := newTestService(t)
	job, err := store.CreateMediaDownloadJob(models.MediaDownloadJob{
		UserID: "user-1", Platform: models.PlatformYouTube, SourceURL: "https://youtu.be/xyz",
		Status: models.MediaJobQueued, MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("CreateMediaDownloadJob: %v", err)
	}

	svc.ProcessDownload(context.Background(), job.ID)

	final, ok := store.GetMediaDownloadJob(job.ID)
	if !ok {
		t.Fatal("job not found after processing")
	}
	if final.Status != models.MediaJobCompleted {
		t.Fatalf("Status = %v, want completed (error=%s)", final.Status, final.ErrorMessage)
	}
	if final.Progress != 100 {
		t.Fatalf("Progress = %d, want 100", final.Progress)
	}
	if final.MediaAssetID == "" || final.UploadID == "" {
		t.Fatalf("expected MediaAssetID and UploadID set, got %+v", final)
	}

	asset, ok := store.GetMediaAsset(final.MediaAssetID)
	if !ok {
		t.Fatal("media asset not found")
	}
	if asset.DurationS <= 0 {
		t.Fatalf("DurationS = %d, want > 0", asset.DurationS)
	}
	upload, ok := store.GetUpload(final.UploadID)
	if !ok {
		t.Fatal("upload not found")
	}
	if upload.FileURL != asset.FilePath {
		t.Fatalf("upload.FileURL = %q, want %q", upload.FileURL, asset.FilePath)
	}
}

func TestProcessDownloadIsIdempotentOnDuplicateDelivery(t *testing.T) {
	svc, store := newTestService(t)
	job, _ := store.CreateMediaDownloadJob(models.MediaDownloadJob{
		UserID: "user-1", Platform: models.PlatformTikTok, SourceURL: "https://tiktok.com/@a/video/1",
		Status: models.MediaJobQueued, MaxAttempts: 3,
	})
	svc.ProcessDownload(context.Background(), job.ID)
	first, _ := store.GetMediaDownloadJob(job.ID)

	svc.ProcessDownload(context.Background(), job.ID) // redelivery: job already completed, must be a no-op
	second, _ := store.GetMediaDownloadJob(job.ID)

	if first.MediaAssetID != second.MediaAssetID || first.UploadID != second.UploadID {
		t.Fatalf("duplicate delivery mutated a completed job: %+v -> %+v", first, second)
	}
}

func TestRecoverStaleMarksOldJobsFailed(t *testing.T) {
	svc, store := newTestService(t)
	old, _ := store.CreateMediaDownloadJob(models.MediaDownloadJob{
		UserID: "user-1", Platform: models.PlatformYouTube, SourceURL: "https://youtu.be/stale",
		Status: models.MediaJobDownloading, MaxAttempts: 3,
	})
	store.UpdateMediaDownloadJob(old.ID, func(j *models.MediaDownloadJob) {
		j.CreatedAt = time.Now().UTC().Add(-200 * time.Minute)
	})

	n := svc.RecoverStale(time.Now().UTC())
	if n != 1 {
		t.Fatalf("RecoverStale returned %d, want 1", n)
	}
	stale, ok := store.GetMediaDownloadJob(old.ID)
	if !ok || stale.Status != models.MediaJobFailed || stale.ErrorCode != "stalled" {
		t.Fatalf("stale job not recovered: %+v", stale)
	}
}

func TestEnqueueTranscriptFallsBackToCaptionThenTitle(t *testing.T) {
	svc, store := newTestService(t)

	itemWithCaption, err := store.CreateResearchItem(models.ResearchItem{
		UserID: "user-1", Platform: models.PlatformYouTube, Title: "A great video", Caption: "this is the caption",
	})
	if err != nil {
		t.Fatalf("CreateResearchItem: %v", err)
	}
	job, err := svc.EnqueueTranscript(context.Background(), "user-1", itemWithCaption.ID)
	if err != nil {
		t.Fatalf("EnqueueTranscript: %v", err)
	}
	if job.Status != models.RunStatusCompleted || job.TranscriptSource != models.TranscriptCaptionFallback {
		t.Fatalf("job = %+v, want completed/caption_fallback", job)
	}

	itemTitleOnly, _ := store.CreateResearchItem(models.ResearchItem{
		UserID: "user-1", Platform: models.PlatformYouTube, Title: "Title only video",
	})
	job2, err := svc.EnqueueTranscript(context.Background(), "user-1", itemTitleOnly.ID)
	if err != nil {
		t.Fatalf("EnqueueTranscript (title-only): %v", err)
	}
	if job2.TranscriptSource != models.TranscriptTitleFallback {
		t.Fatalf("TranscriptSource = %v, want title_fallback", job2.TranscriptSource)
	}

	refreshed, ok := store.GetResearchItem(itemTitleOnly.ID)
	if !ok {
		t.Fatal("item not found")
	}
	if refreshed.MediaMeta["transcript_source"] != string(models.TranscriptTitleFallback) {
		t.Fatalf("MediaMeta not merged: %+v", refreshed.MediaMeta)
	}
}

func TestEnqueueTranscriptFailsWithNoSource(t *testing.T) {
	svc, store := newTestService(t)
	item, _ := store.CreateResearchItem(models.ResearchItem{UserID: "user-1", Platform: models.PlatformYouTube})
	_, err := svc.EnqueueTranscript(context.Background(), "user-1", item.ID)
	if err == nil {
		t.Fatal("expected error when item has no caption/title/audio source")
	}
}
