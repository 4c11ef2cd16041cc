package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/optimizer"
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
	opt := optimizer.New(store, llm)
	svc := New(store, llm, opt, nil, t.TempDir())
	return svc, store
}

func TestCreateAuditRejectsBothOrNeitherSourceModes(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateAudit(context.Background(), "user-1", models.AuditInput{}); err == nil {
		t.Fatal("expected error when neither video_url nor upload_path/upload_id set")
	}
	if _, err := svc.CreateAudit(context.Background(), "user-1", models.AuditInput{
		VideoURL: "https://youtu.be/a", UploadID: "up-1",
	}); err == nil {
		t.Fatal("expected error when both video_url and upload_id set")
	}
}

func TestCreateAuditWithNilQueueFailsImmediately(t *testing.T) {
	svc, store := newTestService(t)
	audit, err := svc.CreateAudit(context.Background(), "user-1", models.AuditInput{VideoURL: "https://youtu.be/a"})
	if err == nil {
		t.Fatal("expected ServiceUnavailable with nil queue")
	}
	if audit.Status != models.AuditFailed {
		t.Fatalf("Status = %v, want failed", audit.Status)
	}
	stored, ok := store.GetAudit(audit.ID)
	if !ok || stored.Status != models.AuditFailed {
		t.Fatalf("stored audit not marked failed: %+v", stored)
	}
}

func TestProcessAuditURLModeCompletesWithPrediction(t *testing.T) {
	svc, store := newTestService(t)
	created, err := store.CreateAudit(models.Audit{
		UserID: "user-1", Status: models.AuditPending, Progress: "0",
		InputJSON: models.AuditInput{VideoURL: "https://youtu.be/watch-me", PlatformHint: "youtube"},
	})
	if err != nil {
		t.Fatalf("CreateAudit: %v", err)
	}

	svc.ProcessAudit(context.Background(), created.ID)

	final, ok := store.GetAudit(created.ID)
	if !ok {
		t.Fatal("audit not found after processing")
	}
	if final.Status != models.AuditCompleted {
		t.Fatalf("Status = %v, want completed (error=%s)", final.Status, final.ErrorMessage)
	}
	if final.Progress != "100" {
		t.Fatalf("Progress = %q, want 100", final.Progress)
	}
	if final.OutputJSON == nil || final.OutputJSON.VideoAnalysis == nil {
		t.Fatal("OutputJSON.VideoAnalysis is nil")
	}
	if final.OutputJSON.PerformancePrediction == nil {
		t.Fatal("OutputJSON.PerformancePrediction is nil")
	}
	if final.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestProcessAuditUploadModeUsesExistingUpload(t *testing.T) {
	svc, store := newTestService(t)
	upload, err := store.CreateUpload(models.Upload{UserID: "user-1", FileURL: "/data/uploads/user-1/clip.mp4", FileType: "video"})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	created, _ := store.CreateAudit(models.Audit{
		UserID: "user-1", Status: models.AuditPending, Progress: "0",
		InputJSON: models.AuditInput{UploadID: upload.ID},
	})

	svc.ProcessAudit(context.Background(), created.ID)

	final, _ := store.GetAudit(created.ID)
	if final.Status != models.AuditCompleted {
		t.Fatalf("Status = %v, want completed (error=%s)", final.Status, final.ErrorMessage)
	}
}

func TestProcessAuditIsIdempotentOnDuplicateDelivery(t *testing.T) {
	svc, store := newTestService(t)
	created, _ := store.CreateAudit(models.Audit{
		UserID: "user-1", Status: models.AuditPending, Progress: "0",
		InputJSON: models.AuditInput{VideoURL: "https://youtu.be/dup"},
	})
	svc.ProcessAudit(context.Background(), created.ID)
	first, _ := store.GetAudit(created.ID)

	svc.ProcessAudit(context.Background(), created.ID)
	second, _ := store.GetAudit(created.ID)

	if first.CompletedAt == nil || second.CompletedAt == nil || !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Fatalf("duplicate delivery mutated a completed audit: %+v -> %+v", first, second)
	}
}

func TestRecoverStaleMarksInterruptedAudits(t *testing.T) {
	svc, store := newTestService(t)
	created, _ := store.CreateAudit(models.Audit{
		UserID: "user-1", Status: models.AuditProcessingVideo, Progress: "30",
		InputJSON: models.AuditInput{VideoURL: "https://youtu.be/stuck"},
	})
	store.UpdateAudit(created.ID, func(a *models.Audit) {
		a.CreatedAt = time.Now().UTC().Add(-150 * time.Minute)
	})

	n := svc.RecoverStale(time.Now().UTC())
	if n != 1 {
		t.Fatalf("RecoverStale returned %d, want 1", n)
	}
	recovered, ok := store.GetAudit(created.ID)
	if !ok || recovered.Status != models.AuditFailed {
		t.Fatalf("audit not recovered: %+v", recovered)
	}
}

func TestSampleFramesCapsAtTen(t *testing.T) {
	frames := make([]string, 47)
	for i := range frames {
		frames[i] = filepath.Join("f", string(rune('a'+i%26)))
	}
	sampled := sampleFrames(frames, maxSampledFrames)
	if len(sampled) > maxSampledFrames {
		t.Fatalf("len(sampled) = %d, want <= %d", len(sampled), maxSampledFrames)
	}
	if len(sampled) == 0 {
		t.Fatal("sampled is empty")
	}
}
