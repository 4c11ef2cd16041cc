package feedloop

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/audit"
	"pulsebench/internal/credits"
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
	// A nil queue mirrors internal/audit's own test suite: no broker is
	// reachable in this environment, so every enqueue fails immediately and
	// exercises the refund-on-failure path deliberately rather than by accident.
	aud := audit.New(store, llm, opt, nil, t.TempDir())
	ledger := credits.New(store, 50, credits.Costs{ResearchSearch: 1, OptimizerVariants: 3, AuditRun: 5})

	svc := New(store, opt, aud, ledger)
	return svc, store
}

func seedItem(store storage.Repository, userID string, views, likes, shares int64, title string) models.ResearchItem {
	item, _ := store.CreateResearchItem(models.ResearchItem{
		UserID: userID, Platform: models.PlatformYouTube, Title: title,
		Caption: "growth tips #creatorgrowth", CreatorHandle: "@creator1", CreatorDisplayName: "Creator One",
		Metrics: models.Metrics{Views: views, Likes: likes, Shares: shares},
	})
	return item
}

func TestDiscoverRequiresQuery(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Discover("user-1", DiscoverFilters{Platform: models.PlatformYouTube})
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestDiscoverKeywordModeMatchesAndScores(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(store, "user-1", 50000, 2000, 500, "How to grow your channel")
	seedItem(store, "user-1", 10, 1, 0, "Unrelated cooking video")

	result, err := svc.Discover("user-1", DiscoverFilters{
		Platform: models.PlatformYouTube, Mode: models.FollowModeKeyword, Query: "channel", Page: 1, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if result.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1", result.TotalCount)
	}
	if result.Items[0].TrendingScore <= 0 {
		t.Fatalf("expected positive trending score, got %v", result.Items[0].TrendingScore)
	}
}

func TestDiscoverHashtagModeMatchesExactTag(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(store, "user-1", 1000, 10, 5, "Tips")

	result, err := svc.Discover("user-1", DiscoverFilters{
		Platform: models.PlatformYouTube, Mode: models.FollowModeHashtag, Query: "#creatorgrowth", Page: 1, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if result.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1", result.TotalCount)
	}
}

func TestSearchWithoutQueryReturnsAllForPlatform(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(store, "user-1", 100, 1, 0, "A")
	seedItem(store, "user-1", 200, 1, 0, "B")

	result := svc.Search("user-1", DiscoverFilters{Platform: models.PlatformYouTube, Page: 1, Limit: 10})
	if result.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", result.TotalCount)
	}
	if result.Timeframe != models.TimeframeAll {
		t.Fatalf("Timeframe = %v, want all", result.Timeframe)
	}
}

func TestUpsertFollowCreatesThenUpdatesInPlace(t *testing.T) {
	svc, store := newTestService(t)
	follow, created, err := svc.UpsertFollow("user-1", UpsertFollowRequest{
		Platform: models.PlatformYouTube, Mode: models.FollowModeKeyword, Query: "growth", IsActive: true,
	})
	if err != nil {
		t.Fatalf("UpsertFollow: %v", err)
	}
	if !created {
		t.Fatal("expected created = true on first upsert")
	}
	if follow.CadenceMinutes != 360 {
		t.Fatalf("CadenceMinutes = %d, want 360 (default 6h)", follow.CadenceMinutes)
	}
	if follow.NextRunAt == nil {
		t.Fatal("expected NextRunAt to be set for an active follow")
	}

	_, created2, err := svc.UpsertFollow("user-1", UpsertFollowRequest{
		Platform: models.PlatformYouTube, Mode: models.FollowModeKeyword, Query: "growth", IsActive: true, Cadence: "1h",
	})
	if err != nil {
		t.Fatalf("UpsertFollow update: %v", err)
	}
	if created2 {
		t.Fatal("expected created = false on second upsert with same key")
	}
	if len(store.ListFollows("user-1")) != 1 {
		t.Fatalf("expected exactly one follow row after upsert, got %d", len(store.ListFollows("user-1")))
	}
}

func TestRunFollowIngestRecordsCompletedRun(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(store, "user-1", 5000, 100, 20, "Growth hacks for creators")
	follow, _, err := svc.UpsertFollow("user-1", UpsertFollowRequest{
		Platform: models.PlatformYouTube, Mode: models.FollowModeKeyword, Query: "growth", IsActive: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("UpsertFollow: %v", err)
	}

	result := svc.RunFollowIngest("user-1", []string{follow.ID}, false, 10)
	if result.CompletedCount != 1 {
		t.Fatalf("CompletedCount = %d, want 1", result.CompletedCount)
	}
	runs := svc.ListAutoIngestRuns("user-1", 10)
	if len(runs) != 1 || runs[0].Status != models.RunStatusCompleted {
		t.Fatalf("expected one completed run, got %+v", runs)
	}

	updated, _ := store.GetFollow(follow.ID)
	if updated.LastRunAt == nil || updated.NextRunAt == nil {
		t.Fatal("expected follow to be stamped with last/next run times")
	}
}

func TestCreateRepostPackageBuildsHooksAndPlatforms(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 20000, 800, 150, "The content growth loop")

	pkg, err := svc.CreateRepostPackage("user-1", item.ID, nil)
	if err != nil {
		t.Fatalf("CreateRepostPackage: %v", err)
	}
	if pkg.Status != models.RepostDraft {
		t.Fatalf("Status = %v, want draft", pkg.Status)
	}
	if len(pkg.TargetPlatforms) != 3 {
		t.Fatalf("expected default 3 target platforms, got %d", len(pkg.TargetPlatforms))
	}
	if len(pkg.Package.HookVariants) != 3 {
		t.Fatalf("expected 3 hook variants, got %d", len(pkg.Package.HookVariants))
	}
	sub, ok := pkg.Package.Platforms["youtube"]
	if !ok {
		t.Fatal("expected a youtube sub-package")
	}
	if sub.DurationTargetS != 34 || sub.HookDeadlineS != 3 {
		t.Fatalf("unexpected youtube targets: %+v", sub)
	}
	if len(sub.Hashtags) == 0 || len(sub.Hashtags) > 6 {
		t.Fatalf("expected 1-6 hashtags, got %d", len(sub.Hashtags))
	}
}

func TestUpdateRepostPackageStatusAllowsAnyToAny(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 1000, 10, 2, "Some video")
	pkg, err := svc.CreateRepostPackage("user-1", item.ID, []models.Platform{models.PlatformTikTok})
	if err != nil {
		t.Fatalf("CreateRepostPackage: %v", err)
	}

	updated, err := svc.UpdateRepostPackageStatus("user-1", pkg.ID, models.RepostPublished)
	if err != nil {
		t.Fatalf("UpdateRepostPackageStatus: %v", err)
	}
	if updated.Status != models.RepostPublished {
		t.Fatalf("Status = %v, want published", updated.Status)
	}

	if _, err := svc.UpdateRepostPackageStatus("user-1", pkg.ID, models.RepostStatus("bogus")); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestVariantGenerateChargesCreditsAndDelegatesToOptimizer(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 3000, 10, 80, "Short form hooks that convert")

	result, err := svc.VariantGenerate(context.Background(), "user-1", item.ID, "", "", 0)
	if err != nil {
		t.Fatalf("VariantGenerate: %v", err)
	}
	if result.Charge.Charged != 3 {
		t.Fatalf("Charged = %d, want 3", result.Charge.Charged)
	}
	if len(result.Batch.Variants) == 0 {
		t.Fatal("expected the optimizer to return at least one variant")
	}
	if result.Objective != "increase shares and saves" {
		t.Fatalf("Objective = %q, want shares/saves inference since shares+saves > comments", result.Objective)
	}
}

func TestAuditRequiresCompletedDownload(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 1000, 10, 2, "Needs a download first")

	if _, err := svc.Audit(context.Background(), "user-1", item.ID); err == nil {
		t.Fatal("expected error when no completed download exists")
	}
}

func TestAuditRefundsCreditsWhenEnqueueFails(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 1000, 10, 2, "Has a completed download")

	upload, err := store.CreateUpload(models.Upload{UserID: "user-1", FileURL: "/data/uploads/video.mp4", FileType: "video", Size: 1024})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	job, err := store.CreateMediaDownloadJob(models.MediaDownloadJob{
		UserID: "user-1", Platform: models.PlatformYouTube, SourceURL: item.URL, Status: models.MediaJobQueued,
	})
	if err != nil {
		t.Fatalf("CreateMediaDownloadJob: %v", err)
	}
	completedAt := time.Now().UTC()
	if _, err := store.UpdateMediaDownloadJob(job.ID, func(j *models.MediaDownloadJob) {
		j.Status = models.MediaJobCompleted
		j.UploadID = upload.ID
		j.CompletedAt = &completedAt
	}); err != nil {
		t.Fatalf("UpdateMediaDownloadJob: %v", err)
	}
	store.UpdateResearchItem(item.ID, func(it *models.ResearchItem) {
		meta := map[string]any{"feed_download_job_id": job.ID}
		it.MediaMeta = meta
	})

	if _, err := svc.ledger.EnsureMonthlyGrant("user-1"); err != nil {
		t.Fatalf("EnsureMonthlyGrant: %v", err)
	}
	balanceBefore := svc.ledger.Balance("user-1")
	if _, err := svc.Audit(context.Background(), "user-1", item.ID); err == nil {
		t.Fatal("expected ServiceUnavailable since the queue is nil in this environment")
	}
	if got := svc.ledger.Balance("user-1"); got != balanceBefore {
		t.Fatalf("balance after failed enqueue = %d, want refunded back to %d", got, balanceBefore)
	}
}

func TestSummaryReportsNextStepProgression(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 1000, 10, 2, "Loop target")

	summary, err := svc.Summary("user-1", item.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.NextStep != "Generate a repost package." {
		t.Fatalf("NextStep = %q, want repost package prompt", summary.NextStep)
	}

	if _, err := svc.CreateRepostPackage("user-1", item.ID, nil); err != nil {
		t.Fatalf("CreateRepostPackage: %v", err)
	}
	summary, err = svc.Summary("user-1", item.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.NextStep != "Generate AI variants and save a draft snapshot." {
		t.Fatalf("NextStep = %q, want variant prompt", summary.NextStep)
	}
}

func TestTelemetrySummaryComputesFunnelRatios(t *testing.T) {
	svc, store := newTestService(t)
	item := seedItem(store, "user-1", 1000, 10, 2, "Funnel item")
	if _, err := svc.CreateRepostPackage("user-1", item.ID, nil); err != nil {
		t.Fatalf("CreateRepostPackage: %v", err)
	}
	if _, err := svc.Discover("user-1", DiscoverFilters{Platform: models.PlatformYouTube, Query: "funnel", Page: 1, Limit: 10}); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	summary := svc.TelemetrySummaryFor("user-1", 30)
	if summary.Funnel.DiscoveredCount != 1 {
		t.Fatalf("DiscoveredCount = %d, want 1", summary.Funnel.DiscoveredCount)
	}
	if summary.Funnel.PackagedCount != 1 {
		t.Fatalf("PackagedCount = %d, want 1", summary.Funnel.PackagedCount)
	}
	if summary.Funnel.DiscoverToPackagePct != 100.0 {
		t.Fatalf("DiscoverToPackagePct = %v, want 100.0", summary.Funnel.DiscoverToPackagePct)
	}
	if summary.Events.Total == 0 {
		t.Fatal("expected at least one telemetry event recorded")
	}

	events := svc.ListTelemetryEvents("user-1", 30, 50, "", "")
	if len(events) == 0 {
		t.Fatal("expected telemetry events listing to be non-empty")
	}
}
