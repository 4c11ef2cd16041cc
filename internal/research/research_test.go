package research

import (
	"context"
	"path/filepath"
	"testing"

	"pulsebench/internal/models"
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
	pc := platformclient.New(platformclient.Config{APIKey: ""})
	svc := New(store, pc, t.TempDir(), "test-secret-at-least-24-characters-long")
	return svc, store
}

func TestImportURLInfersPlatformAndEnrichesYouTube(t *testing.T) {
	svc, _ := newTestService(t)
	item, err := svc.ImportURL(context.Background(), "user-1", "", "https://www.youtube.com/watch?v=abcdefghijk")
	if err != nil {
		t.Fatalf("ImportURL: %v", err)
	}
	if item.Platform != models.PlatformYouTube {
		t.Fatalf("Platform = %v, want youtube", item.Platform)
	}
	if item.ExternalID != "abcdefghijk" {
		t.Fatalf("ExternalID = %q, want abcdefghijk", item.ExternalID)
	}
	if item.Title == "" {
		t.Fatal("expected enriched title from platformclient fallback")
	}
	if item.SourceType != models.SourceManualURL {
		t.Fatalf("SourceType = %v, want manual_url", item.SourceType)
	}
}

func TestImportURLRejectsUnresolvablePlatform(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ImportURL(context.Background(), "user-1", "", "https://example.com/video/1"); err == nil {
		t.Fatal("expected error for unresolvable platform")
	}
}

func TestCaptureWritesBrowserCaptureItem(t *testing.T) {
	svc, _ := newTestService(t)
	item, err := svc.Capture(context.Background(), "user-1", CapturePayload{
		Platform: "tiktok", URL: "https://www.tiktok.com/@creator/video/123456",
		Title: "Great clip", Metrics: models.Metrics{Views: 500},
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if item.SourceType != models.SourceBrowserCapture {
		t.Fatalf("SourceType = %v, want browser_capture", item.SourceType)
	}
	if item.CreatorHandle != "@creator" {
		t.Fatalf("CreatorHandle = %q, want @creator", item.CreatorHandle)
	}
	if item.ExternalID != "123456" {
		t.Fatalf("ExternalID = %q, want 123456", item.ExternalID)
	}
}

func TestImportCSVParsesRowsAndRejectsOversized(t *testing.T) {
	svc, store := newTestService(t)
	csvBody := "url,title,views,likes\n" +
		"https://www.youtube.com/watch?v=aaaaaaaaaaa,First,100,10\n" +
		"https://www.tiktok.com/@x/video/999,Second,200,20\n"
	result, err := svc.ImportCSV(context.Background(), "user-1", "", []byte(csvBody))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if result.ImportedCount != 2 {
		t.Fatalf("ImportedCount = %d, want 2", result.ImportedCount)
	}
	items := store.ListResearchItems("user-1")
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	oversized := make([]byte, maxCSVBytes+1)
	if _, err := svc.ImportCSV(context.Background(), "user-1", "youtube", oversized); err == nil {
		t.Fatal("expected error for oversized CSV")
	}
}

func TestSearchFiltersAndPaginates(t *testing.T) {
	svc, store := newTestService(t)
	for i := 0; i < 5; i++ {
		store.CreateResearchItem(models.ResearchItem{
			UserID: "user-1", Platform: models.PlatformYouTube, Title: "Video",
			Metrics: models.Metrics{Views: int64(i * 100)},
		})
	}
	store.CreateResearchItem(models.ResearchItem{UserID: "user-1", Platform: models.PlatformTikTok, Title: "Other"})

	result := svc.Search("user-1", SearchFilters{Platform: "youtube", SortBy: "views", SortDirection: "desc", Page: 1, Limit: 3})
	if result.TotalCount != 5 {
		t.Fatalf("TotalCount = %d, want 5", result.TotalCount)
	}
	if len(result.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(result.Items))
	}
	if !result.HasMore {
		t.Fatal("expected HasMore = true")
	}
	if result.Items[0].Metrics.Views < result.Items[1].Metrics.Views {
		t.Fatalf("expected descending views order, got %+v", result.Items)
	}
}

func TestExportAndResolveRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	coll, err := store.CreateCollection("user-1", "Test Collection", models.PlatformYouTube, false)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	store.CreateResearchItem(models.ResearchItem{UserID: "user-1", CollectionID: coll.ID, Platform: models.PlatformYouTube, Title: "A"})

	result, err := svc.Export("user-1", coll.ID, "csv")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.ItemCount != 1 {
		t.Fatalf("ItemCount = %d, want 1", result.ItemCount)
	}

	token := extractQueryParam(result.SignedURL, "token")
	path, format, err := svc.ResolveExportFile("user-1", result.ExportID, token)
	if err != nil {
		t.Fatalf("ResolveExportFile: %v", err)
	}
	if format != "csv" {
		t.Fatalf("format = %q, want csv", format)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}
}

func TestResolveExportFileRejectsWrongUser(t *testing.T) {
	svc, store := newTestService(t)
	coll, _ := store.CreateCollection("user-1", "Test Collection", models.PlatformYouTube, false)
	result, err := svc.Export("user-1", coll.ID, "json")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	token := extractQueryParam(result.SignedURL, "token")
	if _, _, err := svc.ResolveExportFile("user-2", result.ExportID, token); err == nil {
		t.Fatal("expected error resolving another user's export token")
	}
}

func extractQueryParam(rawURL, key string) string {
	marker := key + "="
	idx := -1
	for i := 0; i+len(marker) <= len(rawURL); i++ {
		if rawURL[i:i+len(marker)] == marker {
			idx = i + len(marker)
			break
		}
	}
	if idx < 0 {
		return ""
	}
	return rawURL[idx:]
}
