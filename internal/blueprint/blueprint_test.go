package blueprint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebench/internal/llmclient"
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
	llm := llmclient.New(llmclient.Config{APIKey: ""})
	pc := platformclient.New(platformclient.Config{APIKey: ""})
	svc := New(store, llm, pc, 3*time.Hour)
	return svc, store
}

func TestGetOrRefreshWithNoCompetitorsReturnsPlaceholder(t *testing.T) {
	svc, _ := newTestService(t)
	snap, err := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	gaps, ok := snap.Payload["gap_analysis"].([]string)
	if !ok || len(gaps) == 0 {
		t.Fatalf("expected placeholder gap_analysis, got %+v", snap.Payload["gap_analysis"])
	}
}

func TestGetOrRefreshBuildsBlueprintFromCompetitors(t *testing.T) {
	svc, store := newTestService(t)
	store.CreateCompetitor(models.Competitor{UserID: "user-1", Platform: models.PlatformYouTube, ExternalID: "UC123", Handle: "rival", DisplayName: "Rival Channel"})

	snap, err := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if snap.CompetitorSignature == "" {
		t.Fatal("expected non-empty competitor signature")
	}
	hookIntel, ok := snap.Payload["hook_intelligence"].(map[string]any)
	if !ok {
		t.Fatalf("hook_intelligence missing or wrong type: %+v", snap.Payload["hook_intelligence"])
	}
	if _, ok := hookIntel["format_breakdown"]; !ok {
		t.Fatal("expected format_breakdown in hook_intelligence")
	}
}

func TestGetOrRefreshReusesFreshCache(t *testing.T) {
	svc, store := newTestService(t)
	store.CreateCompetitor(models.Competitor{UserID: "user-1", Platform: models.PlatformYouTube, ExternalID: "UC123"})

	first, err := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	second, err := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("GetOrRefresh (cached): %v", err)
	}
	if !first.GeneratedAt.Equal(second.GeneratedAt) {
		t.Fatalf("expected cache reuse: first=%v second=%v", first.GeneratedAt, second.GeneratedAt)
	}
}

func TestGetOrRefreshInvalidatesOnNewCompetitor(t *testing.T) {
	svc, store := newTestService(t)
	store.CreateCompetitor(models.Competitor{UserID: "user-1", Platform: models.PlatformYouTube, ExternalID: "UC123"})
	first, _ := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)

	store.CreateCompetitor(models.Competitor{UserID: "user-1", Platform: models.PlatformYouTube, ExternalID: "UC456"})
	second, err := svc.GetOrRefresh(context.Background(), "user-1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if first.CompetitorSignature == second.CompetitorSignature {
		t.Fatal("expected competitor signature to change after adding a competitor")
	}
}

func TestCompetitorSignatureIsOrderIndependent(t *testing.T) {
	a := CompetitorSignature(models.PlatformYouTube, []string{"UC1", "UC2"}, nil)
	b := CompetitorSignature(models.PlatformYouTube, []string{"UC2", "UC1"}, nil)
	if a != b {
		t.Fatalf("expected order-independent signature: %s != %s", a, b)
	}
}

func TestCompetitorSignatureIncludesResearchItemsForNonYouTube(t *testing.T) {
	a := CompetitorSignature(models.PlatformTikTok, []string{"ext-1"}, []string{"item-1"})
	b := CompetitorSignature(models.PlatformTikTok, []string{"ext-1"}, []string{"item-1", "item-2"})
	if a == b {
		t.Fatal("expected research item set to affect the TikTok signature")
	}

	c := CompetitorSignature(models.PlatformYouTube, []string{"ext-1"}, []string{"item-1"})
	d := CompetitorSignature(models.PlatformYouTube, []string{"ext-1"}, []string{"item-1", "item-2"})
	if c != d {
		t.Fatal("expected research item set to be ignored for YouTube signature")
	}
}

func TestDetectHookPatternClassifiesCommonShapes(t *testing.T) {
	cases := map[string]string{
		"Why nobody talks about this":       "Question Hook",
		"5 Ways To Grow Faster":             "Numbered Promise",
		"iPhone vs Android for Creators":    "Comparison Hook",
		"Stop making this mistake":          "Mistake/Warning Hook",
		"The secret nobody tells you":       "Secret Reveal Hook",
		"I tried cold outreach for 30 days": "Challenge/Experiment Hook",
		"How to edit faster":                "How-To Hook",
		"My New Studio Tour":                "Direct Outcome Hook",
	}
	for title, want := range cases {
		if got := detectHookPattern(title); got != want {
			t.Errorf("detectHookPattern(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestBuildWinnerPatternSignalsEmptyInput(t *testing.T) {
	signals := buildWinnerPatternSignals(nil)
	if signals["sample_size"] != 0 {
		t.Fatalf("sample_size = %v, want 0", signals["sample_size"])
	}
}
