package optimizer

import (
	"context"
	"path/filepath"
	"testing"

	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := storage.NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	llm := llmclient.New(llmclient.Config{APIKey: ""})
	return New(store, llm)
}

func TestGenerateVariantsProducesThreeRankedVariants(t *testing.T) {
	s := newTestService(t)

	batch, err := s.GenerateVariants(context.Background(), GenerateVariantsRequest{
		UserID:   "user-1",
		Platform: models.PlatformYouTube,
		Topic:    "growing a channel",
		Audience: "new creators",
	})
	if err != nil {
		t.Fatalf("GenerateVariants: %v", err)
	}
	if len(batch.Variants) != 3 {
		t.Fatalf("len(Variants) = %d, want 3", len(batch.Variants))
	}
	if batch.SelectedVariantID != batch.Variants[0].ID {
		t.Fatalf("SelectedVariantID = %q, want top-ranked variant %q", batch.SelectedVariantID, batch.Variants[0].ID)
	}
	for i, v := range batch.Variants {
		if !v.UsedFallback {
			t.Errorf("variant %d: UsedFallback = false, want true (no provider key in tests)", i)
		}
		if v.Rank != i+1 {
			t.Errorf("variant %d: Rank = %d, want %d", i, v.Rank, i+1)
		}
		if v.ScoreBreakdown.DurationSeconds != 45 {
			t.Errorf("variant %d: DurationSeconds = %d, want default 45 for youtube", i, v.ScoreBreakdown.DurationSeconds)
		}
	}
	if batch.Variants[0].ScoreBreakdown.Combined < batch.Variants[2].ScoreBreakdown.Combined {
		t.Fatalf("variants not sorted descending by combined score: %v", batch.Variants)
	}
}

func TestGenerateVariantsClampsDuration(t *testing.T) {
	s := newTestService(t)

	batch, err := s.GenerateVariants(context.Background(), GenerateVariantsRequest{
		UserID: "user-1", Platform: models.PlatformTikTok, Topic: "x", DurationS: 5,
	})
	if err != nil {
		t.Fatalf("GenerateVariants: %v", err)
	}
	for _, v := range batch.Variants {
		if v.ScoreBreakdown.DurationSeconds != 15 {
			t.Errorf("DurationSeconds = %d, want clamped to 15", v.ScoreBreakdown.DurationSeconds)
		}
	}
}

func TestRescoreIsDeterministic(t *testing.T) {
	s := newTestService(t)
	req := RescoreRequest{
		UserID:     "user-1",
		ScriptText: "I tested this trick and here's what happened.\nMost people skip this step.\nHere's the breakdown.\nFollow for more.",
		Platform:   models.PlatformInstagram,
	}
	first := s.Rescore(context.Background(), req)
	second := s.Rescore(context.Background(), req)
	if first.ScoreBreakdown.Combined != second.ScoreBreakdown.Combined {
		t.Fatalf("Rescore not deterministic: %v vs %v", first.ScoreBreakdown.Combined, second.ScoreBreakdown.Combined)
	}
	if len(first.DetectorRankings) != 5 {
		t.Fatalf("len(DetectorRankings) = %d, want 5", len(first.DetectorRankings))
	}
	if len(first.LineLevelEdits) == 0 {
		t.Fatal("LineLevelEdits is empty, want at least one suggested edit")
	}
}

func TestRescoreImprovementDiffAgainstBaseline(t *testing.T) {
	s := newTestService(t)
	baseline := 40.0
	req := RescoreRequest{
		UserID:        "user-1",
		ScriptText:    "Here's the secret nobody tells you.\nStick around for the payoff.\nSave this before you try it.",
		Platform:      models.PlatformYouTube,
		BaselineScore: &baseline,
	}
	result := s.Rescore(context.Background(), req)
	if result.ImprovementDiff == nil {
		t.Fatal("ImprovementDiff is nil, want a diff when BaselineScore is set")
	}
	combined, ok := result.ImprovementDiff["combined"].(map[string]any)
	if !ok {
		t.Fatalf("ImprovementDiff[\"combined\"] has wrong shape: %#v", result.ImprovementDiff["combined"])
	}
	if combined["before"] != baseline {
		t.Errorf("combined.before = %v, want %v", combined["before"], baseline)
	}
}

func TestCreateDraftSnapshotComputesDelta(t *testing.T) {
	s := newTestService(t)
	baseline := 30.0
	snap, err := s.CreateDraftSnapshot(context.Background(), RescoreRequest{
		UserID:        "user-1",
		ScriptText:    "I grew my channel with this one change.\nHere's exactly how.\nComment if you want the full guide.",
		Platform:      models.PlatformYouTube,
		BaselineScore: &baseline,
	}, "item-1", "variant-1")
	if err != nil {
		t.Fatalf("CreateDraftSnapshot: %v", err)
	}
	if snap.DeltaScore == nil {
		t.Fatal("DeltaScore is nil, want computed delta")
	}
	if *snap.DeltaScore != snap.RescoredScore-baseline {
		t.Fatalf("DeltaScore = %v, want %v", *snap.DeltaScore, snap.RescoredScore-baseline)
	}

	fetched, ok := s.GetDraftSnapshot(snap.ID)
	if !ok {
		t.Fatal("GetDraftSnapshot: not found")
	}
	if fetched.ID != snap.ID {
		t.Fatalf("fetched.ID = %q, want %q", fetched.ID, snap.ID)
	}

	latest, ok := s.LatestDraftSnapshot("user-1")
	if !ok {
		t.Fatal("LatestDraftSnapshot: not found")
	}
	if latest.ID != snap.ID {
		t.Fatalf("LatestDraftSnapshot.ID = %q, want %q", latest.ID, snap.ID)
	}
}

func TestDetectorRankingsPrioritizeLargestGaps(t *testing.T) {
	s := newTestService(t)
	result := s.Rescore(context.Background(), RescoreRequest{
		UserID:     "user-1",
		ScriptText: "um so anyway this is a video about stuff I guess.",
		Platform:   models.PlatformYouTube,
	})
	seenHigh := false
	for _, d := range result.DetectorRankings {
		if d.Priority == "high" {
			seenHigh = true
		}
	}
	if !seenHigh {
		t.Error("expected at least one high-priority detector for a weak script")
	}
	for i := 1; i < len(result.DetectorRankings); i++ {
		if result.DetectorRankings[i-1].Gap < result.DetectorRankings[i].Gap {
			t.Fatalf("DetectorRankings not sorted by descending gap at index %d: %v", i, result.DetectorRankings)
		}
	}
}
