package storage

import (
	"testing"
	"time"

	"pulsebench/internal/models"
)

func TestEnsureUserIsLazyAndIdempotent(t *testing.T) {
	store := newTestStore(t)

	u1, err := store.EnsureUser("u1", "a@example.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	u2, err := store.EnsureUser("u1", "a@example.com")
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if u1.ID != u2.ID || u1.Email != u2.Email {
		t.Fatalf("expected idempotent user record, got %+v vs %+v", u1, u2)
	}
}

func TestResearchItemCollectionReassignment(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.EnsureUser("u1", "a@example.com"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	coll, err := store.EnsureDefaultCollection("u1", models.PlatformYouTube)
	if err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	item, err := store.CreateResearchItem(models.ResearchItem{
		UserID:     "u1",
		Platform:   models.PlatformYouTube,
		SourceType: models.SourceManualURL,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	other, err := store.CreateCollection("u1", "Other", models.PlatformYouTube, false)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}

	updated, err := store.ReassignCollection(item.ID, "u1", other.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if updated.CollectionID != other.ID {
		t.Fatalf("expected item reassigned to %s, got %s", other.ID, updated.CollectionID)
	}
	if updated.CollectionID == coll.ID {
		t.Fatalf("item should not remain in default collection")
	}
}

func TestUpdateResearchItemMergesMediaMeta(t *testing.T) {
	store := newTestStore(t)
	item, err := store.CreateResearchItem(models.ResearchItem{UserID: "u1", Platform: models.PlatformTikTok, SourceType: models.SourceManualURL})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	_, err = store.UpdateResearchItem(item.ID, func(i *models.ResearchItem) {
		i.MediaMeta["favorite"] = true
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}

	got, ok := store.GetResearchItem(item.ID)
	if !ok {
		t.Fatal("expected item to exist")
	}
	if got.MediaMeta["favorite"] != true {
		t.Fatalf("expected favorite=true in media_meta, got %+v", got.MediaMeta)
	}
}

func TestUpsertFollowUpdatesExistingRow(t *testing.T) {
	store := newTestStore(t)
	follow := models.FeedSourceFollow{
		UserID:   "u1",
		Platform: models.PlatformInstagram,
		Mode:     models.FollowModeKeyword,
		Query:    "ai tools",
	}

	first, created, err := store.UpsertFollow(follow)
	if err != nil || !created {
		t.Fatalf("expected first upsert to create, got created=%v err=%v", created, err)
	}

	follow.Limit = 25
	second, created, err := store.UpsertFollow(follow)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if created {
		t.Fatal("expected second upsert to update, not create")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row id, got %s vs %s", first.ID, second.ID)
	}
	if len(store.ListFollows("u1")) != 1 {
		t.Fatalf("expected exactly one follow row")
	}
}

func TestLedgerBalanceTracksAppendedEntries(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AppendLedgerEntry(models.CreditLedger{UserID: "u1", EntryType: models.LedgerMonthlyGrant, DeltaCredits: 10, BalanceAfter: 10, PeriodKey: "2026-08"}); err != nil {
		t.Fatalf("append grant: %v", err)
	}
	if _, err := store.AppendLedgerEntry(models.CreditLedger{UserID: "u1", EntryType: models.LedgerDebit, DeltaCredits: -3, BalanceAfter: 7}); err != nil {
		t.Fatalf("append debit: %v", err)
	}
	if got := store.LatestBalance("u1"); got != 7 {
		t.Fatalf("expected balance 7, got %d", got)
	}
	if !store.HasLedgerEntryForPeriod("u1", "2026-08") {
		t.Fatal("expected monthly grant to be recorded for period")
	}
}

func TestListStaleAuditsHonorsCutoff(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().UTC().Add(-150 * time.Minute)
	audit, err := store.CreateAudit(models.Audit{UserID: "u1", Status: models.AuditProcessingVideo, CreatedAt: old})
	if err != nil {
		t.Fatalf("create audit: %v", err)
	}

	stale := store.ListStaleAudits(time.Now().UTC().Add(-120 * time.Minute))
	if len(stale) != 1 || stale[0].ID != audit.ID {
		t.Fatalf("expected the seeded audit to be reported stale, got %+v", stale)
	}
}

func TestPersistFailureRollsBackMutation(t *testing.T) {
	store := newTestStore(t)
	store.persistOverride = func(dataset) error { return errFakePersist }

	_, err := store.EnsureUser("u1", "a@example.com")
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if _, ok := store.GetUser("u1"); ok {
		t.Fatal("expected failed mutation to be rolled back")
	}
}
