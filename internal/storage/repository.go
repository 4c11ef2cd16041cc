package storage

import (
	"context"
	"time"

	"pulsebench/internal/models"
)

// UserPlatformPair names one distinct (user, platform) combination observed
// in the OutcomeMetric set, used to drive bulk recalibration.
type UserPlatformPair struct {
	UserID   string
	Platform models.Platform
}

// Repository exposes every datastore operation the domain packages need.
// The in-memory Storage type is the only production implementation; a
// Postgres-backed implementation is deliberately stubbed (see
// postgres_repository.go) since SQL schema migrations are out of scope.
type Repository interface {
	Ping(ctx context.Context) error

	EnsureUser(id, email string) (models.User, error)
	GetUser(id string) (models.User, bool)

	EnsureDefaultCollection(userID string, platform models.Platform) (models.ResearchCollection, error)
	CreateCollection(userID, name string, platform models.Platform, isSystem bool) (models.ResearchCollection, error)
	GetCollection(id string) (models.ResearchCollection, bool)
	ListCollections(userID string) []models.ResearchCollection

	CreateResearchItem(item models.ResearchItem) (models.ResearchItem, error)
	GetResearchItem(id string) (models.ResearchItem, bool)
	UpdateResearchItem(id string, mutate func(*models.ResearchItem)) (models.ResearchItem, error)
	ListResearchItems(userID string) []models.ResearchItem
	ReassignCollection(itemID, userID, collectionID string) (models.ResearchItem, error)

	UpsertFollow(follow models.FeedSourceFollow) (models.FeedSourceFollow, bool, error)
	GetFollow(id string) (models.FeedSourceFollow, bool)
	ListFollows(userID string) []models.FeedSourceFollow
	DeleteFollow(id string) error
	UpdateFollow(id string, mutate func(*models.FeedSourceFollow)) (models.FeedSourceFollow, error)
	DueFollows(now time.Time) []models.FeedSourceFollow

	CreateAutoIngestRun(run models.FeedAutoIngestRun) (models.FeedAutoIngestRun, error)
	UpdateAutoIngestRun(id string, mutate func(*models.FeedAutoIngestRun)) (models.FeedAutoIngestRun, error)
	ListAutoIngestRuns(userID string) []models.FeedAutoIngestRun

	CreateRepostPackage(pkg models.FeedRepostPackage) (models.FeedRepostPackage, error)
	GetRepostPackage(id string) (models.FeedRepostPackage, bool)
	ListRepostPackages(userID string) []models.FeedRepostPackage
	UpdateRepostPackageStatus(id, userID string, status models.RepostStatus) (models.FeedRepostPackage, error)

	AppendTelemetryEvent(evt models.FeedTelemetryEvent) error
	ListTelemetryEvents(userID string, since time.Time) []models.FeedTelemetryEvent

	CreateMediaDownloadJob(job models.MediaDownloadJob) (models.MediaDownloadJob, error)
	GetMediaDownloadJob(id string) (models.MediaDownloadJob, bool)
	UpdateMediaDownloadJob(id string, mutate func(*models.MediaDownloadJob)) (models.MediaDownloadJob, error)
	LatestMediaDownloadJobForSourceURL(userID, sourceURL string) (models.MediaDownloadJob, bool)
	ListStaleMediaDownloadJobs(cutoff time.Time) []models.MediaDownloadJob
	ListMediaDownloadJobs(userID string) []models.MediaDownloadJob

	CreateMediaAsset(asset models.MediaAsset) (models.MediaAsset, error)
	GetMediaAsset(id string) (models.MediaAsset, bool)

	CreateUpload(upload models.Upload) (models.Upload, error)
	GetUpload(id string) (models.Upload, bool)

	CreateTranscriptJob(job models.FeedTranscriptJob) (models.FeedTranscriptJob, error)
	GetTranscriptJob(id string) (models.FeedTranscriptJob, bool)
	UpdateTranscriptJob(id string, mutate func(*models.FeedTranscriptJob)) (models.FeedTranscriptJob, error)
	ListStaleTranscriptJobs(cutoff time.Time) []models.FeedTranscriptJob

	CreateAudit(audit models.Audit) (models.Audit, error)
	GetAudit(id string) (models.Audit, bool)
	UpdateAudit(id string, mutate func(*models.Audit)) (models.Audit, error)
	ListAudits(userID string) []models.Audit
	LatestCompletedAudit(userID string) (models.Audit, bool)
	ListStaleAudits(cutoff time.Time) []models.Audit

	CreateVariantBatch(batch models.VariantBatch) (models.VariantBatch, error)
	GetVariantBatch(id string) (models.VariantBatch, bool)
	ListVariantBatches(userID string) []models.VariantBatch

	CreateDraftSnapshot(snap models.DraftSnapshot) (models.DraftSnapshot, error)
	GetDraftSnapshot(id string) (models.DraftSnapshot, bool)
	ListDraftSnapshots(userID string) []models.DraftSnapshot
	LatestDraftSnapshot(userID string) (models.DraftSnapshot, bool)

	CreateOutcomeMetric(metric models.OutcomeMetric) (models.OutcomeMetric, error)
	ListOutcomeMetrics(userID string, platform models.Platform, limit int) []models.OutcomeMetric
	LatestOutcomeForPlatform(userID string, platform models.Platform) (models.OutcomeMetric, bool)
	OutcomeByReportID(reportID string) (models.OutcomeMetric, bool)
	DistinctUserPlatformPairs() []UserPlatformPair

	UpsertCalibrationSnapshot(snap models.CalibrationSnapshot) (models.CalibrationSnapshot, error)
	GetCalibrationSnapshot(userID string, platform models.Platform) (models.CalibrationSnapshot, bool)

	GetBlueprintSnapshot(userID string) (models.BlueprintSnapshot, bool)
	UpsertBlueprintSnapshot(snap models.BlueprintSnapshot) (models.BlueprintSnapshot, error)

	CreateShareLink(link models.ReportShareLink) (models.ReportShareLink, error)
	GetShareLinkByToken(token string) (models.ReportShareLink, bool)
	TouchShareLink(id string, at time.Time) error

	AppendLedgerEntry(entry models.CreditLedger) (models.CreditLedger, error)
	ListLedgerEntries(userID string) []models.CreditLedger
	HasLedgerEntryForPeriod(userID, periodKey string) bool
	LatestBalance(userID string) int

	CreateCompetitor(c models.Competitor) (models.Competitor, error)
	GetCompetitor(id string) (models.Competitor, bool)
	ListCompetitors(userID string, platform models.Platform) []models.Competitor
	DeleteCompetitor(id, userID string) error
}

var _ Repository = (*Storage)(nil)
