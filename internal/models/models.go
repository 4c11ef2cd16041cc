// Package models defines the persisted entities of the creator-analytics
// domain: research items, the feed-loop pipeline artifacts, media jobs,
// audits, optimizer output, outcome calibration, and the credit ledger.
package models

import "time"

// Platform enumerates the social platforms the corpus understands.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformTikTok:
		return true
	}
	return false
}

// SourceType records how a ResearchItem entered the corpus.
type SourceType string

const (
	SourceManualURL      SourceType = "manual_url"
	SourceBrowserCapture SourceType = "browser_capture"
	SourceCSVImport      SourceType = "csv_import"
)

// User is the root of every ownership edge. Created lazily on first reference.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Metrics holds the raw engagement counters common to every platform.
type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Saves    int64 `json:"saves"`
}

// ResearchItem is the canonical cross-platform content record. Identity
// (id, user_id, platform, source fields) is immutable; only media_meta and
// collection assignment are mutated after creation.
type ResearchItem struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	CollectionID       string         `json:"collection_id,omitempty"`
	Platform           Platform       `json:"platform"`
	SourceType         SourceType     `json:"source_type"`
	URL                string         `json:"url,omitempty"`
	ExternalID         string         `json:"external_id,omitempty"`
	CreatorHandle      string         `json:"creator_handle,omitempty"`
	CreatorDisplayName string         `json:"creator_display_name,omitempty"`
	Title              string         `json:"title,omitempty"`
	Caption            string         `json:"caption,omitempty"`
	Metrics            Metrics        `json:"metrics"`
	MediaMeta          map[string]any `json:"media_meta,omitempty"`
	PublishedAt        *time.Time     `json:"published_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ResearchCollection groups items for one user on one platform.
type ResearchCollection struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Platform Platform `json:"platform"`
	IsSystem bool     `json:"is_system"`
}

// FollowMode enumerates discovery query shapes.
type FollowMode string

const (
	FollowModeProfile FollowMode = "profile"
	FollowModeHashtag FollowMode = "hashtag"
	FollowModeKeyword FollowMode = "keyword"
	FollowModeAudio   FollowMode = "audio"
)

// Timeframe enumerates discovery/search cutoff windows.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
	TimeframeAll Timeframe = "all"
)

// FeedSourceFollow is a stored discovery query driving auto-ingest.
type FeedSourceFollow struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Platform       Platform   `json:"platform"`
	Mode           FollowMode `json:"mode"`
	Query          string     `json:"query"`
	Timeframe      Timeframe  `json:"timeframe"`
	SortBy         string     `json:"sort_by"`
	SortDirection  string     `json:"sort_direction"`
	Limit          int        `json:"limit"`
	CadenceMinutes int        `json:"cadence_minutes"`
	IsActive       bool       `json:"is_active"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// RunStatus is shared by auto-ingest runs, media jobs and transcript jobs
// wherever a simple running/completed/failed tri-state applies.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// FeedAutoIngestRun is an append-only record of one scheduler tick for a follow.
type FeedAutoIngestRun struct {
	ID           string     `json:"id"`
	FollowID     string     `json:"follow_id"`
	UserID       string     `json:"user_id"`
	Status       RunStatus  `json:"status"`
	ItemCount    int        `json:"item_count"`
	ItemIDs      []string   `json:"item_ids"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RepostStatus enumerates the free-form status lattice of a repost package.
type RepostStatus string

const (
	RepostDraft     RepostStatus = "draft"
	RepostScheduled RepostStatus = "scheduled"
	RepostPublished RepostStatus = "published"
	RepostArchived  RepostStatus = "archived"
)

// RepostSubPackage is the per-target-platform synthesized repost plan.
type RepostSubPackage struct {
	DurationTargetS int      `json:"duration_target_s"`
	HookDeadlineS   int      `json:"hook_deadline_s"`
	FirstFrameText  string   `json:"first_frame_text"`
	Caption         string   `json:"caption"`
	CTALine         string   `json:"cta_line"`
	Hashtags        []string `json:"hashtags"`
	EditDirectives  []string `json:"edit_directives"`
}

// RepostHookVariant is one of the three synthesized hook angles.
type RepostHookVariant struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// RepostPackagePayload is the structured content of a FeedRepostPackage.
type RepostPackagePayload struct {
	HookVariants []RepostHookVariant         `json:"hook_variants"`
	Platforms    map[string]RepostSubPackage `json:"platforms"`
}

// FeedRepostPackage is the repurposing artifact produced for a ResearchItem.
type FeedRepostPackage struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	SourceItemID    string               `json:"source_item_id"`
	Status          RepostStatus         `json:"status"`
	TargetPlatforms []Platform           `json:"target_platforms"`
	Package         RepostPackagePayload `json:"package"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// FeedTelemetryEvent is an append-only funnel-analytics record.
type FeedTelemetryEvent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	EventName    string         `json:"event_name"`
	Status       string         `json:"status"`
	Platform     Platform       `json:"platform,omitempty"`
	SourceItemID string         `json:"source_item_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// MediaJobStatus is the state-machine status of a MediaDownloadJob.
type MediaJobStatus string

const (
	MediaJobQueued      MediaJobStatus = "queued"
	MediaJobDownloading MediaJobStatus = "downloading"
	MediaJobProcessing  MediaJobStatus = "processing"
	MediaJobCompleted   MediaJobStatus = "completed"
	MediaJobFailed      MediaJobStatus = "failed"
)

// MediaDownloadJob tracks one external-media download through to a
// materialized Upload + MediaAsset pair.
type MediaDownloadJob struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Platform     Platform       `json:"platform"`
	SourceURL    string         `json:"source_url"`
	Status       MediaJobStatus `json:"status"`
	Progress     int            `json:"progress"`
	QueueJobID   string         `json:"queue_job_id,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	MediaAssetID string         `json:"media_asset_id,omitempty"`
	UploadID     string         `json:"upload_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// MediaAsset is a materialized downloaded file.
type MediaAsset struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Platform         Platform  `json:"platform"`
	SourceURL        string    `json:"source_url"`
	FilePath         string    `json:"file_path"`
	FileName         string    `json:"file_name"`
	Size             int64     `json:"size"`
	Mime             string    `json:"mime"`
	DurationS        int       `json:"duration_s"`
	TranscriptStatus string    `json:"transcript_status"`
	UploadID         string    `json:"upload_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Upload is how audits reference a playable file. A MediaAsset references
// exactly one Upload.
type Upload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FileURL   string    `json:"file_url"`
	FileType  string    `json:"file_type"`
	Size      int64     `json:"size"`
	Mime      string    `json:"mime"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptSource records which strategy produced a transcript.
type TranscriptSource string

const (
	TranscriptWhisperAudio    TranscriptSource = "whisper_audio"
	TranscriptCaptionFallback TranscriptSource = "caption_fallback"
	TranscriptTitleFallback   TranscriptSource = "title_fallback"
)

// FeedTranscriptJob extracts or derives a transcript for a ResearchItem.
type FeedTranscriptJob struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	ResearchItemID   string           `json:"research_item_id"`
	Status           RunStatus        `json:"status"`
	Progress         int              `json:"progress"`
	QueueJobID       string           `json:"queue_job_id,omitempty"`
	Attempts         int              `json:"attempts"`
	TranscriptSource TranscriptSource `json:"transcript_source,omitempty"`
	TranscriptText   string           `json:"transcript_text,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// AuditStatus is the state-machine status of an Audit.
type AuditStatus string

const (
	AuditPending         AuditStatus = "pending"
	AuditDownloading     AuditStatus = "downloading"
	AuditProcessingVideo AuditStatus = "processing_video"
	AuditProcessingAudio AuditStatus = "processing_audio"
	AuditAnalyzing       AuditStatus = "analyzing"
	AuditCompleted       AuditStatus = "completed"
	AuditFailed          AuditStatus = "failed"
)

// AuditInput captures the mutually-exclusive source mode for an Audit.
type AuditInput struct {
	SourceItemID string `json:"source_item_id,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	UploadPath   string `json:"upload_path,omitempty"`
	UploadID     string `json:"upload_id,omitempty"`
	PlatformHint string `json:"platform_hint,omitempty"`
}

// AuditOutput is the finished bundle persisted into Audit.OutputJSON.
type AuditOutput struct {
	Diagnosis             map[string]any `json:"diagnosis,omitempty"`
	VideoAnalysis         *AuditResult   `json:"video_analysis,omitempty"`
	PerformancePrediction map[string]any `json:"performance_prediction,omitempty"`
}

// TimestampFeedback is one timestamped note from the multimodal analysis.
type TimestampFeedback struct {
	Timestamp   string `json:"timestamp"`
	Category    string `json:"category"`
	Observation string `json:"observation"`
	Impact      string `json:"impact"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// AnalysisSection is one scored facet of the multimodal analysis.
type AnalysisSection struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Feedback []string `json:"feedback"`
}

// AuditResult is the strict-JSON multimodal analysis shape the LLM (or the
// deterministic fallback) produces.
type AuditResult struct {
	VideoID           string              `json:"video_id"`
	OverallScore      float64             `json:"overall_score"`
	Summary           string              `json:"summary"`
	Sections          []AnalysisSection   `json:"sections"`
	TimestampFeedback []TimestampFeedback `json:"timestamp_feedback"`
}

// Audit is one multimodal audit run.
type Audit struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Status       AuditStatus  `json:"status"`
	Progress     string       `json:"progress"`
	InputJSON    AuditInput   `json:"input_json"`
	OutputJSON   *AuditOutput `json:"output_json,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// VariantStyleKey enumerates the three fixed script-generation strategies.
type VariantStyleKey string

const (
	VariantOutcomeProof VariantStyleKey = "variant_a"
	VariantCuriosityGap VariantStyleKey = "variant_b"
	VariantContrarian   VariantStyleKey = "variant_c"
)

// VariantStructure is the tagged breakdown of a generated script.
type VariantStructure struct {
	Hook  string `json:"hook"`
	Setup string `json:"setup"`
	Value string `json:"value"`
	CTA   string `json:"cta"`
}

// DetectorScore is one rule-based detector's output.
type DetectorScore struct {
	Key                 string   `json:"key"`
	Score               float64  `json:"score"`
	TargetScore         float64  `json:"target_score"`
	Gap                 float64  `json:"gap"`
	Weight              float64  `json:"weight"`
	Evidence            []string `json:"evidence"`
	Edits               []string `json:"edits"`
	Priority            string   `json:"priority,omitempty"`
	EstimatedLiftPoints float64  `json:"estimated_lift_points,omitempty"`
}

// ScoreBreakdown is the full combined-score computation for one script.
type ScoreBreakdown struct {
	Combined            float64 `json:"combined"`
	PlatformScore       float64 `json:"platform_score"`
	CompetitorScore     float64 `json:"competitor_score"`
	HistoricalScore     float64 `json:"historical_score"`
	Confidence          string  `json:"confidence"`
	MetricCoverage      string  `json:"metric_coverage"`
	FormatType          string  `json:"format_type"`
	DurationSeconds     int     `json:"duration_seconds"`
	HasCompetitorData   bool    `json:"has_competitor_data"`
	CompetitorSample    int     `json:"competitor_sample"`
	InsufficientHistory bool    `json:"insufficient_history"`
}

// NextAction is a prescribed follow-up derived from the top detector gaps.
type NextAction struct {
	Title              string   `json:"title"`
	DetectorKey        string   `json:"detector_key"`
	Priority           string   `json:"priority"`
	Why                string   `json:"why"`
	ExpectedLiftPoints float64  `json:"expected_lift_points"`
	ExecutionSteps     []string `json:"execution_steps"`
}

// LineLevelEdit is one concrete rewrite suggestion tied to a script line.
type LineLevelEdit struct {
	DetectorKey   string `json:"detector_key"`
	Priority      string `json:"priority"`
	LineNumber    int    `json:"line_number"`
	OriginalLine  string `json:"original_line"`
	SuggestedLine string `json:"suggested_line"`
	Reason        string `json:"reason"`
}

// Variant is one of the three generated scripts in a batch.
type Variant struct {
	ID                 string           `json:"id"`
	StyleKey           VariantStyleKey  `json:"style_key"`
	Structure          VariantStructure `json:"structure"`
	ScriptText         string           `json:"script_text"`
	ScoreBreakdown     ScoreBreakdown   `json:"score_breakdown"`
	DetectorRankings   []DetectorScore  `json:"detector_rankings"`
	NextActions        []NextAction     `json:"next_actions"`
	Rank               int              `json:"rank"`
	ExpectedLiftPoints float64          `json:"expected_lift_points"`
	UsedFallback       bool             `json:"used_fallback"`
	FallbackReason     string           `json:"fallback_reason,omitempty"`
}

// VariantBatch is the persisted result of Optimizer.generateVariants.
type VariantBatch struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	SourceItemID      string         `json:"source_item_id,omitempty"`
	Platform          Platform       `json:"platform"`
	Topic             string         `json:"topic"`
	Request           map[string]any `json:"request"`
	Variants          []Variant      `json:"variants"`
	SelectedVariantID string         `json:"selected_variant_id"`
	CreatedAt         time.Time      `json:"created_at"`
}

// DraftSnapshot is a rescored edited script.
type DraftSnapshot struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Platform         Platform        `json:"platform"`
	SourceItemID     string          `json:"source_item_id,omitempty"`
	VariantID        string          `json:"variant_id,omitempty"`
	ScriptText       string          `json:"script_text"`
	BaselineScore    *float64        `json:"baseline_score,omitempty"`
	RescoredScore    float64         `json:"rescored_score"`
	DeltaScore       *float64        `json:"delta_score,omitempty"`
	DetectorRankings []DetectorScore `json:"detector_rankings"`
	NextActions      []NextAction    `json:"next_actions"`
	LineLevelEdits   []LineLevelEdit `json:"line_level_edits"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ActualMetrics is the raw observed performance of a published post.
type ActualMetrics struct {
	Views            int64   `json:"views"`
	Likes            int64   `json:"likes"`
	Comments         int64   `json:"comments"`
	Shares           int64   `json:"shares"`
	Saves            int64   `json:"saves"`
	AvgWatchTime     float64 `json:"avg_watch_time,omitempty"`
	AvgViewDurationS float64 `json:"avg_view_duration_s,omitempty"`
}

// OutcomeMetric is an immutable (predicted, actual) observation.
type OutcomeMetric struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Platform         Platform      `json:"platform"`
	ContentItemID    string        `json:"content_item_id,omitempty"`
	DraftSnapshotID  string        `json:"draft_snapshot_id,omitempty"`
	ReportID         string        `json:"report_id,omitempty"`
	VideoExternalID  string        `json:"video_external_id,omitempty"`
	PostedAt         time.Time     `json:"posted_at"`
	ActualMetrics    ActualMetrics `json:"actual_metrics"`
	RetentionPoints  []float64     `json:"retention_points,omitempty"`
	PredictedScore   *float64      `json:"predicted_score,omitempty"`
	ActualScore      float64       `json:"actual_score"`
	CalibrationDelta *float64      `json:"calibration_delta,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// CalibrationTrend enumerates snapshot drift direction.
type CalibrationTrend string

const (
	TrendImproving CalibrationTrend = "improving"
	TrendFlat      CalibrationTrend = "flat"
	TrendDrifting  CalibrationTrend = "drifting"
)

// CalibrationSnapshot is a pure function of a user's OutcomeMetric set for
// one platform; unique per (user, platform) and rebuildable at any time.
type CalibrationSnapshot struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Platform        Platform         `json:"platform"`
	SampleSize      int              `json:"sample_size"`
	MeanAbsError    float64          `json:"mean_abs_error"`
	HitRate         float64          `json:"hit_rate"`
	Trend           CalibrationTrend `json:"trend"`
	Confidence      string           `json:"confidence"`
	Recommendations []string         `json:"recommendations"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// LedgerEntryType enumerates CreditLedger row kinds.
type LedgerEntryType string

const (
	LedgerMonthlyGrant LedgerEntryType = "monthly_grant"
	LedgerDebit        LedgerEntryType = "debit"
	LedgerPurchase     LedgerEntryType = "purchase"
)

// CreditLedger is one append-only accounting row.
type CreditLedger struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	EntryType        LedgerEntryType `json:"entry_type"`
	DeltaCredits     int             `json:"delta_credits"`
	BalanceAfter     int             `json:"balance_after"`
	Reason           string          `json:"reason"`
	ReferenceType    string          `json:"reference_type,omitempty"`
	ReferenceID      string          `json:"reference_id,omitempty"`
	BillingProvider  string          `json:"billing_provider,omitempty"`
	BillingReference string          `json:"billing_reference,omitempty"`
	PeriodKey        string          `json:"period_key,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BlueprintSnapshot caches the competitor-derived blueprint for one user.
type BlueprintSnapshot struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	Payload             map[string]any `json:"payload"`
	CompetitorSignature string         `json:"competitor_signature"`
	Platform            Platform       `json:"platform"`
	GeneratedAt         time.Time      `json:"generated_at"`
	LastError           string         `json:"last_error,omitempty"`
}

// ReportShareLink is a signed, time-boxed public link to a report.
type ReportShareLink struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	AuditID        string     `json:"audit_id"`
	ShareToken     string     `json:"share_token"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Competitor is a tracked competitor channel, used by the Optimizer's
// competitor benchmark (§4.E step 5) and Blueprint Cache & Refresh's
// competitor-signature computation (§4.F). Not named in spec.md's §3 Data
// Model despite being referenced throughout §4.E/§4.F; grounded on
// original_source's apps/api/models/competitor.py.
type Competitor struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Platform          Platform  `json:"platform"`
	Handle            string    `json:"handle"`
	ExternalID        string    `json:"external_id"`
	DisplayName       string    `json:"display_name,omitempty"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	SubscriberCount   int64     `json:"subscriber_count,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
