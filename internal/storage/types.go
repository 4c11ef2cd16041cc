package storage

import (
	"errors"
	"sync"
	"time"

	"pulsebench/internal/models"
)

// ErrNotFound is returned by single-entity lookups when the row does not
// exist or does not belong to the caller.
var ErrNotFound = errors.New("entity not found")

// dataset is the full in-memory snapshot persisted to disk after every
// mutation. Every entity of the domain gets one map keyed by id.
type dataset struct {
	Users                map[string]models.User                `json:"users"`
	Collections          map[string]models.ResearchCollection  `json:"collections"`
	ResearchItems        map[string]models.ResearchItem        `json:"research_items"`
	Follows              map[string]models.FeedSourceFollow    `json:"follows"`
	AutoIngestRuns       map[string]models.FeedAutoIngestRun   `json:"auto_ingest_runs"`
	RepostPackages       map[string]models.FeedRepostPackage   `json:"repost_packages"`
	TelemetryEvents      map[string]models.FeedTelemetryEvent  `json:"telemetry_events"`
	MediaDownloadJobs    map[string]models.MediaDownloadJob    `json:"media_download_jobs"`
	MediaAssets          map[string]models.MediaAsset          `json:"media_assets"`
	Uploads              map[string]models.Upload              `json:"uploads"`
	TranscriptJobs       map[string]models.FeedTranscriptJob   `json:"transcript_jobs"`
	Audits               map[string]models.Audit               `json:"audits"`
	VariantBatches       map[string]models.VariantBatch        `json:"variant_batches"`
	DraftSnapshots       map[string]models.DraftSnapshot       `json:"draft_snapshots"`
	OutcomeMetrics       map[string]models.OutcomeMetric        `json:"outcome_metrics"`
	CalibrationSnapshots map[string]models.CalibrationSnapshot `json:"calibration_snapshots"`
	LedgerEntries        map[string]models.CreditLedger        `json:"ledger_entries"`
	Blueprints           map[string]models.BlueprintSnapshot   `json:"blueprints"`
	ShareLinks           map[string]models.ReportShareLink     `json:"share_links"`
	Competitors          map[string]models.Competitor          `json:"competitors"`
}

func newDataset() dataset {
	return dataset{
		Users:                make(map[string]models.User),
		Collections:          make(map[string]models.ResearchCollection),
		ResearchItems:        make(map[string]models.ResearchItem),
		Follows:              make(map[string]models.FeedSourceFollow),
		AutoIngestRuns:       make(map[string]models.FeedAutoIngestRun),
		RepostPackages:       make(map[string]models.FeedRepostPackage),
		TelemetryEvents:      make(map[string]models.FeedTelemetryEvent),
		MediaDownloadJobs:    make(map[string]models.MediaDownloadJob),
		MediaAssets:          make(map[string]models.MediaAsset),
		Uploads:              make(map[string]models.Upload),
		TranscriptJobs:       make(map[string]models.FeedTranscriptJob),
		Audits:               make(map[string]models.Audit),
		VariantBatches:       make(map[string]models.VariantBatch),
		DraftSnapshots:       make(map[string]models.DraftSnapshot),
		OutcomeMetrics:       make(map[string]models.OutcomeMetric),
		CalibrationSnapshots: make(map[string]models.CalibrationSnapshot),
		LedgerEntries:        make(map[string]models.CreditLedger),
		Blueprints:           make(map[string]models.BlueprintSnapshot),
		ShareLinks:           make(map[string]models.ReportShareLink),
		Competitors:          make(map[string]models.Competitor),
	}
}

// Storage is the mutex-guarded, JSON-file-backed implementation of Repository.
// Every mutation takes the lock, mutates the in-memory dataset, and persists
// the whole dataset before releasing; a persist failure rolls the mutation
// back so the in-memory and on-disk views never diverge.
type Storage struct {
	mu              sync.RWMutex
	filePath        string
	data            dataset
	persistOverride func(dataset) error
	now             func() time.Time
}
