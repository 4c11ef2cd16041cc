// Package storage is the persistence layer: a mutex-guarded, JSON-file-backed
// Repository implementation. There are no SQL schema migrations in scope; the
// Postgres-backed path (postgres_repository.go) is a deliberate stub, mirrored
// from the same pattern, reserved for an operator that wires a real DATABASE_URL.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pulsebench/internal/idgen"
	"pulsebench/internal/models"
)

// NewStorage opens (or creates) the JSON-backed store at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		s.data = newDataset()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	return nil
}

// persist writes the full dataset atomically via a temp-file rename, exactly
// as the source repository's JSON store does, so a crash mid-write can never
// leave a partially-written file behind.
func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the store is reachable; the in-memory store is always
// reachable once constructed.
func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

// --- Users ---------------------------------------------------------------

func (s *Storage) EnsureUser(id, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data.Users[id]; ok {
		if email != "" && existing.Email != email {
			existing.Email = email
			s.data.Users[id] = existing
			if err := s.persist(); err != nil {
				return models.User{}, err
			}
		}
		return s.data.Users[id], nil
	}

	user := models.User{ID: id, Email: email}
	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.Users[id]
	return u, ok
}

// --- Collections -----------------------------------------------------------

func (s *Storage) EnsureDefaultCollection(userID string, platform models.Platform) (models.ResearchCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.data.Collections {
		if c.UserID == userID && c.Platform == platform && c.IsSystem {
			return c, nil
		}
	}

	id := idgen.New()
	coll := models.ResearchCollection{
		ID:       id,
		UserID:   userID,
		Name:     "Default Collection",
		Platform: platform,
		IsSystem: true,
	}
	s.data.Collections[id] = coll
	if err := s.persist(); err != nil {
		delete(s.data.Collections, id)
		return models.ResearchCollection{}, err
	}
	return coll, nil
}

func (s *Storage) CreateCollection(userID, name string, platform models.Platform, isSystem bool) (models.ResearchCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := idgen.New()
	coll := models.ResearchCollection{ID: id, UserID: userID, Name: name, Platform: platform, IsSystem: isSystem}
	s.data.Collections[id] = coll
	if err := s.persist(); err != nil {
		delete(s.data.Collections, id)
		return models.ResearchCollection{}, err
	}
	return coll, nil
}

func (s *Storage) GetCollection(id string) (models.ResearchCollection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.Collections[id]
	return c, ok
}

func (s *Storage) ListCollections(userID string) []models.ResearchCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ResearchCollection, 0)
	for _, c := range s.data.Collections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Research items ----------------------------------------------------

func (s *Storage) CreateResearchItem(item models.ResearchItem) (models.ResearchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = idgen.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.MediaMeta == nil {
		item.MediaMeta = map[string]any{}
	}
	s.data.ResearchItems[item.ID] = item
	if err := s.persist(); err != nil {
		delete(s.data.ResearchItems, item.ID)
		return models.ResearchItem{}, err
	}
	return item, nil
}

func (s *Storage) GetResearchItem(id string) (models.ResearchItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.data.ResearchItems[id]
	return item, ok
}

// UpdateResearchItem applies mutate to the stored item under the write lock
// and persists the result, rolling back the in-memory copy on persist failure.
func (s *Storage) UpdateResearchItem(id string, mutate func(*models.ResearchItem)) (models.ResearchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.ResearchItems[id]
	if !ok {
		return models.ResearchItem{}, ErrNotFound
	}
	previous := item
	if item.MediaMeta == nil {
		item.MediaMeta = map[string]any{}
	}
	mutate(&item)
	s.data.ResearchItems[id] = item
	if err := s.persist(); err != nil {
		s.data.ResearchItems[id] = previous
		return models.ResearchItem{}, err
	}
	return item, nil
}

func (s *Storage) ListResearchItems(userID string) []models.ResearchItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ResearchItem, 0)
	for _, item := range s.data.ResearchItems {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Storage) ReassignCollection(itemID, userID, collectionID string) (models.ResearchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.ResearchItems[itemID]
	if !ok || item.UserID != userID {
		return models.ResearchItem{}, ErrNotFound
	}
	previous := item
	item.CollectionID = collectionID
	s.data.ResearchItems[itemID] = item
	if err := s.persist(); err != nil {
		s.data.ResearchItems[itemID] = previous
		return models.ResearchItem{}, err
	}
	return item, nil
}

// --- Feed source follows ------------------------------------------------

func (s *Storage) UpsertFollow(follow models.FeedSourceFollow) (models.FeedSourceFollow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.data.Follows {
		if existing.UserID == follow.UserID && existing.Platform == follow.Platform &&
			existing.Mode == follow.Mode && existing.Query == follow.Query {
			follow.ID = id
			s.data.Follows[id] = follow
			if err := s.persist(); err != nil {
				s.data.Follows[id] = existing
				return models.FeedSourceFollow{}, false, err
			}
			return follow, false, nil
		}
	}

	if follow.ID == "" {
		follow.ID = idgen.New()
	}
	s.data.Follows[follow.ID] = follow
	if err := s.persist(); err != nil {
		delete(s.data.Follows, follow.ID)
		return models.FeedSourceFollow{}, false, err
	}
	return follow, true, nil
}

func (s *Storage) GetFollow(id string) (models.FeedSourceFollow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.data.Follows[id]
	return f, ok
}

func (s *Storage) ListFollows(userID string) []models.FeedSourceFollow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedSourceFollow, 0)
	for _, f := range s.data.Follows {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Storage) DeleteFollow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.Follows[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.data.Follows, id)
	if err := s.persist(); err != nil {
		s.data.Follows[id] = existing
		return err
	}
	return nil
}

func (s *Storage) UpdateFollow(id string, mutate func(*models.FeedSourceFollow)) (models.FeedSourceFollow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.data.Follows[id]
	if !ok {
		return models.FeedSourceFollow{}, ErrNotFound
	}
	previous := f
	mutate(&f)
	s.data.Follows[id] = f
	if err := s.persist(); err != nil {
		s.data.Follows[id] = previous
		return models.FeedSourceFollow{}, err
	}
	return f, nil
}

func (s *Storage) DueFollows(now time.Time) []models.FeedSourceFollow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedSourceFollow, 0)
	for _, f := range s.data.Follows {
		if f.IsActive && f.NextRunAt != nil && !f.NextRunAt.After(now) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Auto-ingest runs ----------------------------------------------------

func (s *Storage) CreateAutoIngestRun(run models.FeedAutoIngestRun) (models.FeedAutoIngestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = idgen.New()
	}
	s.data.AutoIngestRuns[run.ID] = run
	if err := s.persist(); err != nil {
		delete(s.data.AutoIngestRuns, run.ID)
		return models.FeedAutoIngestRun{}, err
	}
	return run, nil
}

func (s *Storage) UpdateAutoIngestRun(id string, mutate func(*models.FeedAutoIngestRun)) (models.FeedAutoIngestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.data.AutoIngestRuns[id]
	if !ok {
		return models.FeedAutoIngestRun{}, ErrNotFound
	}
	previous := run
	mutate(&run)
	s.data.AutoIngestRuns[id] = run
	if err := s.persist(); err != nil {
		s.data.AutoIngestRuns[id] = previous
		return models.FeedAutoIngestRun{}, err
	}
	return run, nil
}

func (s *Storage) ListAutoIngestRuns(userID string) []models.FeedAutoIngestRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedAutoIngestRun, 0)
	for _, r := range s.data.AutoIngestRuns {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// --- Repost packages ------------------------------------------------------

func (s *Storage) CreateRepostPackage(pkg models.FeedRepostPackage) (models.FeedRepostPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg.ID == "" {
		pkg.ID = idgen.New()
	}
	s.data.RepostPackages[pkg.ID] = pkg
	if err := s.persist(); err != nil {
		delete(s.data.RepostPackages, pkg.ID)
		return models.FeedRepostPackage{}, err
	}
	return pkg, nil
}

func (s *Storage) GetRepostPackage(id string) (models.FeedRepostPackage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.RepostPackages[id]
	return p, ok
}

func (s *Storage) ListRepostPackages(userID string) []models.FeedRepostPackage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedRepostPackage, 0)
	for _, p := range s.data.RepostPackages {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) UpdateRepostPackageStatus(id, userID string, status models.RepostStatus) (models.FeedRepostPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.RepostPackages[id]
	if !ok || p.UserID != userID {
		return models.FeedRepostPackage{}, ErrNotFound
	}
	previous := p
	p.Status = status
	p.UpdatedAt = s.now()
	s.data.RepostPackages[id] = p
	if err := s.persist(); err != nil {
		s.data.RepostPackages[id] = previous
		return models.FeedRepostPackage{}, err
	}
	return p, nil
}

// --- Telemetry -------------------------------------------------------------

func (s *Storage) AppendTelemetryEvent(evt models.FeedTelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.ID == "" {
		evt.ID = idgen.New()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.now()
	}
	s.data.TelemetryEvents[evt.ID] = evt
	if err := s.persist(); err != nil {
		delete(s.data.TelemetryEvents, evt.ID)
		return err
	}
	return nil
}

func (s *Storage) ListTelemetryEvents(userID string, since time.Time) []models.FeedTelemetryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedTelemetryEvent, 0)
	for _, e := range s.data.TelemetryEvents {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- Media download jobs ---------------------------------------------------

func (s *Storage) CreateMediaDownloadJob(job models.MediaDownloadJob) (models.MediaDownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = idgen.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	s.data.MediaDownloadJobs[job.ID] = job
	if err := s.persist(); err != nil {
		delete(s.data.MediaDownloadJobs, job.ID)
		return models.MediaDownloadJob{}, err
	}
	return job, nil
}

func (s *Storage) GetMediaDownloadJob(id string) (models.MediaDownloadJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.data.MediaDownloadJobs[id]
	return j, ok
}

func (s *Storage) UpdateMediaDownloadJob(id string, mutate func(*models.MediaDownloadJob)) (models.MediaDownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data.MediaDownloadJobs[id]
	if !ok {
		return models.MediaDownloadJob{}, ErrNotFound
	}
	previous := j
	mutate(&j)
	s.data.MediaDownloadJobs[id] = j
	if err := s.persist(); err != nil {
		s.data.MediaDownloadJobs[id] = previous
		return models.MediaDownloadJob{}, err
	}
	return j, nil
}

func (s *Storage) LatestMediaDownloadJobForSourceURL(userID, sourceURL string) (models.MediaDownloadJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest models.MediaDownloadJob
	found := false
	for _, j := range s.data.MediaDownloadJobs {
		if j.UserID != userID || j.SourceURL != sourceURL {
			continue
		}
		if !found || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
			found = true
		}
	}
	return latest, found
}

func (s *Storage) ListStaleMediaDownloadJobs(cutoff time.Time) []models.MediaDownloadJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MediaDownloadJob, 0)
	for _, j := range s.data.MediaDownloadJobs {
		switch j.Status {
		case models.MediaJobQueued, models.MediaJobDownloading, models.MediaJobProcessing:
			if j.CreatedAt.Before(cutoff) {
				out = append(out, j)
			}
		}
	}
	return out
}

func (s *Storage) ListMediaDownloadJobs(userID string) []models.MediaDownloadJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MediaDownloadJob, 0)
	for _, j := range s.data.MediaDownloadJobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// --- Media assets / uploads -------------------------------------------------

func (s *Storage) CreateMediaAsset(asset models.MediaAsset) (models.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.ID == "" {
		asset.ID = idgen.New()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = s.now()
	}
	s.data.MediaAssets[asset.ID] = asset
	if err := s.persist(); err != nil {
		delete(s.data.MediaAssets, asset.ID)
		return models.MediaAsset{}, err
	}
	return asset, nil
}

func (s *Storage) GetMediaAsset(id string) (models.MediaAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.MediaAssets[id]
	return a, ok
}

func (s *Storage) CreateUpload(upload models.Upload) (models.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upload.ID == "" {
		upload.ID = idgen.New()
	}
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = s.now()
	}
	s.data.Uploads[upload.ID] = upload
	if err := s.persist(); err != nil {
		delete(s.data.Uploads, upload.ID)
		return models.Upload{}, err
	}
	return upload, nil
}

func (s *Storage) GetUpload(id string) (models.Upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.Uploads[id]
	return u, ok
}

// --- Transcript jobs ---------------------------------------------------

func (s *Storage) CreateTranscriptJob(job models.FeedTranscriptJob) (models.FeedTranscriptJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = idgen.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	s.data.TranscriptJobs[job.ID] = job
	if err := s.persist(); err != nil {
		delete(s.data.TranscriptJobs, job.ID)
		return models.FeedTranscriptJob{}, err
	}
	return job, nil
}

func (s *Storage) GetTranscriptJob(id string) (models.FeedTranscriptJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.data.TranscriptJobs[id]
	return j, ok
}

func (s *Storage) UpdateTranscriptJob(id string, mutate func(*models.FeedTranscriptJob)) (models.FeedTranscriptJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.data.TranscriptJobs[id]
	if !ok {
		return models.FeedTranscriptJob{}, ErrNotFound
	}
	previous := j
	mutate(&j)
	s.data.TranscriptJobs[id] = j
	if err := s.persist(); err != nil {
		s.data.TranscriptJobs[id] = previous
		return models.FeedTranscriptJob{}, err
	}
	return j, nil
}

func (s *Storage) ListStaleTranscriptJobs(cutoff time.Time) []models.FeedTranscriptJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedTranscriptJob, 0)
	for _, j := range s.data.TranscriptJobs {
		if j.Status == models.RunStatusRunning && j.CreatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}

// --- Audits -----------------------------------------------------------

func (s *Storage) CreateAudit(audit models.Audit) (models.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if audit.ID == "" {
		audit.ID = idgen.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = s.now()
	}
	s.data.Audits[audit.ID] = audit
	if err := s.persist(); err != nil {
		delete(s.data.Audits, audit.ID)
		return models.Audit{}, err
	}
	return audit, nil
}

func (s *Storage) GetAudit(id string) (models.Audit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.Audits[id]
	return a, ok
}

func (s *Storage) UpdateAudit(id string, mutate func(*models.Audit)) (models.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Audits[id]
	if !ok {
		return models.Audit{}, ErrNotFound
	}
	previous := a
	mutate(&a)
	s.data.Audits[id] = a
	if err := s.persist(); err != nil {
		s.data.Audits[id] = previous
		return models.Audit{}, err
	}
	return a, nil
}

func (s *Storage) ListAudits(userID string) []models.Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Audit, 0)
	for _, a := range s.data.Audits {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) LatestCompletedAudit(userID string) (models.Audit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest models.Audit
	found := false
	for _, a := range s.data.Audits {
		if a.UserID != userID || a.Status != models.AuditCompleted {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	return latest, found
}

func (s *Storage) ListStaleAudits(cutoff time.Time) []models.Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Audit, 0)
	for _, a := range s.data.Audits {
		switch a.Status {
		case models.AuditPending, models.AuditDownloading, models.AuditProcessingVideo, models.AuditProcessingAudio, models.AuditAnalyzing:
			if a.CreatedAt.Before(cutoff) {
				out = append(out, a)
			}
		}
	}
	return out
}

// --- Variant batches / draft snapshots ---------------------------------

func (s *Storage) CreateVariantBatch(batch models.VariantBatch) (models.VariantBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.ID == "" {
		batch.ID = idgen.New()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = s.now()
	}
	s.data.VariantBatches[batch.ID] = batch
	if err := s.persist(); err != nil {
		delete(s.data.VariantBatches, batch.ID)
		return models.VariantBatch{}, err
	}
	return batch, nil
}

func (s *Storage) GetVariantBatch(id string) (models.VariantBatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data.VariantBatches[id]
	return b, ok
}

func (s *Storage) ListVariantBatches(userID string) []models.VariantBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.VariantBatch, 0)
	for _, b := range s.data.VariantBatches {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) CreateDraftSnapshot(snap models.DraftSnapshot) (models.DraftSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == "" {
		snap.ID = idgen.New()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	s.data.DraftSnapshots[snap.ID] = snap
	if err := s.persist(); err != nil {
		delete(s.data.DraftSnapshots, snap.ID)
		return models.DraftSnapshot{}, err
	}
	return snap, nil
}

func (s *Storage) GetDraftSnapshot(id string) (models.DraftSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data.DraftSnapshots[id]
	return d, ok
}

func (s *Storage) ListDraftSnapshots(userID string) []models.DraftSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DraftSnapshot, 0)
	for _, d := range s.data.DraftSnapshots {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) LatestDraftSnapshot(userID string) (models.DraftSnapshot, bool) {
	list := s.ListDraftSnapshots(userID)
	if len(list) == 0 {
		return models.DraftSnapshot{}, false
	}
	return list[0], true
}

// --- Outcomes / calibration ---------------------------------------------

func (s *Storage) CreateOutcomeMetric(metric models.OutcomeMetric) (models.OutcomeMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if metric.ID == "" {
		metric.ID = idgen.New()
	}
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = s.now()
	}
	s.data.OutcomeMetrics[metric.ID] = metric
	if err := s.persist(); err != nil {
		delete(s.data.OutcomeMetrics, metric.ID)
		return models.OutcomeMetric{}, err
	}
	return metric, nil
}

func (s *Storage) ListOutcomeMetrics(userID string, platform models.Platform, limit int) []models.OutcomeMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OutcomeMetric, 0)
	for _, m := range s.data.OutcomeMetrics {
		if m.UserID == userID && m.Platform == platform {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Storage) LatestOutcomeForPlatform(userID string, platform models.Platform) (models.OutcomeMetric, bool) {
	list := s.ListOutcomeMetrics(userID, platform, 1)
	if len(list) == 0 {
		return models.OutcomeMetric{}, false
	}
	return list[0], true
}

func (s *Storage) OutcomeByReportID(reportID string) (models.OutcomeMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.data.OutcomeMetrics {
		if m.ReportID == reportID {
			return m, true
		}
	}
	return models.OutcomeMetric{}, false
}

func (s *Storage) DistinctUserPlatformPairs() []UserPlatformPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[UserPlatformPair]bool{}
	out := make([]UserPlatformPair, 0)
	for _, m := range s.data.OutcomeMetrics {
		pair := UserPlatformPair{UserID: m.UserID, Platform: m.Platform}
		if !seen[pair] {
			seen[pair] = true
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Platform < out[j].Platform
	})
	return out
}

func (s *Storage) UpsertCalibrationSnapshot(snap models.CalibrationSnapshot) (models.CalibrationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.data.CalibrationSnapshots {
		if existing.UserID == snap.UserID && existing.Platform == snap.Platform {
			snap.ID = id
			previous := existing
			s.data.CalibrationSnapshots[id] = snap
			if err := s.persist(); err != nil {
				s.data.CalibrationSnapshots[id] = previous
				return models.CalibrationSnapshot{}, err
			}
			return snap, nil
		}
	}

	if snap.ID == "" {
		snap.ID = idgen.New()
	}
	s.data.CalibrationSnapshots[snap.ID] = snap
	if err := s.persist(); err != nil {
		delete(s.data.CalibrationSnapshots, snap.ID)
		return models.CalibrationSnapshot{}, err
	}
	return snap, nil
}

func (s *Storage) GetCalibrationSnapshot(userID string, platform models.Platform) (models.CalibrationSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.data.CalibrationSnapshots {
		if snap.UserID == userID && snap.Platform == platform {
			return snap, true
		}
	}
	return models.CalibrationSnapshot{}, false
}

// --- Blueprint ----------------------------------------------------------

func (s *Storage) GetBlueprintSnapshot(userID string) (models.BlueprintSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.data.Blueprints {
		if b.UserID == userID {
			return b, true
		}
	}
	return models.BlueprintSnapshot{}, false
}

func (s *Storage) UpsertBlueprintSnapshot(snap models.BlueprintSnapshot) (models.BlueprintSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.data.Blueprints {
		if existing.UserID == snap.UserID {
			snap.ID = id
			previous := existing
			s.data.Blueprints[id] = snap
			if err := s.persist(); err != nil {
				s.data.Blueprints[id] = previous
				return models.BlueprintSnapshot{}, err
			}
			return snap, nil
		}
	}

	if snap.ID == "" {
		snap.ID = idgen.New()
	}
	s.data.Blueprints[snap.ID] = snap
	if err := s.persist(); err != nil {
		delete(s.data.Blueprints, snap.ID)
		return models.BlueprintSnapshot{}, err
	}
	return snap, nil
}

// --- Share links ----------------------------------------------------------

func (s *Storage) CreateShareLink(link models.ReportShareLink) (models.ReportShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == "" {
		link.ID = idgen.New()
	}
	s.data.ShareLinks[link.ID] = link
	if err := s.persist(); err != nil {
		delete(s.data.ShareLinks, link.ID)
		return models.ReportShareLink{}, err
	}
	return link, nil
}

func (s *Storage) GetShareLinkByToken(token string) (models.ReportShareLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.data.ShareLinks {
		if l.ShareToken == token {
			return l, true
		}
	}
	return models.ReportShareLink{}, false
}

func (s *Storage) TouchShareLink(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.data.ShareLinks[id]
	if !ok {
		return ErrNotFound
	}
	previous := link
	link.LastAccessedAt = &at
	s.data.ShareLinks[id] = link
	if err := s.persist(); err != nil {
		s.data.ShareLinks[id] = previous
		return err
	}
	return nil
}

// --- Credit ledger -------------------------------------------------------

func (s *Storage) AppendLedgerEntry(entry models.CreditLedger) (models.CreditLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = idgen.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.data.LedgerEntries[entry.ID] = entry
	if err := s.persist(); err != nil {
		delete(s.data.LedgerEntries, entry.ID)
		return models.CreditLedger{}, err
	}
	return entry, nil
}

func (s *Storage) ListLedgerEntries(userID string) []models.CreditLedger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CreditLedger, 0)
	for _, e := range s.data.LedgerEntries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Storage) HasLedgerEntryForPeriod(userID, periodKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.data.LedgerEntries {
		if e.UserID == userID && e.EntryType == models.LedgerMonthlyGrant && e.PeriodKey == periodKey {
			return true
		}
	}
	return false
}

func (s *Storage) LatestBalance(userID string) int {
	entries := s.ListLedgerEntries(userID)
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].BalanceAfter
}

// safeFilename replaces any character outside [a-zA-Z0-9._-] with an
// underscore, matching the constraint media downloads write files under.
func safeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// SafeFilename is the exported form used by the media worker when placing a
// downloaded file under the user's upload directory.
func SafeFilename(name string) string { return safeFilename(name) }

// --- Competitors -------------------------------------------------------

func (s *Storage) CreateCompetitor(c models.Competitor) (models.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = idgen.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.data.Competitors[c.ID] = c
	if err := s.persist(); err != nil {
		delete(s.data.Competitors, c.ID)
		return models.Competitor{}, err
	}
	return c, nil
}

func (s *Storage) GetCompetitor(id string) (models.Competitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.Competitors[id]
	return c, ok
}

func (s *Storage) ListCompetitors(userID string, platform models.Platform) []models.Competitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Competitor, 0)
	for _, c := range s.data.Competitors {
		if c.UserID != userID {
			continue
		}
		if platform != "" && c.Platform != platform {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) DeleteCompetitor(id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.Competitors[id]
	if !ok || existing.UserID != userID {
		return ErrNotFound
	}
	delete(s.data.Competitors, id)
	if err := s.persist(); err != nil {
		s.data.Competitors[id] = existing
		return err
	}
	return nil
}
