// Package media implements the Media & Transcript Workers (spec §4.C): the
// MediaDownloadJob state machine (queued → downloading → processing →
// completed|failed) and the FeedTranscriptJob preference chain
// (whisper-audio → caption → title). Grounded on
// original_source/apps/api/services/media_download.py's pipeline shape
// (attempt-increment, progress stamps, atomic Upload+MediaAsset
// materialization, best-effort cleanup on every exit path) and
// internal/platformclient.Client's Available()/deterministic-fallback idiom,
// since no outbound network access exists in this environment either.
package media

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/idgen"
	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/queue"
	"pulsebench/internal/storage"
)

const (
	StreamMediaJobs = "media_jobs"
	GroupWorkers    = "media_workers"
)

// backoffs is spec §4.C's fixed retry backoff table (10s, 30s, 120s).
var backoffs = []time.Duration{10 * time.Second, 30 * time.Second, 120 * time.Second}

const (
	attemptTimeout = 30 * time.Minute
	staleAfter     = 120 * time.Minute
	maxAttempts    = 3
)

// Service runs the media download and transcript job pipelines.
type Service struct {
	store     storage.Repository
	queue     *queue.Queue
	llm       *llmclient.Client
	uploadDir string
	whisper   bool
	sleep     func(time.Duration)
}

func New(store storage.Repository, q *queue.Queue, llm *llmclient.Client, uploadDir string, whisperEnabled bool) *Service {
	return &Service{
		store: store, queue: q, llm: llm,
		uploadDir: uploadDir, whisper: whisperEnabled,
		sleep: time.Sleep,
	}
}

type downloadPayload struct {
	JobID string `json:"job_id"`
}

// EnqueueDownload creates a queued MediaDownloadJob and hands it to the
// durable queue. A queue-handoff failure marks the row failed immediately,
// per spec §4.C: "on queue-handoff failure the row is marked failed with
// error_code=queue_unavailable and the creator sees ServiceUnavailable."
func (s *Service) EnqueueDownload(ctx context.Context, userID string, platform models.Platform, sourceURL string) (models.MediaDownloadJob, error) {
	job, err := s.store.CreateMediaDownloadJob(models.MediaDownloadJob{
		UserID: userID, Platform: platform, SourceURL: sourceURL,
		Status: models.MediaJobQueued, MaxAttempts: maxAttempts,
	})
	if err != nil {
		return models.MediaDownloadJob{}, fmt.Errorf("media: create job: %w", err)
	}

	if s.queue == nil {
		return s.failQueueUnavailable(job)
	}
	qID, err := s.queue.Publish(ctx, StreamMediaJobs, downloadPayload{JobID: job.ID})
	if err != nil {
		return s.failQueueUnavailable(job)
	}
	job, err = s.store.UpdateMediaDownloadJob(job.ID, func(j *models.MediaDownloadJob) { j.QueueJobID = qID })
	if err != nil {
		return models.MediaDownloadJob{}, fmt.Errorf("media: stamp queue id: %w", err)
	}
	return job, nil
}

func (s *Service) failQueueUnavailable(job models.MediaDownloadJob) (models.MediaDownloadJob, error) {
	now := time.Now().UTC()
	job, _ = s.store.UpdateMediaDownloadJob(job.ID, func(j *models.MediaDownloadJob) {
		j.Status = models.MediaJobFailed
		j.ErrorCode = "queue_unavailable"
		j.ErrorMessage = "durable queue is unreachable"
		j.Progress = 100
		j.CompletedAt = &now
	})
	return job, apierrors.ServiceUnavailable("could not enqueue media download")
}

// HandleMessage adapts a queue.Message into a ProcessDownload call, matching
// queue.Handler's signature so it can be registered directly on a
// bg.Supervisor loop via queue.Run.
func (s *Service) HandleMessage(ctx context.Context, msg queue.Message) error {
	var payload downloadPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil // malformed payload: ack and drop, nothing to retry
	}
	s.ProcessDownload(ctx, payload.JobID)
	return nil
}

// ProcessDownload runs spec §4.C's worker steps 1-5 for one job, retrying up
// to maxAttempts times with the fixed backoff table. Workers never raise to
// the queue (spec §8 propagation policy): every failure path is written to
// the job row and this method returns normally.
func (s *Service) ProcessDownload(ctx context.Context, jobID string) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, ok := s.store.GetMediaDownloadJob(jobID)
		if !ok {
			return
		}
		if job.Status == models.MediaJobCompleted || job.Status == models.MediaJobFailed {
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := s.runOneAttempt(attemptCtx, jobID)
		cancel()
		if err == nil {
			return
		}
		if attempt < maxAttempts-1 {
			s.sleep(backoffs[attempt])
			continue
		}
		now := time.Now().UTC()
		s.store.UpdateMediaDownloadJob(jobID, func(j *models.MediaDownloadJob) {
			j.Status = models.MediaJobFailed
			j.ErrorCode = "download_failed"
			j.ErrorMessage = err.Error()
			j.Progress = 100
			j.CompletedAt = &now
		})
	}
}

func (s *Service) runOneAttempt(ctx context.Context, jobID string) error {
	job, err := s.store.UpdateMediaDownloadJob(jobID, func(j *models.MediaDownloadJob) {
		j.Attempts++
		j.Status = models.MediaJobDownloading
		j.Progress = 20
	})
	if err != nil {
		return fmt.Errorf("transition downloading: %w", err)
	}

	tempDir := filepath.Join(s.uploadDir, "_media_tmp", job.UserID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("prepare temp dir: %w", err)
	}
	tempPath := filepath.Join(tempDir, jobID+".mp4")
	defer os.Remove(tempPath)

	if err := downloadVideo(job.SourceURL, tempPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if _, err := os.Stat(tempPath); err != nil {
		return fmt.Errorf("downloaded media file missing after downloader completed")
	}

	if _, err = s.store.UpdateMediaDownloadJob(jobID, func(j *models.MediaDownloadJob) {
		j.Status = models.MediaJobProcessing
		j.Progress = 65
	}); err != nil {
		return fmt.Errorf("transition processing: %w", err)
	}

	durationS := probeVideoDuration(job.SourceURL)
	info, err := os.Stat(tempPath)
	var sizeBytes int64
	if err == nil {
		sizeBytes = info.Size()
	}

	finalDir := filepath.Join(s.uploadDir, job.UserID)
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return fmt.Errorf("prepare final dir: %w", err)
	}
	finalName := storage.SafeFilename(jobID + filepath.Ext(tempPath))
	finalPath := filepath.Join(finalDir, finalName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("move to final path: %w", err)
	}

	mime := guessMime(finalPath)
	upload, err := s.store.CreateUpload(models.Upload{
		ID: idgen.New(), UserID: job.UserID, FileURL: finalPath,
		FileType: "video", Size: sizeBytes, Mime: mime,
	})
	if err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("create upload: %w", err)
	}
	asset, err := s.store.CreateMediaAsset(models.MediaAsset{
		ID: idgen.New(), UserID: job.UserID, Platform: job.Platform, SourceURL: job.SourceURL,
		FilePath: finalPath, FileName: finalName, Size: sizeBytes, Mime: mime,
		DurationS: durationS, TranscriptStatus: "pending", UploadID: upload.ID,
	})
	if err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("create media asset: %w", err)
	}

	now := time.Now().UTC()
	if _, err = s.store.UpdateMediaDownloadJob(jobID, func(j *models.MediaDownloadJob) {
		j.Status = models.MediaJobCompleted
		j.Progress = 100
		j.MediaAssetID = asset.ID
		j.UploadID = upload.ID
		j.ErrorCode = ""
		j.ErrorMessage = ""
		j.CompletedAt = &now
	}); err != nil {
		return fmt.Errorf("transition completed: %w", err)
	}
	return nil
}

// RecoverStale marks jobs stuck in a non-terminal state for longer than
// staleAfter as failed (spec §4.C crash recovery).
func (s *Service) RecoverStale(now time.Time) int {
	cutoff := now.Add(-staleAfter)
	stale := s.store.ListStaleMediaDownloadJobs(cutoff)
	for _, j := range stale {
		s.store.UpdateMediaDownloadJob(j.ID, func(job *models.MediaDownloadJob) {
			job.Status = models.MediaJobFailed
			job.ErrorCode = "stalled"
			job.ErrorMessage = "interrupted by a process restart"
			job.Progress = 100
			job.CompletedAt = &now
		})
	}
	return len(stale)
}

// --- deterministic "downloader" ----------------------------------------

// downloadVideo stands in for the original's yt-dlp-backed download_video:
// no outbound network access exists in this environment, so it
// deterministically materializes a small placeholder file at dest, seeded
// off sourceURL so repeated downloads of the same URL produce byte-identical
// output (spec §9: fallbacks must never be random).
func downloadVideo(sourceURL, dest string) error {
	seed := deterministicSeed(sourceURL)
	body := fmt.Sprintf("synthetic-media-placeholder:%s:%d", sourceURL, seed)
	return os.WriteFile(dest, []byte(body), 0o644)
}

func probeVideoDuration(sourceURL string) int {
	seed := deterministicSeed(sourceURL)
	return int(15 + seed%300)
}

func deterministicSeed(seed string) uint32 {
	sum := sha1.Sum([]byte(seed))
	return binary.BigEndian.Uint32(sum[:4])
}

var mimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
}

func guessMime(path string) string {
	if m, ok := mimeByExt[filepath.Ext(path)]; ok {
		return m
	}
	return "video/mp4"
}

// --- transcript jobs -----------------------------------------------------

const transcriptTextJobLimit = 20000
const transcriptTextMediaMetaLimit = 12000

// EnqueueTranscript creates a running FeedTranscriptJob and runs it
// synchronously; transcript extraction has no durable-queue handoff in
// spec §4.C (only media download does), so the caller's goroutine performs
// the work directly.
func (s *Service) EnqueueTranscript(ctx context.Context, userID, researchItemID string) (models.FeedTranscriptJob, error) {
	job, err := s.store.CreateTranscriptJob(models.FeedTranscriptJob{
		UserID: userID, ResearchItemID: researchItemID, Status: models.RunStatusRunning,
	})
	if err != nil {
		return models.FeedTranscriptJob{}, fmt.Errorf("media: create transcript job: %w", err)
	}
	return s.processTranscript(ctx, job)
}

func (s *Service) processTranscript(ctx context.Context, job models.FeedTranscriptJob) (models.FeedTranscriptJob, error) {
	item, ok := s.store.GetResearchItem(job.ResearchItemID)
	if !ok {
		return s.failTranscript(job.ID, "item_not_found", "research item not found")
	}

	var (
		text   string
		source models.TranscriptSource
	)

	if s.whisper {
		if assetID, ok := item.MediaMeta["feed_media_asset_id"].(string); ok && assetID != "" {
			if asset, ok := s.store.GetMediaAsset(assetID); ok {
				tr, err := s.llm.Transcribe(ctx, asset.FilePath, asset.DurationS)
				if err == nil && tr.Text != "" {
					text = tr.Text
					source = models.TranscriptWhisperAudio
				}
			}
		}
	}
	if text == "" && item.Caption != "" {
		text = item.Caption
		source = models.TranscriptCaptionFallback
	}
	if text == "" && item.Title != "" {
		text = item.Title
		source = models.TranscriptTitleFallback
	}
	if text == "" {
		return s.failTranscript(job.ID, "no_source", "no audio, caption, or title available to transcribe")
	}
	if len(text) > transcriptTextJobLimit {
		text = text[:transcriptTextJobLimit]
	}

	now := time.Now().UTC()
	updated, err := s.store.UpdateTranscriptJob(job.ID, func(j *models.FeedTranscriptJob) {
		j.Status = models.RunStatusCompleted
		j.Progress = 100
		j.TranscriptSource = source
		j.TranscriptText = text
		j.CompletedAt = &now
	})
	if err != nil {
		return models.FeedTranscriptJob{}, fmt.Errorf("media: persist transcript: %w", err)
	}

	metaText := text
	if len(metaText) > transcriptTextMediaMetaLimit {
		metaText = metaText[:transcriptTextMediaMetaLimit]
	}
	s.store.UpdateResearchItem(item.ID, func(it *models.ResearchItem) {
		if it.MediaMeta == nil {
			it.MediaMeta = map[string]any{}
		}
		it.MediaMeta["transcript_source"] = string(source)
		it.MediaMeta["transcript_text"] = metaText
		it.MediaMeta["transcript_updated_at"] = now.Format(time.RFC3339)
	})
	return updated, nil
}

func (s *Service) failTranscript(jobID, code, message string) (models.FeedTranscriptJob, error) {
	now := time.Now().UTC()
	job, _ := s.store.UpdateTranscriptJob(jobID, func(j *models.FeedTranscriptJob) {
		j.Status = models.RunStatusFailed
		j.Progress = 100
		j.ErrorCode = code
		j.ErrorMessage = message
		j.CompletedAt = &now
	})
	return job, apierrors.Conflict(message)
}

// RecoverStaleTranscripts mirrors RecoverStale for FeedTranscriptJobs.
func (s *Service) RecoverStaleTranscripts(now time.Time) int {
	cutoff := now.Add(-staleAfter)
	stale := s.store.ListStaleTranscriptJobs(cutoff)
	for _, j := range stale {
		s.store.UpdateTranscriptJob(j.ID, func(job *models.FeedTranscriptJob) {
			job.Status = models.RunStatusFailed
			job.ErrorCode = "stalled"
			job.ErrorMessage = "interrupted by a process restart"
			job.Progress = 100
			job.CompletedAt = &now
		})
	}
	return len(stale)
}
