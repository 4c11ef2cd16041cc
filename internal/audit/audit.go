// Package audit implements the Audit Job Runner (spec §4.D): the
// pending → downloading → processing_video → processing_audio → analyzing →
// completed|failed state machine, frame extraction, transcription, the
// multimodal analysis call, and the Optimizer-backed performance
// prediction. Grounded on original_source/apps/api/services/audit.py's
// pipeline shape (scratch directory per audit id, sequential status stamps
// before each step, cleanup in a deferred/finally-equivalent path).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/idgen"
	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/optimizer"
	"pulsebench/internal/queue"
	"pulsebench/internal/storage"
)

const (
	StreamAuditJobs = "audit_jobs"
	GroupWorkers    = "audit_workers"
)

const (
	frameCadenceSeconds = 5
	maxSampledFrames    = 10
	staleAfter          = 120 * time.Minute
	jobTimeout          = 1800 * time.Second
)

// Service runs the Audit Job Runner pipeline.
type Service struct {
	store     storage.Repository
	llm       *llmclient.Client
	optimizer *optimizer.Service
	queue     *queue.Queue
	scratchDir string
}

func New(store storage.Repository, llm *llmclient.Client, opt *optimizer.Service, q *queue.Queue, scratchDir string) *Service {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Service{store: store, llm: llm, optimizer: opt, queue: q, scratchDir: scratchDir}
}

type auditPayload struct {
	AuditID string `json:"audit_id"`
}

// CreateAudit validates the mutually-exclusive source mode, creates the
// pending row, and hands off to the durable queue. A handoff failure marks
// the row failed (progress 100, error_message "durable queue is
// unreachable"; the Audit row has no error_code field) and returns
// ServiceUnavailable, mirroring
// internal/media's EnqueueDownload so callers (the loop orchestrator, the
// HTTP handler) apply the same credit-refund-on-enqueue-failure rule spec
// §4.H describes for the audit loop.
func (s *Service) CreateAudit(ctx context.Context, userID string, input models.AuditInput) (models.Audit, error) {
	hasURL := input.VideoURL != ""
	hasUpload := input.UploadPath != "" || input.UploadID != ""
	if hasURL == hasUpload {
		return models.Audit{}, apierrors.BadRequest("exactly one of video_url or upload_path/upload_id is required")
	}

	audit, err := s.store.CreateAudit(models.Audit{
		UserID: userID, Status: models.AuditPending, Progress: "0", InputJSON: input,
	})
	if err != nil {
		return models.Audit{}, fmt.Errorf("audit: create: %w", err)
	}

	if s.queue == nil {
		return s.failQueueUnavailable(audit)
	}
	if _, err := s.queue.Publish(ctx, StreamAuditJobs, auditPayload{AuditID: audit.ID}); err != nil {
		return s.failQueueUnavailable(audit)
	}
	return audit, nil
}

func (s *Service) failQueueUnavailable(audit models.Audit) (models.Audit, error) {
	audit, _ = s.store.UpdateAudit(audit.ID, func(a *models.Audit) {
		a.Status = models.AuditFailed
		a.Progress = "100"
		a.ErrorMessage = "durable queue is unreachable"
	})
	return audit, apierrors.ServiceUnavailable("could not enqueue audit")
}

// HandleMessage adapts a queue.Message into a ProcessAudit call.
func (s *Service) HandleMessage(ctx context.Context, msg queue.Message) error {
	var payload auditPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil
	}
	s.ProcessAudit(ctx, payload.AuditID)
	return nil
}

// ProcessAudit runs spec §4.D's six steps for one audit. It never returns an
// error to the caller: every failure path is written to the Audit row, per
// the propagation policy that workers write failures to the job/audit row
// rather than raising to the queue.
func (s *Service) ProcessAudit(ctx context.Context, auditID string) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	audit, ok := s.store.GetAudit(auditID)
	if !ok {
		return
	}
	if audit.Status == models.AuditCompleted || audit.Status == models.AuditFailed {
		return // duplicate delivery: single-writer state machine, no-op.
	}

	scratch := filepath.Join(s.scratchDir, "audit_"+auditID)
	defer os.RemoveAll(scratch)

	if err := s.run(ctx, &audit, scratch); err != nil {
		s.store.UpdateAudit(auditID, func(a *models.Audit) {
			a.Status = models.AuditFailed
			a.Progress = "100"
			a.ErrorMessage = err.Error()
		})
	}
}

func (s *Service) run(ctx context.Context, audit *models.Audit, scratch string) error {
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("prepare scratch dir: %w", err)
	}

	// Step 1: downloading, progress 10. Resolve the video source.
	if _, err := s.transition(audit.ID, models.AuditDownloading, "10"); err != nil {
		return err
	}
	sourcePath, durationS, err := s.resolveSource(*audit)
	if err != nil {
		return err
	}

	// Frame extraction: 1 frame per 5s, written as a lazy restartable
	// sequence of placeholder files (no ffmpeg available in this
	// environment; see deterministicFrame).
	frameCount := durationS / frameCadenceSeconds
	if frameCount < 1 {
		frameCount = 1
	}
	framesDir := filepath.Join(scratch, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return fmt.Errorf("prepare frames dir: %w", err)
	}
	frames := make([]string, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		path := filepath.Join(framesDir, fmt.Sprintf("frame_%04d.jpg", i))
		if err := deterministicFrame(path, sourcePath, i); err != nil {
			return fmt.Errorf("extract frame %d: %w", i, err)
		}
		frames = append(frames, path)
	}

	// Step 2: processing_video, progress 30.
	if _, err := s.transition(audit.ID, models.AuditProcessingVideo, "30"); err != nil {
		return err
	}

	// Step 2 (cont'd): processing_audio, progress 50, then transcribe.
	if _, err := s.transition(audit.ID, models.AuditProcessingAudio, "50"); err != nil {
		return err
	}
	audioPath := filepath.Join(scratch, "audio.mp3")
	if err := deterministicAudioExtract(audioPath, sourcePath); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	transcript, err := s.llm.Transcribe(ctx, audioPath, durationS)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	// Step 3: analyzing, progress 70. Sample at most 10 frames uniformly.
	if _, err := s.transition(audit.ID, models.AuditAnalyzing, "70"); err != nil {
		return err
	}
	sampled := sampleFrames(frames, maxSampledFrames)

	title := audit.InputJSON.SourceItemID
	if title == "" {
		title = audit.ID
	}
	videoAnalysis, err := s.llm.Analyze(ctx, llmclient.MultimodalRequest{
		VideoID: audit.ID, Title: title, Transcript: transcript, FramePaths: sampled,
	})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	// Step 5: performance prediction via the Optimizer Scoring Engine.
	platform := models.Platform(audit.InputJSON.PlatformHint)
	if !platform.Valid() {
		platform = models.PlatformYouTube
	}
	rescore := s.optimizer.Rescore(ctx, optimizer.RescoreRequest{
		UserID: audit.UserID, ScriptText: transcript.Text, Platform: platform, DurationS: durationS,
	})
	performancePrediction := map[string]any{
		"combined_metrics":  rescore.ScoreBreakdown,
		"detector_rankings": rescore.DetectorRankings,
		"next_actions":      rescore.NextActions,
	}

	output := &models.AuditOutput{
		Diagnosis:             buildDiagnosis(videoAnalysis),
		VideoAnalysis:         &videoAnalysis,
		PerformancePrediction: performancePrediction,
	}

	now := time.Now().UTC()
	_, err = s.store.UpdateAudit(audit.ID, func(a *models.Audit) {
		a.Status = models.AuditCompleted
		a.Progress = "100"
		a.OutputJSON = output
		a.CompletedAt = &now
	})
	if err != nil {
		return fmt.Errorf("persist completed audit: %w", err)
	}
	return nil
}

func (s *Service) transition(auditID string, status models.AuditStatus, progress string) (models.Audit, error) {
	a, err := s.store.UpdateAudit(auditID, func(a *models.Audit) {
		a.Status = status
		a.Progress = progress
	})
	if err != nil {
		return models.Audit{}, fmt.Errorf("transition %s: %w", status, err)
	}
	return a, nil
}

// resolveSource locates the bytes to analyze: an existing Upload in upload
// mode, or a deterministically downloaded placeholder in URL mode (no
// outbound network access in this environment, same constraint
// internal/media and internal/platformclient document).
func (s *Service) resolveSource(audit models.Audit) (path string, durationS int, err error) {
	in := audit.InputJSON
	if in.UploadID != "" {
		upload, ok := s.store.GetUpload(in.UploadID)
		if !ok {
			return "", 0, fmt.Errorf("upload %s not found", in.UploadID)
		}
		return upload.FileURL, 60, nil
	}
	if in.UploadPath != "" {
		return in.UploadPath, 60, nil
	}

	seed := deterministicSeed(in.VideoURL)
	durationS = int(15 + seed%300)
	videoPath := filepath.Join(os.TempDir(), "audit_src_"+idgen.New()+".mp4")
	body := fmt.Sprintf("synthetic-audit-source:%s:%d", in.VideoURL, seed)
	if err := os.WriteFile(videoPath, []byte(body), 0o644); err != nil {
		return "", 0, fmt.Errorf("download: %w", err)
	}
	return videoPath, durationS, nil
}

// RecoverStale marks in-flight audits older than staleAfter as interrupted
// (spec §4.C crash recovery, symmetric for Audits).
func (s *Service) RecoverStale(now time.Time) int {
	cutoff := now.Add(-staleAfter)
	stale := s.store.ListStaleAudits(cutoff)
	for _, a := range stale {
		s.store.UpdateAudit(a.ID, func(audit *models.Audit) {
			audit.Status = models.AuditFailed
			audit.Progress = "100"
			audit.ErrorMessage = "interrupted by a process restart"
		})
	}
	return len(stale)
}

func buildDiagnosis(result models.AuditResult) map[string]any {
	if len(result.Sections) == 0 {
		return nil
	}
	strongest, weakest := result.Sections[0], result.Sections[0]
	for _, sec := range result.Sections {
		if sec.Score > strongest.Score {
			strongest = sec
		}
		if sec.Score < weakest.Score {
			weakest = sec
		}
	}
	return map[string]any{
		"strongest_section": strongest.Name,
		"weakest_section":   weakest.Name,
		"overall_score":     result.OverallScore,
	}
}

func sampleFrames(frames []string, limit int) []string {
	if len(frames) <= limit {
		return frames
	}
	stride := len(frames) / limit
	if stride < 1 {
		stride = 1
	}
	out := make([]string, 0, limit)
	for i := 0; i < len(frames) && len(out) < limit; i += stride {
		out = append(out, frames[i])
	}
	return out
}
