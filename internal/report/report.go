// Package report aggregates a completed audit, the cached competitor
// blueprint, and the outcome-calibration signal into a single consolidated
// view, and issues/resolves time-boxed public share links for it (spec
// §4.J), grounded on original_source's apps/api/services/report.py and
// services/report_share.py.
package report

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/blueprint"
	"pulsebench/internal/models"
	"pulsebench/internal/outcomes"
	"pulsebench/internal/storage"
)

// Service builds consolidated reports and manages their share links.
type Service struct {
	store     storage.Repository
	blueprint *blueprint.Service
	outcomes  *outcomes.Service
	now       func() time.Time
}

// New builds a Service.
func New(store storage.Repository, bp *blueprint.Service, oc *outcomes.Service) *Service {
	return &Service{store: store, blueprint: bp, outcomes: oc, now: func() time.Time { return time.Now().UTC() }}
}

const (
	shareTokenDefaultHours = 168
	shareTokenMaxHours     = 24 * 30
)

// PredictionVsActual pairs the model's predicted score against the most
// relevant observed outcome for the report's platform.
type PredictionVsActual struct {
	OutcomeID        string
	Platform         models.Platform
	ContentItemID    string
	DraftSnapshotID  string
	ReportID         string
	PostedAt         time.Time
	PredictedScore   *float64
	ActualScore      float64
	CalibrationDelta *float64
	ActualMetrics    models.ActualMetrics
}

// CalibrationConfidence is the report's view of how trustworthy the
// platform's predicted scores currently are.
type CalibrationConfidence struct {
	Platform         models.Platform
	SampleSize       int
	MeanAbsError     float64
	HitRate          float64
	Trend            models.CalibrationTrend
	Confidence       string
	InsufficientData bool
	Recommendations  []string
}

// OutcomeDrift carries the 7d/30d drift windows and the actions they imply.
type OutcomeDrift struct {
	DriftWindows   map[string]outcomes.DriftWindow
	NextActions    []string
	RecentOutcomes []models.OutcomeMetric
}

// BestEditedVariant previews the user's strongest optimizer rewrite.
type BestEditedVariant struct {
	ID                      string
	Platform                models.Platform
	VariantID               string
	SourceItemID            string
	ScriptPreview           string
	BaselineScore           *float64
	RescoredScore           float64
	DeltaScore              *float64
	CreatedAt               time.Time
	TopDetectorImprovements []models.DetectorScore
}

// QuickAction is a single suggested next step surfaced alongside the report.
type QuickAction struct {
	Type  string
	Label string
	Href  string
}

// ConsolidatedReport is the full payload returned by GetConsolidatedReport.
type ConsolidatedReport struct {
	AuditID               string
	ReportPlatform        models.Platform
	CreatedAt             time.Time
	OverallScore          float64
	Diagnosis             map[string]any
	VideoAnalysis         *models.AuditResult
	PerformancePrediction map[string]any
	Blueprint             models.BlueprintSnapshot
	PredictionVsActual    *PredictionVsActual
	CalibrationConfidence CalibrationConfidence
	OutcomeDrift          OutcomeDrift
	BestEditedVariant     *BestEditedVariant
	QuickActions          []QuickAction
	Recommendations       []string
}

// GetConsolidatedReport implements get_consolidated_report: resolve the
// audit (explicit id, or the latest completed one), refresh the competitor
// blueprint for its platform, pull in the calibration/outcome context and
// the best edited optimizer variant, and compute the weighted overall score.
func (s *Service) GetConsolidatedReport(ctx context.Context, userID, auditID string) (ConsolidatedReport, error) {
	var audit models.Audit
	if auditID != "" {
		a, ok := s.store.GetAudit(auditID)
		if !ok || a.UserID != userID {
			return ConsolidatedReport{}, apierrors.NotFound("audit not found for this user")
		}
		audit = a
	} else {
		a, ok := s.store.LatestCompletedAudit(userID)
		if !ok {
			return ConsolidatedReport{}, apierrors.NotFound("no completed audit found for this user")
		}
		audit = a
	}

	var diagnosis map[string]any
	var videoAnalysis *models.AuditResult
	var performancePrediction map[string]any
	if audit.OutputJSON != nil {
		diagnosis = audit.OutputJSON.Diagnosis
		videoAnalysis = audit.OutputJSON.VideoAnalysis
		performancePrediction = audit.OutputJSON.PerformancePrediction
	}

	reportPlatform := resolveReportPlatform(performancePrediction, audit.InputJSON.PlatformHint)

	bp, err := s.blueprint.GetOrRefresh(ctx, userID, reportPlatform)
	if err != nil {
		return ConsolidatedReport{}, fmt.Errorf("report: refresh blueprint: %w", err)
	}

	predictionVsActual, calibrationConfidence, outcomeDrift := s.predictionOutcomeContext(userID, reportPlatform, audit.ID)
	bestEditedVariant := s.bestEditedVariantContext(userID, audit.ID)

	diagnosisOverall, hasDiag := numberFromAny(diagnosis["overall_score"])
	statsScore := safeScore100(diagnosisOverall, hasDiag, 70)

	var videoScore float64
	if combined, ok := combinedScoreFrom(performancePrediction); ok {
		videoScore = safeScore100(combined, true, 70)
	} else if videoAnalysis != nil {
		videoScore = safeScore100(videoAnalysis.OverallScore, true, 70)
	} else {
		videoScore = 70
	}
	const strategyScore = 80.0
	overallScore := math.Round(statsScore*0.3 + videoScore*0.4 + strategyScore*0.3)

	return ConsolidatedReport{
		AuditID: audit.ID, ReportPlatform: reportPlatform, CreatedAt: audit.CreatedAt,
		OverallScore: overallScore, Diagnosis: diagnosis, VideoAnalysis: videoAnalysis,
		PerformancePrediction: performancePrediction, Blueprint: bp,
		PredictionVsActual: predictionVsActual, CalibrationConfidence: calibrationConfidence,
		OutcomeDrift: outcomeDrift, BestEditedVariant: bestEditedVariant,
		QuickActions:    buildOptimizerQuickActions(bestEditedVariant),
		Recommendations: normalizeRecommendations(diagnosis, videoAnalysis, performancePrediction, bp),
	}, nil
}

// predictionOutcomeContext implements _prediction_outcome_context. The
// Go outcomes.Service.SummaryForPlatform already refreshes the calibration
// snapshot and returns exactly the fields the Python version separately
// re-queried from CalibrationSnapshot after calling get_outcomes_summary_service,
// so this is a deliberate single-call simplification of that two-source merge.
func (s *Service) predictionOutcomeContext(userID string, platform models.Platform, auditID string) (*PredictionVsActual, CalibrationConfidence, OutcomeDrift) {
	var latest *models.OutcomeMetric
	if auditID != "" {
		if m, ok := s.store.OutcomeByReportID(auditID); ok && m.UserID == userID {
			latest = &m
		}
	}
	resolvedPlatform := platform
	var predictionVsActual *PredictionVsActual
	if latest == nil {
		if m, ok := s.store.LatestOutcomeForPlatform(userID, platform); ok {
			latest = &m
		}
	}
	if latest != nil {
		resolvedPlatform = latest.Platform
		predictionVsActual = &PredictionVsActual{
			OutcomeID: latest.ID, Platform: latest.Platform, ContentItemID: latest.ContentItemID,
			DraftSnapshotID: latest.DraftSnapshotID, ReportID: latest.ReportID, PostedAt: latest.PostedAt,
			PredictedScore: latest.PredictedScore, ActualScore: latest.ActualScore,
			CalibrationDelta: latest.CalibrationDelta, ActualMetrics: latest.ActualMetrics,
		}
	}

	summary, err := s.outcomes.SummaryForPlatform(userID, resolvedPlatform)
	if err != nil {
		return predictionVsActual, CalibrationConfidence{
			Platform: resolvedPlatform, Trend: models.TrendFlat, Confidence: "low", InsufficientData: true,
			Recommendations: []string{"No posted outcomes ingested yet. Add outcome metrics to calibrate prediction confidence."},
		}, OutcomeDrift{}
	}

	confidence := CalibrationConfidence{
		Platform: resolvedPlatform, SampleSize: summary.SampleSize, MeanAbsError: summary.AvgError,
		HitRate: summary.HitRate, Trend: summary.Trend, Confidence: summary.Confidence,
		InsufficientData: summary.InsufficientData, Recommendations: summary.Recommendations,
	}
	drift := OutcomeDrift{DriftWindows: summary.DriftWindows, NextActions: summary.NextActions, RecentOutcomes: summary.RecentOutcomes}
	return predictionVsActual, confidence, drift
}

// bestEditedVariantContext implements _best_edited_variant_context: prefer
// the draft snapshot tied to the audit's linked outcome, else the user's
// most recently created snapshot.
func (s *Service) bestEditedVariantContext(userID, auditID string) *BestEditedVariant {
	var linkedSnapshotID string
	if auditID != "" {
		if m, ok := s.store.OutcomeByReportID(auditID); ok && m.UserID == userID && m.DraftSnapshotID != "" {
			linkedSnapshotID = m.DraftSnapshotID
		}
	}

	var snap models.DraftSnapshot
	found := false
	if linkedSnapshotID != "" {
		if d, ok := s.store.GetDraftSnapshot(linkedSnapshotID); ok && d.UserID == userID {
			snap, found = d, true
		}
	}
	if !found {
		if d, ok := s.store.LatestDraftSnapshot(userID); ok {
			snap, found = d, true
		}
	}
	if !found {
		return nil
	}

	preview := strings.TrimSpace(snap.ScriptText)
	if len(preview) > 340 {
		preview = preview[:337] + "..."
	}

	topDetectors := snap.DetectorRankings
	if len(topDetectors) > 3 {
		topDetectors = topDetectors[:3]
	}

	return &BestEditedVariant{
		ID: snap.ID, Platform: snap.Platform, VariantID: snap.VariantID, SourceItemID: snap.SourceItemID,
		ScriptPreview: preview, BaselineScore: snap.BaselineScore, RescoredScore: snap.RescoredScore,
		DeltaScore: snap.DeltaScore, CreatedAt: snap.CreatedAt, TopDetectorImprovements: topDetectors,
	}
}

func buildOptimizerQuickActions(bev *BestEditedVariant) []QuickAction {
	href := "/research?mode=optimizer"
	if bev != nil {
		if bev.SourceItemID != "" {
			href += "&source_item_id=" + url.QueryEscape(bev.SourceItemID)
		}
		if bev.ScriptPreview != "" {
			topicSeed := bev.ScriptPreview
			if idx := strings.Index(topicSeed, "."); idx >= 0 {
				topicSeed = topicSeed[:idx]
			}
			if len(topicSeed) > 120 {
				topicSeed = topicSeed[:120]
			}
			topicSeed = strings.TrimSpace(topicSeed)
			if topicSeed != "" {
				href += "&topic=" + url.QueryEscape(topicSeed)
			}
		}
	}
	return []QuickAction{{Type: "generate_improved_variants", Label: "Generate 3 improved variants now", Href: href}}
}

func resolveReportPlatform(performancePrediction map[string]any, platformHint string) models.Platform {
	if performancePrediction != nil {
		if raw, ok := performancePrediction["platform"]; ok {
			if p := models.Platform(strings.ToLower(fmt.Sprint(raw))); p.Valid() {
				return p
			}
		}
	}
	if p := models.Platform(strings.ToLower(strings.TrimSpace(platformHint))); p.Valid() {
		return p
	}
	return models.PlatformYouTube
}

// normalizeRecommendations implements _normalize_recommendations: fold the
// next-actions, diagnosis notes, weakest video-analysis feedback, a combined-
// score banner, and blueprint velocity actions into a deduped, capped list.
func normalizeRecommendations(diagnosis map[string]any, videoAnalysis *models.AuditResult, performancePrediction map[string]any, bp models.BlueprintSnapshot) []string {
	var result []string

	if performancePrediction != nil {
		if actions, ok := performancePrediction["next_actions"].([]models.NextAction); ok {
			for i, a := range actions {
				if i >= 3 {
					break
				}
				title := strings.TrimSpace(a.Title)
				why := strings.TrimSpace(a.Why)
				switch {
				case title != "" && why != "":
					result = append(result, title+": "+why)
				case title != "":
					result = append(result, title)
				}
			}
		}
	}

	if diagRecs, ok := diagnosis["recommendations"].([]any); ok {
		count := 0
		for _, raw := range diagRecs {
			if count >= 2 {
				break
			}
			switch rec := raw.(type) {
			case string:
				result = append(result, rec)
				count++
			case map[string]any:
				title, _ := rec["title"].(string)
				desc, _ := rec["description"].(string)
				switch {
				case title != "" && desc != "":
					result = append(result, title+": "+desc)
					count++
				case title != "":
					result = append(result, title)
					count++
				}
			}
		}
	}

	if videoAnalysis != nil && len(videoAnalysis.Sections) > 0 {
		if fb := videoAnalysis.Sections[0].Feedback; len(fb) > 0 {
			result = append(result, fb[0])
		}
	}

	if combined, ok := combinedScoreFrom(performancePrediction); ok {
		score := safeScore100(combined, true, -1)
		switch {
		case score < 60:
			result = append(result, "Combined performance likelihood is currently low; tighten the first 3-5 seconds and clarity of the payoff.")
		case score < 80:
			result = append(result, "Combined performance likelihood is medium; improve hook specificity and pacing to lift breakout odds.")
		default:
			result = append(result, "Combined performance likelihood is high; keep this structure and iterate variations for repeatable winners.")
		}
	}

	if bp.Payload != nil {
		if velocityActions, ok := bp.Payload["velocity_actions"].([]any); ok {
			count := 0
			for _, raw := range velocityActions {
				if count >= 2 {
					break
				}
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				title := strings.TrimSpace(fmt.Sprint(m["title"]))
				why := strings.TrimSpace(fmt.Sprint(m["why"]))
				if title != "" && why != "" {
					result = append(result, title+": "+why)
					count++
				}
			}
		}
	}

	result = append(result, "Focus on the next 3 pillar topics identified in your Competitor Blueprint.")

	deduped := make([]string, 0, len(result))
	seen := make(map[string]bool, len(result))
	for _, item := range result {
		normalized := strings.TrimSpace(item)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		deduped = append(deduped, normalized)
	}
	if len(deduped) > 8 {
		deduped = deduped[:8]
	}
	return deduped
}

func numberFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// safeScore100 implements _safe_score_100: a raw value <= 10 is treated as a
// 0-10 scale and upscaled; everything else is clipped to 0-100.
func safeScore100(raw float64, ok bool, def float64) float64 {
	if !ok {
		return def
	}
	if raw <= 10.0 {
		raw *= 10.0
	}
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return raw
}

// combinedScoreFrom reads performance_prediction.combined_metrics.score,
// handling both the in-process models.ScoreBreakdown value audit.go sets
// directly and the map[string]any shape it decodes into after a JSON store
// reload.
func combinedScoreFrom(pp map[string]any) (float64, bool) {
	if pp == nil {
		return 0, false
	}
	raw, ok := pp["combined_metrics"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case models.ScoreBreakdown:
		return v.Combined, true
	case map[string]any:
		return numberFromAny(v["combined"])
	}
	return 0, false
}

// --- share links ---

// ShareLinkResult is returned by CreateShareLink.
type ShareLinkResult struct {
	ShareID    string
	AuditID    string
	ShareToken string
	ExpiresAt  time.Time
}

// CreateShareLink implements create_report_share_link: mint an opaque,
// URL-safe token (mirroring secrets.token_urlsafe(24)) good for
// expiresHours, clamped to [1, 720] (30 days), defaulting to 168 (7 days)
// when expiresHours is non-positive.
func (s *Service) CreateShareLink(userID, auditID string, expiresHours int) (ShareLinkResult, error) {
	audit, ok := s.store.GetAudit(auditID)
	if !ok || audit.UserID != userID {
		return ShareLinkResult{}, apierrors.NotFound("audit not found")
	}

	ttlHours := expiresHours
	if ttlHours <= 0 {
		ttlHours = shareTokenDefaultHours
	}
	if ttlHours > shareTokenMaxHours {
		ttlHours = shareTokenMaxHours
	}
	expiresAt := s.now().Add(time.Duration(ttlHours) * time.Hour)

	token, err := newShareToken()
	if err != nil {
		return ShareLinkResult{}, fmt.Errorf("report: generate share token: %w", err)
	}

	link, err := s.store.CreateShareLink(models.ReportShareLink{
		UserID: userID, AuditID: auditID, ShareToken: token, ExpiresAt: expiresAt,
	})
	if err != nil {
		return ShareLinkResult{}, fmt.Errorf("report: persist share link: %w", err)
	}

	return ShareLinkResult{ShareID: link.ID, AuditID: auditID, ShareToken: link.ShareToken, ExpiresAt: link.ExpiresAt}, nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SharedReport wraps a ConsolidatedReport with the share metadata shown on
// the public view.
type SharedReport struct {
	Report     ConsolidatedReport
	ShareToken string
	ExpiresAt  time.Time
}

// ResolveSharedReport implements resolve_shared_report: validate the token,
// reject an expired or missing link, bump last_accessed_at, and render the
// same consolidated report the owner would see.
func (s *Service) ResolveSharedReport(ctx context.Context, shareToken string) (SharedReport, error) {
	token := strings.TrimSpace(shareToken)
	if token == "" {
		return SharedReport{}, apierrors.ValidationError("share_token is required")
	}
	link, ok := s.store.GetShareLinkByToken(token)
	if !ok {
		return SharedReport{}, apierrors.NotFound("share link not found")
	}
	now := s.now()
	if !link.ExpiresAt.After(now) {
		return SharedReport{}, apierrors.RequestError{Status: http.StatusGone, CodeVal: "share_link_expired", Message: "share link expired"}
	}
	if err := s.store.TouchShareLink(link.ID, now); err != nil {
		return SharedReport{}, fmt.Errorf("report: touch share link: %w", err)
	}

	rep, err := s.GetConsolidatedReport(ctx, link.UserID, link.AuditID)
	if err != nil {
		return SharedReport{}, err
	}
	return SharedReport{Report: rep, ShareToken: token, ExpiresAt: link.ExpiresAt}, nil
}
