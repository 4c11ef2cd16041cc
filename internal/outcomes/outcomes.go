// Package outcomes implements the Outcome Calibration Loop (spec §4.I): it
// ingests actual post performance, computes a log-scaled/engagement-weighted
// actual score, diffs it against whatever score was predicted at write time,
// and rebuilds a per-(user, platform) CalibrationSnapshot that the rest of
// the product reads to judge how much to trust the Optimizer's predictions.
// Grounded on original_source/apps/api/services/outcomes.py.
package outcomes

import (
	"math"
	"sort"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/models"
	"pulsebench/internal/storage"
)

type Service struct {
	store   storage.Repository
	enabled bool
	now     func() time.Time
}

func New(store storage.Repository, enabled bool) *Service {
	return &Service{store: store, enabled: enabled, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) assertEnabled() error {
	if !s.enabled {
		return apierrors.FeatureDisabled("outcome learning disabled by feature flag")
	}
	return nil
}

func validPlatform(p models.Platform) bool {
	switch p {
	case models.PlatformYouTube, models.PlatformInstagram, models.PlatformTikTok:
		return true
	}
	return false
}

func clip(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2f(v float64) float64 { return math.Round(v*100) / 100 }
func round4f(v float64) float64 { return math.Round(v*10000) / 10000 }

// computeActualScore mirrors _compute_actual_score: a log-scaled reach
// component, a weighted-engagement component, a watch-depth component, and a
// retention-curve component, clipped to [0,100].
func computeActualScore(m models.ActualMetrics, retentionPoints []float64) float64 {
	views := math.Max(float64(m.Views), 0)
	likes := math.Max(float64(m.Likes), 0)
	comments := math.Max(float64(m.Comments), 0)
	shares := math.Max(float64(m.Shares), 0)
	saves := math.Max(float64(m.Saves), 0)
	avgWatchTime := math.Max(m.AvgWatchTime, 0)
	avgViewDurationS := math.Max(m.AvgViewDurationS, 0)

	reachComponent := math.Min(30.0, math.Log10(views+1.0)*7.5)

	weightedInteractions := likes + comments*2.0 + shares*3.0 + saves*3.0
	engagementRate := weightedInteractions / math.Max(views, 1.0)
	engagementComponent := math.Min(42.0, engagementRate*900.0)

	watchComponent := math.Min(18.0, math.Max(avgWatchTime, avgViewDurationS)/3.5)

	retentionComponent := 0.0
	var normalized []float64
	for _, r := range retentionPoints {
		if r < 0 {
			continue
		}
		normalized = append(normalized, clip(r, 0, 100))
	}
	if len(normalized) > 0 {
		sum := 0.0
		for _, r := range normalized {
			sum += r
		}
		avgRetention := sum / float64(len(normalized))
		retentionComponent = math.Min(10.0, avgRetention*0.12)
	}

	return round1(clip(reachComponent+engagementComponent+watchComponent+retentionComponent, 0, 100))
}

func trendFromDeltas(deltas []float64) models.CalibrationTrend {
	if len(deltas) < 4 {
		return models.TrendFlat
	}
	midpoint := len(deltas) / 2
	older := deltas[midpoint:]
	newer := deltas[:midpoint]
	olderMean := mean(older)
	newerMean := mean(newer)
	if newerMean < olderMean-1.5 {
		return models.TrendImproving
	}
	if newerMean > olderMean+1.5 {
		return models.TrendDrifting
	}
	return models.TrendFlat
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func recommendations(sampleSize int, meanAbsError float64, trend models.CalibrationTrend) []string {
	var notes []string
	if sampleSize < 5 {
		notes = append(notes, "Insufficient data: ingest at least 5 posted outcomes for stronger confidence.")
	}
	switch {
	case meanAbsError > 18:
		notes = append(notes, "Prediction error is high. Prioritize scripts with explicit detector gaps fixed before posting.")
	case meanAbsError > 10:
		notes = append(notes, "Prediction error is moderate. Re-score edited drafts and compare deltas before publishing.")
	default:
		notes = append(notes, "Calibration error is healthy. Keep using the same score -> edit -> re-score loop.")
	}
	switch trend {
	case models.TrendDrifting:
		notes = append(notes, "Recent posts are drifting from predictions. Revisit hook and pacing assumptions.")
	case models.TrendImproving:
		notes = append(notes, "Prediction accuracy is improving. Scale what is working in your latest formats.")
	}
	if len(notes) > 4 {
		notes = notes[:4]
	}
	return notes
}

func confidenceBucket(sampleSize int, meanAbsError float64) string {
	if sampleSize >= 20 && meanAbsError <= 10 {
		return "high"
	}
	if sampleSize >= 8 && meanAbsError <= 16 {
		return "medium"
	}
	return "low"
}

// DriftWindow summarizes calibration drift over a trailing window.
type DriftWindow struct {
	Days         int
	Count        int
	MeanDelta    float64
	MeanAbsError float64
	Bias         string
}

func (s *Service) windowedDrift(rows []models.OutcomeMetric, days int) DriftWindow {
	if days < 1 {
		days = 1
	}
	cutoff := s.now().AddDate(0, 0, -days)
	var scoped []models.OutcomeMetric
	for _, row := range rows {
		if row.PostedAt.UTC().After(cutoff) || row.PostedAt.UTC().Equal(cutoff) {
			scoped = append(scoped, row)
		}
	}
	if len(scoped) == 0 {
		return DriftWindow{Days: days, Bias: "neutral"}
	}
	var deltas []float64
	for _, row := range scoped {
		if row.CalibrationDelta != nil {
			deltas = append(deltas, *row.CalibrationDelta)
		}
	}
	if len(deltas) == 0 {
		return DriftWindow{Days: days, Count: len(scoped), Bias: "neutral"}
	}
	meanDelta := mean(deltas)
	absSum := 0.0
	for _, d := range deltas {
		absSum += math.Abs(d)
	}
	meanAbsError := absSum / float64(len(deltas))
	bias := "neutral"
	switch {
	case meanDelta >= 2.0:
		bias = "underpredicting"
	case meanDelta <= -2.0:
		bias = "overpredicting"
	}
	return DriftWindow{
		Days: days, Count: len(deltas), MeanDelta: round2f(meanDelta), MeanAbsError: round2f(meanAbsError), Bias: bias,
	}
}

func driftActions(platform models.Platform, sampleSize int, meanAbsError float64, drift7d, drift30d DriftWindow) []string {
	var actions []string
	label := string(platform)
	if label == "" {
		label = "youtube"
	}
	if len(label) > 0 {
		label = string(label[0]-32) + label[1:]
	}

	if sampleSize < 5 {
		actions = append(actions, "Capture at least 5 "+label+" post outcomes to improve confidence.")
	}
	switch drift7d.Bias {
	case "underpredicting":
		actions = append(actions, "Recent actuals are above predictions. Raise targets and test stronger hook ambition.")
	case "overpredicting":
		actions = append(actions, "Recent actuals are below predictions. Tighten hooks and reduce dead zones before posting.")
	}
	switch {
	case meanAbsError > 16:
		actions = append(actions, "Re-score every edited draft and execute top 2 detector actions before publishing.")
	case meanAbsError > 10:
		actions = append(actions, "Use A/B script variants and keep only drafts with positive re-score deltas.")
	default:
		actions = append(actions, "Calibration is healthy. Scale the current format and topic mix.")
	}
	if drift30d.Bias != "neutral" && drift30d.Bias != drift7d.Bias {
		actions = append(actions, "7d vs 30d drift differs. Re-check posting cadence and topic consistency.")
	}

	seen := map[string]bool{}
	var deduped []string
	for _, a := range actions {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		deduped = append(deduped, a)
		if len(deduped) == 4 {
			break
		}
	}
	return deduped
}

// refreshSnapshot rebuilds the CalibrationSnapshot for (userID, platform)
// from the most recent 250 OutcomeMetric rows.
func (s *Service) refreshSnapshot(userID string, platform models.Platform) (models.CalibrationSnapshot, error) {
	rows := s.store.ListOutcomeMetrics(userID, platform, 250)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })

	sampleSize := len(rows)
	var deltas []float64
	var withPrediction []models.OutcomeMetric
	for _, row := range rows {
		if row.CalibrationDelta != nil {
			deltas = append(deltas, math.Abs(*row.CalibrationDelta))
		} else {
			deltas = append(deltas, 0)
		}
		if row.PredictedScore != nil {
			withPrediction = append(withPrediction, row)
		}
	}

	var meanAbsError, hitRate float64
	if len(withPrediction) > 0 {
		sum := 0.0
		hits := 0
		for _, row := range withPrediction {
			d := 0.0
			if row.CalibrationDelta != nil {
				d = math.Abs(*row.CalibrationDelta)
			}
			sum += d
			if d <= 10.0 {
				hits++
			}
		}
		meanAbsError = sum / float64(len(withPrediction))
		hitRate = float64(hits) / float64(len(withPrediction))
	}

	trend := trendFromDeltas(deltas)
	notes := recommendations(sampleSize, meanAbsError, trend)

	snap, err := s.store.UpsertCalibrationSnapshot(models.CalibrationSnapshot{
		UserID: userID, Platform: platform, SampleSize: sampleSize,
		MeanAbsError: round2f(meanAbsError), HitRate: round4f(hitRate), Trend: trend,
		Confidence: confidenceBucket(sampleSize, meanAbsError), Recommendations: notes,
	})
	if err != nil {
		return models.CalibrationSnapshot{}, err
	}
	return snap, nil
}

// IngestRequest is the input to Ingest.
type IngestRequest struct {
	Platform        models.Platform
	ContentItemID   string
	DraftSnapshotID string
	ReportID        string
	VideoExternalID string
	PostedAt        time.Time
	ActualMetrics   models.ActualMetrics
	RetentionPoints []float64
	PredictedScore  *float64
}

// IngestResult bundles the stored outcome with the freshly refreshed snapshot.
type IngestResult struct {
	OutcomeID        string
	CalibrationDelta *float64
	ActualScore      float64
	PredictedScore   *float64
	ConfidenceUpdate models.CalibrationSnapshot
}

// resolvePredictedScore implements _resolve_predicted_score: an explicit
// payload value wins; otherwise fall back to media_meta.predicted_score on
// the referenced ResearchItem, if any.
func (s *Service) resolvePredictedScore(userID, contentItemID string, payloadScore *float64) *float64 {
	if payloadScore != nil {
		v := round1(clip(*payloadScore, 0, 100))
		return &v
	}
	if contentItemID == "" {
		return nil
	}
	item, ok := s.store.GetResearchItem(contentItemID)
	if !ok || item.UserID != userID {
		return nil
	}
	raw, ok := item.MediaMeta["predicted_score"]
	if !ok {
		return nil
	}
	var score float64
	switch v := raw.(type) {
	case float64:
		score = v
	case int:
		score = float64(v)
	default:
		return nil
	}
	v := round1(clip(score, 0, 100))
	return &v
}

// Ingest implements ingest_outcome_service: records an (predicted, actual)
// observation and synchronously rebuilds the platform's calibration snapshot.
func (s *Service) Ingest(userID string, req IngestRequest) (IngestResult, error) {
	if err := s.assertEnabled(); err != nil {
		return IngestResult{}, err
	}
	platform := req.Platform
	if platform == "" {
		platform = models.PlatformYouTube
	}
	if !validPlatform(platform) {
		return IngestResult{}, apierrors.ValidationError("platform must be youtube, instagram, or tiktok")
	}
	if req.PostedAt.IsZero() {
		return IngestResult{}, apierrors.ValidationError("posted_at is required")
	}

	predictedScore := s.resolvePredictedScore(userID, req.ContentItemID, req.PredictedScore)
	actualScore := computeActualScore(req.ActualMetrics, req.RetentionPoints)
	var calibrationDelta *float64
	if predictedScore != nil {
		d := round2f(actualScore - *predictedScore)
		calibrationDelta = &d
	}

	videoExternalID := req.VideoExternalID
	if videoExternalID == "" {
		videoExternalID = req.ContentItemID
	}

	created, err := s.store.CreateOutcomeMetric(models.OutcomeMetric{
		UserID: userID, Platform: platform, ContentItemID: req.ContentItemID,
		DraftSnapshotID: req.DraftSnapshotID, ReportID: req.ReportID, VideoExternalID: videoExternalID,
		PostedAt: req.PostedAt.UTC(), ActualMetrics: req.ActualMetrics, RetentionPoints: req.RetentionPoints,
		PredictedScore: predictedScore, ActualScore: actualScore, CalibrationDelta: calibrationDelta,
	})
	if err != nil {
		return IngestResult{}, err
	}

	snapshot, err := s.refreshSnapshot(userID, platform)
	if err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		OutcomeID: created.ID, CalibrationDelta: calibrationDelta, ActualScore: actualScore,
		PredictedScore: predictedScore, ConfidenceUpdate: snapshot,
	}, nil
}

// PlatformSummary is one platform's calibration snapshot plus drift/next-action detail.
type PlatformSummary struct {
	Platform        models.Platform
	SampleSize      int
	AvgError        float64
	HitRate         float64
	Trend           models.CalibrationTrend
	Confidence      string
	InsufficientData bool
	Recommendations []string
	DriftWindows    map[string]DriftWindow
	RecentOutcomes  []models.OutcomeMetric
	NextActions     []string
}

// OverallSummary is the cross-platform rollup returned when no platform filter is given.
type OverallSummary struct {
	HitRate          float64
	AvgError         float64
	Trend            models.CalibrationTrend
	Confidence       string
	InsufficientData bool
	Recommendations  []string
	Platforms        []PlatformSummary
}

// SummaryForPlatform implements the platform-scoped branch of
// get_outcomes_summary_service: refresh the snapshot, compute 7d/30d drift
// windows, and derive next actions.
func (s *Service) SummaryForPlatform(userID string, platform models.Platform) (PlatformSummary, error) {
	if err := s.assertEnabled(); err != nil {
		return PlatformSummary{}, err
	}
	if !validPlatform(platform) {
		return PlatformSummary{}, apierrors.ValidationError("platform must be youtube, instagram, or tiktok")
	}
	snapshot, err := s.refreshSnapshot(userID, platform)
	if err != nil {
		return PlatformSummary{}, err
	}

	rows := s.store.ListOutcomeMetrics(userID, platform, 120)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].PostedAt.Equal(rows[j].PostedAt) {
			return rows[i].PostedAt.After(rows[j].PostedAt)
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	var withPrediction []models.OutcomeMetric
	for _, row := range rows {
		if row.PredictedScore != nil && row.CalibrationDelta != nil {
			withPrediction = append(withPrediction, row)
		}
	}
	drift7d := s.windowedDrift(withPrediction, 7)
	drift30d := s.windowedDrift(withPrediction, 30)
	actions := driftActions(platform, snapshot.SampleSize, snapshot.MeanAbsError, drift7d, drift30d)

	recent := rows
	if len(recent) > 12 {
		recent = recent[:12]
	}

	return PlatformSummary{
		Platform: platform, SampleSize: snapshot.SampleSize, AvgError: snapshot.MeanAbsError,
		HitRate: snapshot.HitRate, Trend: snapshot.Trend, Confidence: snapshot.Confidence,
		InsufficientData: snapshot.SampleSize < 5, Recommendations: snapshot.Recommendations,
		DriftWindows: map[string]DriftWindow{"d7": drift7d, "d30": drift30d},
		RecentOutcomes: recent, NextActions: actions,
	}, nil
}

// Summary implements the cross-platform branch of get_outcomes_summary_service.
func (s *Service) Summary(userID string) (OverallSummary, error) {
	if err := s.assertEnabled(); err != nil {
		return OverallSummary{}, err
	}
	var snapshots []models.CalibrationSnapshot
	for _, platform := range []models.Platform{models.PlatformYouTube, models.PlatformInstagram, models.PlatformTikTok} {
		if snap, ok := s.store.GetCalibrationSnapshot(userID, platform); ok {
			snapshots = append(snapshots, snap)
		}
	}
	if len(snapshots) == 0 {
		return OverallSummary{
			Trend: models.TrendFlat, Confidence: "low", InsufficientData: true,
			Recommendations: []string{"No outcomes captured yet. Ingest posted results to unlock calibration confidence."},
		}, nil
	}
	sort.SliceStable(snapshots, func(i, j int) bool { return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt) })

	var platforms []PlatformSummary
	var totalError, totalHitRate float64
	totalSample := 0
	for _, snap := range snapshots {
		conf := confidenceBucket(snap.SampleSize, snap.MeanAbsError)
		platforms = append(platforms, PlatformSummary{
			Platform: snap.Platform, SampleSize: snap.SampleSize, AvgError: round2f(snap.MeanAbsError),
			HitRate: round4f(snap.HitRate), Trend: snap.Trend, Confidence: conf,
			InsufficientData: snap.SampleSize < 5, Recommendations: snap.Recommendations,
		})
		totalError += snap.MeanAbsError
		totalHitRate += snap.HitRate
		totalSample += snap.SampleSize
	}
	avgErrorAll := totalError / float64(len(platforms))
	hitRateAll := totalHitRate / float64(len(platforms))

	dominant := platforms[0]
	for _, p := range platforms {
		if p.SampleSize > dominant.SampleSize {
			dominant = p
		}
	}

	return OverallSummary{
		HitRate: round4f(hitRateAll), AvgError: round2f(avgErrorAll), Trend: dominant.Trend,
		Confidence: confidenceBucket(totalSample, avgErrorAll), InsufficientData: totalSample < 5,
		Recommendations: dominant.Recommendations, Platforms: platforms,
	}, nil
}

// RecalibrateAllResult summarizes a bulk recalibration sweep.
type RecalibrateAllResult struct {
	Refreshed int
	Skipped   int
	Errors    []string
}

// RecalibrateAll implements run_calibration_refresh_for_all_users_service:
// rebuild the snapshot for every distinct (user, platform) pair observed in
// the OutcomeMetric set, used by the periodic background scheduler.
func (s *Service) RecalibrateAll() RecalibrateAllResult {
	if !s.enabled {
		return RecalibrateAllResult{}
	}
	pairs := s.store.DistinctUserPlatformPairs()
	result := RecalibrateAllResult{}
	for _, pair := range pairs {
		if pair.UserID == "" || pair.Platform == "" {
			result.Skipped++
			continue
		}
		if _, err := s.refreshSnapshot(pair.UserID, pair.Platform); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, pair.UserID+":"+string(pair.Platform)+":"+err.Error())
			continue
		}
		result.Refreshed++
	}
	if len(result.Errors) > 20 {
		result.Errors = result.Errors[:20]
	}
	return result
}
