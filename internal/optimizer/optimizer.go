// Package optimizer implements the Optimizer Scoring Engine: script variant
// generation, rescoring, and draft-snapshot persistence, all built on top of
// the deterministic evaluateScript pipeline. Grounded on
// original_source/apps/api/services/optimizer.py's scoring heuristics and on
// internal/credits/ledger.go's style (storage.Repository injected at
// construction, append-only/persisted artifacts, plain exported methods with
// no HTTP awareness).
package optimizer

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"pulsebench/internal/idgen"
	"pulsebench/internal/llmclient"
	"pulsebench/internal/models"
	"pulsebench/internal/storage"
)

// Service implements generateVariants/rescore/draft-snapshot persistence.
type Service struct {
	store storage.Repository
	llm   *llmclient.Client
}

func New(store storage.Repository, llm *llmclient.Client) *Service {
	return &Service{store: store, llm: llm}
}

// defaultDurations is spec §4.E E1's per-platform default duration table.
var defaultDurations = map[models.Platform]int{
	models.PlatformYouTube:   45,
	models.PlatformInstagram: 35,
	models.PlatformTikTok:    30,
}

func clampDuration(platform models.Platform, requested int) int {
	d := requested
	if d <= 0 {
		d = defaultDurations[platform]
		if d == 0 {
			d = 45
		}
	}
	if d < 15 {
		d = 15
	}
	if d > 900 {
		d = 900
	}
	return d
}

// GenerateVariantsRequest is the input to generateVariants (E1).
type GenerateVariantsRequest struct {
	UserID       string
	SourceItemID string
	Platform     models.Platform
	Topic        string
	Audience     string
	Objective    string
	Tone         string
	DurationS    int
}

// styleOrder fixes variant_a/b/c ordering used throughout E1.
var styleOrder = []models.VariantStyleKey{models.VariantOutcomeProof, models.VariantCuriosityGap, models.VariantContrarian}

var styleLabel = map[models.VariantStyleKey]string{
	models.VariantOutcomeProof: "outcome+proof",
	models.VariantCuriosityGap: "curiosity_gap",
	models.VariantContrarian:   "contrarian",
}

// fallbackScript builds the deterministic template fallback for one style,
// parameterized the way spec §4.E E1 describes.
func fallbackScript(style models.VariantStyleKey, req GenerateVariantsRequest, durationS int) llmclient.GeneratedScript {
	topic := req.Topic
	if topic == "" {
		topic = "this topic"
	}
	audience := req.Audience
	if audience == "" {
		audience = "your audience"
	}
	objective := req.Objective
	if objective == "" {
		objective = "take the next step"
	}

	var structure models.VariantStructure
	switch style {
	case models.VariantOutcomeProof:
		structure = models.VariantStructure{
			Hook:  fmt.Sprintf("I tested %s and here's exactly what happened.", topic),
			Setup: fmt.Sprintf("Most %s get this wrong because they skip one step.", audience),
			Value: fmt.Sprintf("Here's the proof, broken down so you can repeat it on %s.", topic),
			CTA:   fmt.Sprintf("Follow for more breakdowns, and %s.", objective),
		}
	case models.VariantCuriosityGap:
		structure = models.VariantStructure{
			Hook:  fmt.Sprintf("Nobody tells you this about %s.", topic),
			Setup: "Stick around, because by the end this will change how you think about it.",
			Value: fmt.Sprintf("Here's the mistake almost everyone makes with %s, and the fix.", topic),
			CTA:   fmt.Sprintf("Comment if you want part two, and %s.", objective),
		}
	default: // VariantContrarian
		structure = models.VariantStructure{
			Hook:  fmt.Sprintf("Everything you've heard about %s is backwards.", topic),
			Setup: "But I tested it, and the results surprised me.",
			Value: fmt.Sprintf("Here's why the common advice on %s fails, and what actually works.", topic),
			CTA:   fmt.Sprintf("Save this before you try it, and %s.", objective),
		}
	}
	text := strings.Join([]string{structure.Hook, structure.Setup, structure.Value, structure.CTA}, "\n")
	return llmclient.GeneratedScript{StyleKey: style, Structure: structure, ScriptText: text}
}

// GenerateVariants implements E1.
func (s *Service) GenerateVariants(ctx context.Context, req GenerateVariantsRequest) (models.VariantBatch, error) {
	durationS := clampDuration(req.Platform, req.DurationS)

	byStyle := make(map[models.VariantStyleKey]llmclient.GeneratedScript, 3)
	usedFallback := false
	fallbackReason := ""

	aiScripts, err := s.llm.GenerateScripts(ctx, llmclient.ScriptGenerationRequest{
		Topic: req.Topic, Audience: req.Audience, Objective: req.Objective, Tone: req.Tone,
		Platform: req.Platform, DurationS: durationS,
	})
	if err != nil || len(aiScripts) == 0 {
		usedFallback = true
		if fallbackReason == "" {
			fallbackReason = "provider_unavailable"
		}
		for _, style := range styleOrder {
			byStyle[style] = fallbackScript(style, req, durationS)
		}
	} else {
		for _, g := range aiScripts {
			byStyle[g.StyleKey] = g
		}
		for _, style := range styleOrder {
			if _, ok := byStyle[style]; !ok || strings.TrimSpace(byStyle[style].ScriptText) == "" {
				byStyle[style] = fallbackScript(style, req, durationS)
				usedFallback = true
				fallbackReason = fmt.Sprintf("missing_%s", style)
			}
		}
	}

	variants := make([]models.Variant, 0, 3)
	for _, style := range styleOrder {
		g := byStyle[style]
		eval := s.evaluateScript(ctx, evalInput{
			userID:    req.UserID,
			scriptText: g.ScriptText,
			platform:  req.Platform,
			durationS: durationS,
		})
		variants = append(variants, models.Variant{
			ID:               idgen.New(),
			StyleKey:         style,
			Structure:        g.Structure,
			ScriptText:       g.ScriptText,
			ScoreBreakdown:   eval.breakdown,
			DetectorRankings: eval.rankings,
			NextActions:      eval.nextActions,
			UsedFallback:     usedFallback,
			FallbackReason:   fallbackReason,
		})
	}

	sort.SliceStable(variants, func(i, j int) bool { return variants[i].ScoreBreakdown.Combined > variants[j].ScoreBreakdown.Combined })
	median := variants[1].ScoreBreakdown.Combined
	for i := range variants {
		variants[i].Rank = i + 1
		lift := variants[i].ScoreBreakdown.Combined - median
		if lift < 0 {
			lift = 0
		}
		variants[i].ExpectedLiftPoints = lift
	}

	batch := models.VariantBatch{
		UserID:       req.UserID,
		SourceItemID: req.SourceItemID,
		Platform:     req.Platform,
		Topic:        req.Topic,
		Request: map[string]any{
			"topic": req.Topic, "audience": req.Audience, "objective": req.Objective,
			"tone": req.Tone, "platform": string(req.Platform), "duration_s": durationS,
		},
		Variants: variants,
	}
	if len(variants) > 0 {
		batch.SelectedVariantID = variants[0].ID
	}
	return s.store.CreateVariantBatch(batch)
}

func (s *Service) GetVariantBatch(id string) (models.VariantBatch, bool) { return s.store.GetVariantBatch(id) }
func (s *Service) ListVariantBatches(userID string) []models.VariantBatch {
	return s.store.ListVariantBatches(userID)
}

// RescoreRequest is the input to rescore (E2).
type RescoreRequest struct {
	UserID                   string
	ScriptText               string
	Platform                 models.Platform
	DurationS                int
	RetentionPoints          []float64
	TrueShares, TrueSaves    *int64
	BaselineScore            *float64
	BaselineDetectorRankings []models.DetectorScore
}

// RescoreResult is E2's return shape.
type RescoreResult struct {
	ScoreBreakdown    models.ScoreBreakdown    `json:"score_breakdown"`
	DetectorRankings  []models.DetectorScore   `json:"detector_rankings"`
	NextActions       []models.NextAction      `json:"next_actions"`
	LineLevelEdits    []models.LineLevelEdit   `json:"line_level_edits"`
	ImprovementDiff   map[string]any           `json:"improvement_diff,omitempty"`
	FormatType        string                   `json:"format_type"`
	DurationSeconds   int                      `json:"duration_seconds"`
}

// Rescore implements E2.
func (s *Service) Rescore(ctx context.Context, req RescoreRequest) RescoreResult {
	durationS := clampDuration(req.Platform, req.DurationS)
	eval := s.evaluateScript(ctx, evalInput{
		userID:          req.UserID,
		scriptText:      req.ScriptText,
		platform:        req.Platform,
		durationS:       durationS,
		retentionPoints: req.RetentionPoints,
		trueShares:      req.TrueShares,
		trueSaves:       req.TrueSaves,
		wantLineEdits:   true,
	})

	result := RescoreResult{
		ScoreBreakdown:   eval.breakdown,
		DetectorRankings: eval.rankings,
		NextActions:      eval.nextActions,
		LineLevelEdits:   eval.lineEdits,
		FormatType:       eval.breakdown.FormatType,
		DurationSeconds:  durationS,
	}

	if req.BaselineScore != nil {
		diff := map[string]any{
			"combined": map[string]any{
				"before": *req.BaselineScore,
				"after":  eval.breakdown.Combined,
				"delta":  eval.breakdown.Combined - *req.BaselineScore,
			},
		}
		perDetector := make([]map[string]any, 0, len(eval.rankings))
		baselineByKey := make(map[string]float64, len(req.BaselineDetectorRankings))
		for _, d := range req.BaselineDetectorRankings {
			baselineByKey[d.Key] = d.Score
		}
		for _, d := range eval.rankings {
			entry := map[string]any{"detector_key": d.Key, "after_score": d.Score}
			if before, ok := baselineByKey[d.Key]; ok {
				entry["before_score"] = before
				entry["delta"] = d.Score - before
			}
			perDetector = append(perDetector, entry)
		}
		diff["detectors"] = perDetector
		result.ImprovementDiff = diff
	}
	return result
}

// CreateDraftSnapshot persists a rescored draft (E3).
func (s *Service) CreateDraftSnapshot(ctx context.Context, req RescoreRequest, sourceItemID, variantID string) (models.DraftSnapshot, error) {
	rescored := s.Rescore(ctx, req)
	snap := models.DraftSnapshot{
		UserID:           req.UserID,
		Platform:         req.Platform,
		SourceItemID:     sourceItemID,
		VariantID:        variantID,
		ScriptText:       req.ScriptText,
		BaselineScore:    req.BaselineScore,
		RescoredScore:    rescored.ScoreBreakdown.Combined,
		DetectorRankings: rescored.DetectorRankings,
		NextActions:      rescored.NextActions,
		LineLevelEdits:   rescored.LineLevelEdits,
	}
	if req.BaselineScore != nil {
		delta := rescored.ScoreBreakdown.Combined - *req.BaselineScore
		snap.DeltaScore = &delta
	}
	return s.store.CreateDraftSnapshot(snap)
}

func (s *Service) GetDraftSnapshot(id string) (models.DraftSnapshot, bool) { return s.store.GetDraftSnapshot(id) }
func (s *Service) ListDraftSnapshots(userID string) []models.DraftSnapshot {
	return s.store.ListDraftSnapshots(userID)
}
func (s *Service) LatestDraftSnapshot(userID string) (models.DraftSnapshot, bool) {
	return s.store.LatestDraftSnapshot(userID)
}

// --- E.core: evaluateScript --------------------------------------------

type evalInput struct {
	userID          string
	scriptText      string
	platform        models.Platform
	durationS       int
	retentionPoints []float64
	trueShares      *int64
	trueSaves       *int64
	wantLineEdits   bool
}

type evalOutput struct {
	breakdown   models.ScoreBreakdown
	rankings    []models.DetectorScore
	nextActions []models.NextAction
	lineEdits   []models.LineLevelEdit
}

type transcriptSegment struct {
	start, end float64
	text       string
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s*`)

// syntheticTranscript implements step 1.
func syntheticTranscript(script string, durationS int) (string, []transcriptSegment) {
	var lines []string
	if strings.Contains(script, "\n") {
		for _, l := range strings.Split(script, "\n") {
			l = strings.TrimSpace(l)
			if l != "" {
				lines = append(lines, l)
			}
		}
	} else {
		for _, l := range sentenceSplit.Split(script, -1) {
			l = strings.TrimSpace(l)
			if l != "" {
				lines = append(lines, l)
			}
		}
	}
	if len(lines) == 0 {
		lines = []string{strings.TrimSpace(script)}
	}

	tokenCounts := make([]int, len(lines))
	totalTokens := 0
	for i, l := range lines {
		n := len(strings.Fields(l))
		if n == 0 {
			n = 1
		}
		tokenCounts[i] = n
		totalTokens += n
	}

	minSeg := 1.5
	segments := make([]transcriptSegment, 0, len(lines))
	cursor := 0.0
	for i, l := range lines {
		share := float64(tokenCounts[i]) / float64(totalTokens)
		dur := math.Max(minSeg, share*float64(durationS))
		segments = append(segments, transcriptSegment{start: cursor, end: cursor + dur, text: l})
		cursor += dur
	}
	return strings.Join(lines, " "), segments
}

var hookWords = []string{"how", "why", "secret", "mistake", "stop", "boost", "grow"}
var proofPhrases = []string{"i tested", "i grew", "we tried", "proof", "results"}
var ctaStrongWords = []string{"comment", "save", "share", "follow", "subscribe"}
var ctaSoftWords = []string{"link", "bio", "description"}
var digitPattern = regexp.MustCompile(`\d`)

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

type multimodalAnalysis struct {
	hookScore, bodyScore, ctaScore, overall100 float64
}

// simulatedMultimodal implements step 2.
func simulatedMultimodal(segments []transcriptSegment, durationS int) multimodalAnalysis {
	firstLine := ""
	if len(segments) > 0 {
		firstLine = segments[0].text
	}
	fullText := ""
	for _, seg := range segments {
		fullText += seg.text + " "
	}

	hook := 58.0
	if containsAny(firstLine, hookWords) {
		hook += 12
	}
	if containsAny(fullText, proofPhrases) {
		hook += 14
	}
	if digitPattern.MatchString(fullText) {
		hook += 6
	}
	hook = math.Min(100, math.Max(0, hook))

	avgTokens := 0.0
	for _, seg := range segments {
		avgTokens += float64(len(strings.Fields(seg.text)))
	}
	if len(segments) > 0 {
		avgTokens /= float64(len(segments))
	}
	cadence := float64(len(segments)) / math.Max(float64(durationS)/15.0, 1)
	body := 50 + math.Min(avgTokens/2.5, 22) + math.Min(cadence*8, 18)
	body = math.Min(100, math.Max(0, body))

	cta := 42.0
	if containsAny(fullText, ctaStrongWords) {
		cta = 82
	} else if containsAny(fullText, ctaSoftWords) {
		cta = 74
	}

	overall := 0.45*hook + 0.35*body + 0.20*cta
	return multimodalAnalysis{hookScore: hook, bodyScore: body, ctaScore: cta, overall100: overall}
}

const (
	detectorTimeToValue       = "time_to_value"
	detectorOpenLoops         = "open_loops"
	detectorDeadZones         = "dead_zones"
	detectorPatternInterrupts = "pattern_interrupts"
	detectorCTAStyle          = "cta_style"
)

var detectorTargets = map[string]float64{
	detectorTimeToValue:       85,
	detectorOpenLoops:         75,
	detectorDeadZones:         85,
	detectorPatternInterrupts: 78,
	detectorCTAStyle:          85,
}

var detectorWeights = map[string]float64{
	detectorTimeToValue:       0.32,
	detectorOpenLoops:         0.16,
	detectorDeadZones:         0.22,
	detectorPatternInterrupts: 0.20,
	detectorCTAStyle:          0.10,
}

var claimWords = []string{"result", "proof", "tested", "grew", "works", "fix", "secret", "mistake"}
var teaserPhrases = []string{"in a second", "by the end", "stick around", "coming up"}
var transitionMarkers = []string{"but", "however", "step 1", "step one", "first,", "second,"}

func detectScores(fullText string, segments []transcriptSegment, durationS int) []models.DetectorScore {
	scores := make(map[string]float64)
	evidence := make(map[string][]string)

	// time_to_value: seconds until a claim/outcome word first appears.
	ttv := float64(durationS)
	for _, seg := range segments {
		if containsAny(seg.text, claimWords) {
			ttv = seg.start
			break
		}
	}
	ttvScore := math.Max(0, 100-ttv*6)
	scores[detectorTimeToValue] = ttvScore
	evidence[detectorTimeToValue] = []string{fmt.Sprintf("first outcome claim appears at %.1fs", ttv)}

	// open_loops: count of teaser phrases.
	loopCount := 0
	for _, p := range teaserPhrases {
		if strings.Contains(strings.ToLower(fullText), p) {
			loopCount++
		}
	}
	loopScore := math.Min(100, float64(loopCount)*35+40)
	scores[detectorOpenLoops] = loopScore
	evidence[detectorOpenLoops] = []string{fmt.Sprintf("%d teaser phrase(s) found", loopCount)}

	// dead_zones: windows >= 6s between segment ends with no content.
	deadCount := 0
	for i := 1; i < len(segments); i++ {
		if segments[i].start-segments[i-1].end >= 6 {
			deadCount++
		}
	}
	deadScore := math.Max(0, 100-float64(deadCount)*25)
	scores[detectorDeadZones] = deadScore
	evidence[detectorDeadZones] = []string{fmt.Sprintf("%d dead zone(s) >= 6s", deadCount)}

	// pattern_interrupts: transition markers relative to an ideal cadence.
	interruptCount := 0
	for _, p := range transitionMarkers {
		if strings.Contains(strings.ToLower(fullText), p) {
			interruptCount++
		}
	}
	idealInterrupts := math.Max(1, float64(durationS)/20.0)
	interruptRatio := float64(interruptCount) / idealInterrupts
	interruptScore := math.Min(100, interruptRatio*85)
	scores[detectorPatternInterrupts] = interruptScore
	evidence[detectorPatternInterrupts] = []string{fmt.Sprintf("%d transition/emphasis marker(s) vs ideal %.1f", interruptCount, idealInterrupts)}

	// cta_style: presence and uniqueness of a single CTA intent at the tail.
	ctaHits := 0
	tail := fullText
	if len(segments) > 0 {
		tail = segments[len(segments)-1].text
	}
	for _, w := range append(append([]string{}, ctaStrongWords...), ctaSoftWords...) {
		if strings.Contains(strings.ToLower(tail), w) {
			ctaHits++
		}
	}
	ctaScore := 40.0
	switch {
	case ctaHits == 1:
		ctaScore = 90
	case ctaHits > 1:
		ctaScore = 65
	}
	scores[detectorCTAStyle] = ctaScore
	evidence[detectorCTAStyle] = []string{fmt.Sprintf("%d CTA intent word(s) in closing line", ctaHits)}

	edits := map[string][]string{
		detectorTimeToValue:       {"Move the outcome/claim word into the first sentence."},
		detectorOpenLoops:         {"Add a teaser phrase ('by the end...') promising a payoff."},
		detectorDeadZones:         {"Trim or merge segments so no gap exceeds 6 seconds."},
		detectorPatternInterrupts: {"Insert a transition word or numbered step to reset attention."},
		detectorCTAStyle:         {"End with exactly one clear call to action."},
	}

	keys := []string{detectorTimeToValue, detectorOpenLoops, detectorDeadZones, detectorPatternInterrupts, detectorCTAStyle}
	out := make([]models.DetectorScore, 0, len(keys))
	for _, k := range keys {
		target := detectorTargets[k]
		score := math.Min(100, math.Max(0, scores[k]))
		gap := math.Max(0, target-score)
		out = append(out, models.DetectorScore{
			Key: k, Score: round2(score), TargetScore: target, Gap: round2(gap),
			Weight: detectorWeights[k], Evidence: evidence[k], Edits: edits[k],
		})
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// evaluateScript runs steps 1-9 of the pipeline (step 9's line edits only
// when wantLineEdits is set); Rescore adds step 10, the diff against the
// caller's baseline detector rankings.
func (s *Service) evaluateScript(ctx context.Context, in evalInput) evalOutput {
	fullText, segments := syntheticTranscript(in.scriptText, in.durationS)
	analysis := simulatedMultimodal(segments, in.durationS)
	detectors := detectScores(fullText, segments, in.durationS)

	detectorWeighted := 0.0
	for _, d := range detectors {
		detectorWeighted += d.Score * d.Weight
	}
	hookStrength := analysis.hookScore
	pacingStrength := analysis.bodyScore

	platformScore := 0.35*analysis.overall100 + 0.40*detectorWeighted + 0.15*hookStrength + 0.10*pacingStrength
	metricCoverage := "proxy"
	if len(in.retentionPoints) > 0 {
		sum := 0.0
		for _, r := range in.retentionPoints {
			sum += r
		}
		meanRetention := math.Min(100, math.Max(0, sum/float64(len(in.retentionPoints))))
		platformScore = 0.7*platformScore + 0.3*meanRetention
		metricCoverage = "true"
	}
	if in.trueShares != nil || in.trueSaves != nil {
		boost := 0.0
		if in.trueShares != nil {
			boost += math.Min(10, float64(*in.trueShares)/50)
		}
		if in.trueSaves != nil {
			boost += math.Min(10, float64(*in.trueSaves)/50)
		}
		platformScore = math.Min(100, platformScore+boost)
		metricCoverage = "true"
	}
	platformScore = math.Min(100, math.Max(0, platformScore))

	formatType := "long_form"
	if in.durationS <= 60 {
		formatType = "short_form"
	}

	// Step 5: competitor benchmark.
	competitors := s.store.ListCompetitors(in.userID, in.platform)
	competitorScore := 55.0
	hasCompetitorData := false
	sampleSize := 0
	if len(competitors) > 0 {
		hasCompetitorData = true
		sampleSize = len(competitors)
		avgSub := int64(0)
		for _, c := range competitors {
			avgSub += c.SubscriberCount
		}
		avgSub /= int64(len(competitors))
		difficulty := math.Min(40, float64(avgSub)/500000*40)
		competitorScore = math.Max(0, math.Min(100, platformScore-difficulty+20))
	}

	// Step 6: historical baseline.
	historical := s.store.ListOutcomeMetrics(in.userID, in.platform, 250)
	historicalReady := len(historical) >= 5
	historicalScore := 0.0
	if len(historical) > 0 {
		sum := 0.0
		for _, m := range historical {
			sum += m.ActualScore
		}
		historicalScore = sum / float64(len(historical))
	}

	// Step 7: combined.
	var combined float64
	if historicalReady {
		combined = 0.45*competitorScore + 0.35*platformScore + 0.20*historicalScore
	} else {
		combined = 0.55*competitorScore + 0.45*platformScore
	}
	combined = math.Min(100, math.Max(0, combined))

	benchConfidence := "low"
	if sampleSize >= 20 {
		benchConfidence = "high"
	} else if sampleSize >= 8 {
		benchConfidence = "medium"
	}
	histConfidence := "low"
	if historicalReady {
		if len(historical) >= 20 {
			histConfidence = "high"
		} else {
			histConfidence = "medium"
		}
	}
	confidence := minConfidence(benchConfidence, histConfidence)
	if !historicalReady && confidence == "high" {
		confidence = "medium"
	}

	breakdown := models.ScoreBreakdown{
		Combined: round2(combined), PlatformScore: round2(platformScore), CompetitorScore: round2(competitorScore),
		HistoricalScore: round2(historicalScore), Confidence: confidence, MetricCoverage: metricCoverage,
		FormatType: formatType, DurationSeconds: in.durationS, HasCompetitorData: hasCompetitorData,
		CompetitorSample: sampleSize, InsufficientHistory: !historicalReady,
	}

	// Step 8: rankings & next actions.
	ranked := append([]models.DetectorScore{}, detectors...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Gap != ranked[j].Gap {
			return ranked[i].Gap > ranked[j].Gap
		}
		return ranked[i].Weight > ranked[j].Weight
	})
	for i := range ranked {
		switch {
		case i < 2:
			ranked[i].Priority = "high"
		case i == 2:
			ranked[i].Priority = "medium"
		default:
			ranked[i].Priority = "low"
		}
		ranked[i].EstimatedLiftPoints = round2(ranked[i].Gap * ranked[i].Weight / 4)
	}

	nextActions := make([]models.NextAction, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		d := ranked[i]
		why := ""
		if len(d.Evidence) > 0 {
			why = d.Evidence[0]
		}
		nextActions = append(nextActions, models.NextAction{
			Title: fmt.Sprintf("Improve %s", strings.ReplaceAll(d.Key, "_", " ")),
			DetectorKey: d.Key, Priority: d.Priority, Why: why,
			ExpectedLiftPoints: d.EstimatedLiftPoints, ExecutionSteps: d.Edits,
		})
	}

	out := evalOutput{breakdown: breakdown, rankings: ranked, nextActions: nextActions}
	if in.wantLineEdits {
		out.lineEdits = lineLevelEdits(ranked, segments, formatType)
	}
	return out
}

func minConfidence(a, b string) string {
	rank := map[string]int{"low": 0, "medium": 1, "high": 2}
	if rank[a] < rank[b] {
		return a
	}
	return b
}

// lineLevelEdits implements step 9, picking the offending line per detector
// key per spec's fixed selection rule.
func lineLevelEdits(ranked []models.DetectorScore, segments []transcriptSegment, formatType string) []models.LineLevelEdit {
	if len(segments) == 0 {
		return nil
	}
	pickLine := func(key string) int {
		switch key {
		case detectorTimeToValue, detectorCTAStyle:
			return 0
		case detectorOpenLoops:
			if len(segments) > 1 {
				return 1
			}
			return 0
		case detectorDeadZones:
			longest, idx := 0, 0
			for i, seg := range segments {
				if l := len(seg.text); l > longest {
					longest, idx = l, i
				}
			}
			return idx
		case detectorPatternInterrupts:
			return len(segments) / 2
		default:
			return 0
		}
	}

	cadenceTarget := "a transition every ~20s"
	if formatType == "short_form" {
		cadenceTarget = "a transition every ~8-10s"
	}

	edits := make([]models.LineLevelEdit, 0, 5)
	for i := 0; i < len(ranked) && i < 5; i++ {
		d := ranked[i]
		idx := pickLine(d.Key)
		if idx >= len(segments) {
			idx = len(segments) - 1
		}
		original := segments[idx].text
		suggested := original
		reason := d.Key
		switch d.Key {
		case detectorTimeToValue:
			suggested = "Here's what actually worked: " + original
			reason = "surfaces the outcome claim immediately"
		case detectorOpenLoops:
			suggested = original + " (stick around, there's more by the end)"
			reason = "adds a teaser to open a loop"
		case detectorDeadZones:
			suggested = original + " — cut or merge this with the next beat"
			reason = "closes a gap wider than 6 seconds"
		case detectorPatternInterrupts:
			suggested = "But here's the part most people miss: " + original
			reason = fmt.Sprintf("adds a transition to hit %s", cadenceTarget)
		case detectorCTAStyle:
			suggested = "Follow for more like this."
			reason = "narrows the close to a single CTA intent"
		}
		edits = append(edits, models.LineLevelEdit{
			DetectorKey: d.Key, Priority: d.Priority, LineNumber: idx + 1,
			OriginalLine: original, SuggestedLine: suggested, Reason: reason,
		})
	}
	return edits
}
