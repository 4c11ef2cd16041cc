// Package feedloop implements the Feed-Loop Orchestrator (spec §4.H): the
// five-stage Discover -> RepostPackage -> ScriptVariant/DraftSnapshot ->
// Audit -> Outcome state machine sitting on top of the Research Corpus.
// Grounded on original_source/apps/api/services/feed_discovery.py's
// trending-score math, mode-match rules, auto-ingest scheduler and repost
// package builder, reusing internal/research's sort/paginate conventions and
// internal/credits/internal/optimizer/internal/audit for the delegated
// stages.
package feedloop

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/audit"
	"pulsebench/internal/credits"
	"pulsebench/internal/models"
	"pulsebench/internal/optimizer"
	"pulsebench/internal/storage"
)

// Service orchestrates the feed loop over the Research Corpus, delegating
// scoring/audit/credit work to the already-built domain services.
type Service struct {
	store     storage.Repository
	optimizer *optimizer.Service
	audit     *audit.Service
	ledger    *credits.Ledger
	now       func() time.Time
}

func New(store storage.Repository, opt *optimizer.Service, aud *audit.Service, ledger *credits.Ledger) *Service {
	return &Service{store: store, optimizer: opt, audit: aud, ledger: ledger, now: func() time.Time { return time.Now().UTC() }}
}

var allowedSortKeys = map[string]bool{
	"trending_score": true, "engagement_rate": true, "views_per_hour": true,
	"views": true, "likes": true, "comments": true, "shares": true, "saves": true,
	"posted_at": true, "created_at": true,
}

var timeframeWindows = map[models.Timeframe]time.Duration{
	models.Timeframe24h: 24 * time.Hour,
	models.Timeframe7d:  7 * 24 * time.Hour,
	models.Timeframe30d: 30 * 24 * time.Hour,
	models.Timeframe90d: 90 * 24 * time.Hour,
}

var followCadenceMinutes = map[string]int{
	"15m": 15, "1h": 60, "3h": 180, "6h": 360, "12h": 720, "24h": 1440,
}

var repostDurationTargets = map[models.Platform]int{
	models.PlatformYouTube: 34, models.PlatformInstagram: 28, models.PlatformTikTok: 24,
}

var repostHookDeadlines = map[models.Platform]int{
	models.PlatformYouTube: 3, models.PlatformInstagram: 2, models.PlatformTikTok: 2,
}

var topicStopwords = map[string]bool{
	"the": true, "and": true, "with": true, "from": true, "that": true, "this": true,
	"your": true, "for": true, "are": true, "you": true, "how": true, "why": true,
	"what": true, "when": true, "into": true, "about": true, "news": true, "video": true,
}

var (
	hashtagRe = regexp.MustCompile(`#([a-zA-Z0-9_]+)`)
	tokenRe   = regexp.MustCompile(`[a-zA-Z0-9]{3,}`)
)

func normalizeText(s string) string { return strings.TrimSpace(s) }

func extractHashtags(text string) map[string]bool {
	out := map[string]bool{}
	for _, m := range hashtagRe.FindAllStringSubmatch(strings.ToLower(text), -1) {
		out[m[1]] = true
	}
	return out
}

func extractTopicKeywords(text string, limit int) []string {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	seen := map[string]bool{}
	var out []string
	for _, tok := range tokens {
		if topicStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// itemRow is the computed discovery/search projection of one ResearchItem.
type itemRow struct {
	Item            models.ResearchItem
	EngagementRate  float64
	ViewsPerHour    float64
	TrendingScore   float64
}

func searchBlob(item models.ResearchItem) string {
	return strings.ToLower(strings.Join([]string{
		item.URL, item.Title, item.Caption, item.CreatorHandle, item.CreatorDisplayName,
	}, " "))
}

func publishedReference(item models.ResearchItem) time.Time {
	if item.PublishedAt != nil {
		return item.PublishedAt.UTC()
	}
	return item.CreatedAt.UTC()
}

func engagementRate(m models.Metrics) float64 {
	views := m.Views
	if views < 1 {
		views = 1
	}
	return float64(m.Likes+m.Comments+m.Shares+m.Saves) / float64(views)
}

func viewsPerHour(views int64, ref time.Time, now time.Time) float64 {
	ageHours := now.Sub(ref).Hours()
	if ageHours < 1 {
		ageHours = 1
	}
	return float64(views) / ageHours
}

func recencyDecay(ref time.Time, now time.Time) float64 {
	ageHours := now.Sub(ref).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / 120.0)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func trendingScore(m models.Metrics, viewsPerHr, engagement float64, ref time.Time, now time.Time) float64 {
	velocitySignal := clip01(viewsPerHr / 10000.0)
	engagementSignal := clip01(engagement * 4.0)
	views := m.Views
	if views < 1 {
		views = 1
	}
	shareSaveSignal := clip01(float64(m.Shares+m.Saves) / float64(views) * 8.0)
	recencySignal := clip01(recencyDecay(ref, now))
	score := (0.35*velocitySignal + 0.25*engagementSignal + 0.20*shareSaveSignal + 0.20*recencySignal) * 100.0
	return round2(score)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func (s *Service) projectItem(item models.ResearchItem) itemRow {
	now := s.now()
	ref := publishedReference(item)
	rate := engagementRate(item.Metrics)
	velocity := viewsPerHour(item.Metrics.Views, ref, now)
	return itemRow{
		Item:           item,
		EngagementRate: round4(rate),
		ViewsPerHour:   round2(velocity),
		TrendingScore:  trendingScore(item.Metrics, velocity, rate, ref, now),
	}
}

func modeMatch(item models.ResearchItem, mode models.FollowMode, query string) bool {
	blob := searchBlob(item)
	switch mode {
	case models.FollowModeProfile:
		return strings.Contains(strings.ToLower(item.CreatorHandle), query) ||
			strings.Contains(strings.ToLower(item.CreatorDisplayName), query)
	case models.FollowModeHashtag:
		hashtags := extractHashtags(blob)
		normalized := strings.TrimPrefix(query, "#")
		return hashtags[normalized]
	case models.FollowModeAudio:
		meta := item.MediaMeta
		audioBlob := strings.ToLower(strings.Join([]string{
			stringField(meta, "audio_id"), stringField(meta, "audio_title"),
			stringField(meta, "sound_id"), stringField(meta, "sound_title"),
			stringField(meta, "music"), blob,
		}, " "))
		return strings.Contains(audioBlob, query)
	default: // keyword
		return strings.Contains(blob, query)
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func timeframeCutoff(tf models.Timeframe, now time.Time) (time.Time, bool) {
	window, ok := timeframeWindows[tf]
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-window), true
}

func metricValue(item models.ResearchItem, key string) int64 {
	switch key {
	case "views":
		return item.Metrics.Views
	case "likes":
		return item.Metrics.Likes
	case "comments":
		return item.Metrics.Comments
	case "shares":
		return item.Metrics.Shares
	case "saves":
		return item.Metrics.Saves
	}
	return 0
}

func sortRows(rows []itemRow, sortBy, sortDirection string) []itemRow {
	key := sortBy
	if !allowedSortKeys[key] {
		key = "trending_score"
	}
	desc := strings.ToLower(sortDirection) != "asc"

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Item.ID < rows[j].Item.ID
	})

	less := func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch key {
		case "views", "likes", "comments", "shares", "saves":
			return metricValue(a.Item, key) < metricValue(b.Item, key)
		case "engagement_rate":
			return a.EngagementRate < b.EngagementRate
		case "views_per_hour":
			return a.ViewsPerHour < b.ViewsPerHour
		case "posted_at":
			return publishedReference(a.Item).Before(publishedReference(b.Item))
		case "created_at":
			return a.Item.CreatedAt.Before(b.Item.CreatedAt)
		default: // trending_score
			return a.TrendingScore < b.TrendingScore
		}
	}
	if desc {
		sort.SliceStable(rows, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(rows, less)
	}
	return rows
}

func paginate(rows []itemRow, page, limit int) (paged []itemRow, resolvedPage, resolvedLimit, total int, hasMore bool) {
	p := page
	if p < 1 {
		p = 1
	}
	l := limit
	if l < 1 {
		l = 20
	}
	if l > 100 {
		l = 100
	}
	total = len(rows)
	start := (p - 1) * l
	end := start + l
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return rows[start:end], p, l, total, end < total
}

// DiscoverFilters is the input to Discover/Search.
type DiscoverFilters struct {
	Platform      models.Platform
	Mode          models.FollowMode
	Query         string
	Timeframe     models.Timeframe
	SortBy        string
	SortDirection string
	Page          int
	Limit         int
}

// DiscoverResult is the paginated, scored projection returned by Discover.
type DiscoverResult struct {
	Platform     models.Platform
	Mode         models.FollowMode
	Query        string
	Timeframe    models.Timeframe
	Page         int
	Limit        int
	TotalCount   int
	HasMore      bool
	Items        []itemRow
}

func (s *Service) baseRows(userID string, platform models.Platform, timeframe models.Timeframe) []models.ResearchItem {
	now := s.now()
	items := s.store.ListResearchItems(userID)
	cutoff, hasCutoff := timeframeCutoff(timeframe, now)
	out := make([]models.ResearchItem, 0, len(items))
	for _, item := range items {
		if platform != "" && item.Platform != platform {
			continue
		}
		if hasCutoff && publishedReference(item).Before(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Discover implements discover(platform, mode, query, timeframe, sort, page,
// limit): a required query, mode-matched against the research corpus.
func (s *Service) Discover(userID string, f DiscoverFilters) (DiscoverResult, error) {
	if f.Platform == "" {
		return DiscoverResult{}, apierrors.ValidationError("platform must be youtube, instagram, or tiktok")
	}
	query := strings.ToLower(normalizeText(f.Query))
	if query == "" {
		return DiscoverResult{}, apierrors.ValidationError("query is required for feed discovery")
	}
	timeframe := f.Timeframe
	if timeframe == "" {
		timeframe = models.Timeframe7d
	}

	base := s.baseRows(userID, f.Platform, timeframe)
	var rows []itemRow
	for _, item := range base {
		if modeMatch(item, f.Mode, query) {
			rows = append(rows, s.projectItem(item))
		}
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "trending_score"
	}
	sortDirection := f.SortDirection
	if sortDirection == "" {
		sortDirection = "desc"
	}
	rows = sortRows(rows, sortBy, sortDirection)
	paged, page, limit, total, hasMore := paginate(rows, f.Page, f.Limit)

	s.recordEvent(userID, "feed_discover", "ok", f.Platform, "", map[string]any{
		"mode": string(f.Mode), "query": truncate(query, 80), "result_count": total,
	})
	return DiscoverResult{
		Platform: f.Platform, Mode: f.Mode, Query: normalizeText(f.Query), Timeframe: timeframe,
		Page: page, Limit: limit, TotalCount: total, HasMore: hasMore, Items: paged,
	}, nil
}

// Search implements search_feed_items: platform/mode are both optional,
// timeframe defaults to "all" (no cutoff).
func (s *Service) Search(userID string, f DiscoverFilters) DiscoverResult {
	timeframe := f.Timeframe
	if timeframe == "" {
		timeframe = models.TimeframeAll
	}
	base := s.baseRows(userID, f.Platform, timeframe)
	query := strings.ToLower(normalizeText(f.Query))

	var rows []itemRow
	for _, item := range base {
		switch {
		case query != "" && f.Mode != "":
			if modeMatch(item, f.Mode, query) {
				rows = append(rows, s.projectItem(item))
			}
		case query != "":
			if strings.Contains(searchBlob(item), query) {
				rows = append(rows, s.projectItem(item))
			}
		default:
			rows = append(rows, s.projectItem(item))
		}
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "trending_score"
	}
	sortDirection := f.SortDirection
	if sortDirection == "" {
		sortDirection = "desc"
	}
	rows = sortRows(rows, sortBy, sortDirection)
	paged, page, limit, total, hasMore := paginate(rows, f.Page, f.Limit)

	s.recordEvent(userID, "feed_search", "ok", f.Platform, "", map[string]any{
		"mode": string(f.Mode), "query": truncate(query, 80), "result_count": total,
	})
	return DiscoverResult{
		Platform: f.Platform, Mode: f.Mode, Query: normalizeText(f.Query), Timeframe: timeframe,
		Page: page, Limit: limit, TotalCount: total, HasMore: hasMore, Items: paged,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Service) recordEvent(userID, eventName, status string, platform models.Platform, sourceItemID string, details map[string]any) {
	_ = s.store.AppendTelemetryEvent(models.FeedTelemetryEvent{
		UserID: userID, EventName: truncate(eventName, 80), Status: status,
		Platform: platform, SourceItemID: sourceItemID, Details: details,
	})
}

// --- Follows / auto-ingest scheduler ---

func normalizedCadenceMinutes(cadence string, cadenceMinutes int) int {
	if cadenceMinutes > 0 {
		if cadenceMinutes < 15 {
			return 15
		}
		if cadenceMinutes > 24*60 {
			return 24 * 60
		}
		return cadenceMinutes
	}
	if m, ok := followCadenceMinutes[strings.ToLower(cadence)]; ok {
		return m
	}
	return followCadenceMinutes["6h"]
}

// UpsertFollowRequest is the input to UpsertFollow.
type UpsertFollowRequest struct {
	Platform       models.Platform
	Mode           models.FollowMode
	Query          string
	Timeframe      models.Timeframe
	SortBy         string
	SortDirection  string
	Limit          int
	Cadence        string
	CadenceMinutes int
	IsActive       bool
}

// UpsertFollow implements upsert_feed_follow_service: matches on
// (user, platform, mode, query) to decide create vs update.
func (s *Service) UpsertFollow(userID string, req UpsertFollowRequest) (models.FeedSourceFollow, bool, error) {
	if req.Platform == "" {
		return models.FeedSourceFollow{}, false, apierrors.ValidationError("platform must be youtube, instagram, or tiktok")
	}
	query := strings.ToLower(normalizeText(req.Query))
	if query == "" {
		return models.FeedSourceFollow{}, false, apierrors.ValidationError("query is required")
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = models.Timeframe7d
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "trending_score"
	}
	if !allowedSortKeys[sortBy] {
		return models.FeedSourceFollow{}, false, apierrors.ValidationError("sort_by is invalid")
	}
	sortDirection := strings.ToLower(req.SortDirection)
	if sortDirection == "" {
		sortDirection = "desc"
	}
	if sortDirection != "asc" && sortDirection != "desc" {
		return models.FeedSourceFollow{}, false, apierrors.ValidationError("sort_direction must be asc or desc")
	}
	limit := req.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	cadenceMinutes := normalizedCadenceMinutes(req.Cadence, req.CadenceMinutes)

	now := s.now()
	var nextRunAt *time.Time
	if req.IsActive {
		t := now.Add(time.Duration(cadenceMinutes) * time.Minute)
		nextRunAt = &t
	}
	follow := models.FeedSourceFollow{
		UserID: userID, Platform: req.Platform, Mode: req.Mode, Query: query,
		Timeframe: timeframe, SortBy: sortBy, SortDirection: sortDirection,
		Limit: limit, CadenceMinutes: cadenceMinutes, IsActive: req.IsActive, NextRunAt: nextRunAt,
	}
	result, created, err := s.store.UpsertFollow(follow)
	if err != nil {
		return models.FeedSourceFollow{}, false, err
	}
	s.recordEvent(userID, "feed_follow_upsert", statusLabel(created), req.Platform, "", map[string]any{
		"mode": string(req.Mode), "query": truncate(query, 80), "cadence_minutes": cadenceMinutes, "is_active": req.IsActive,
	})
	return result, created, nil
}

func statusLabel(created bool) string {
	if created {
		return "created"
	}
	return "updated"
}

func (s *Service) ListFollows(userID string) []models.FeedSourceFollow {
	return s.store.ListFollows(userID)
}

func (s *Service) DeleteFollow(userID, followID string) error {
	follow, ok := s.store.GetFollow(followID)
	if !ok || follow.UserID != userID {
		return apierrors.NotFound("feed follow not found")
	}
	if err := s.store.DeleteFollow(followID); err != nil {
		return err
	}
	s.recordEvent(userID, "feed_follow_delete", "ok", follow.Platform, "", map[string]any{"follow_id": followID})
	return nil
}

// runFollowIngest executes one discovery pass for a follow and records the
// run, never raising — errors are captured on the run/follow rows.
func (s *Service) runFollowIngest(follow models.FeedSourceFollow) models.FeedAutoIngestRun {
	now := s.now()
	run, _ := s.store.CreateAutoIngestRun(models.FeedAutoIngestRun{
		FollowID: follow.ID, UserID: follow.UserID, Status: models.RunStatusRunning, StartedAt: now,
	})

	result, err := s.Discover(follow.UserID, DiscoverFilters{
		Platform: follow.Platform, Mode: follow.Mode, Query: follow.Query, Timeframe: follow.Timeframe,
		SortBy: follow.SortBy, SortDirection: follow.SortDirection, Page: 1, Limit: follow.Limit,
	})

	completedAt := s.now()
	nextRun := completedAt.Add(time.Duration(maxInt(follow.CadenceMinutes, 15)) * time.Minute)

	if err != nil {
		run, _ = s.store.UpdateAutoIngestRun(run.ID, func(r *models.FeedAutoIngestRun) {
			r.Status = models.RunStatusFailed
			r.ErrorMessage = truncate(err.Error(), 1000)
			r.CompletedAt = &completedAt
		})
		s.store.UpdateFollow(follow.ID, func(f *models.FeedSourceFollow) {
			f.LastRunAt = &now
			f.NextRunAt = &nextRun
			f.LastError = truncate(err.Error(), 500)
		})
		return run
	}

	ids := make([]string, 0, len(result.Items))
	for _, row := range result.Items {
		ids = append(ids, row.Item.ID)
	}
	if len(ids) > 100 {
		ids = ids[:100]
	}
	run, _ = s.store.UpdateAutoIngestRun(run.ID, func(r *models.FeedAutoIngestRun) {
		r.Status = models.RunStatusCompleted
		r.ItemCount = len(ids)
		r.ItemIDs = ids
		r.CompletedAt = &completedAt
	})
	s.store.UpdateFollow(follow.ID, func(f *models.FeedSourceFollow) {
		f.LastRunAt = &now
		f.NextRunAt = &nextRun
		f.LastError = ""
	})
	return run
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RunFollowIngestResult summarizes a manual or scheduled ingest sweep.
type RunFollowIngestResult struct {
	ScheduledCount int
	CompletedCount int
	FailedCount    int
	Runs           []models.FeedAutoIngestRun
}

// RunFollowIngest implements the manual run(follow_ids?, run_due_only?) path.
func (s *Service) RunFollowIngest(userID string, followIDs []string, runDueOnly bool, maxFollows int) RunFollowIngestResult {
	now := s.now()
	follows := s.store.ListFollows(userID)
	var candidates []models.FeedSourceFollow
	idSet := map[string]bool{}
	for _, id := range followIDs {
		if id != "" {
			idSet[id] = true
		}
	}
	for _, f := range follows {
		if !f.IsActive {
			continue
		}
		if len(idSet) > 0 && !idSet[f.ID] {
			continue
		}
		if runDueOnly && (f.NextRunAt == nil || f.NextRunAt.After(now)) {
			continue
		}
		candidates = append(candidates, f)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return nextRunOrNow(candidates[i], now).Before(nextRunOrNow(candidates[j], now))
	})

	limit := maxFollows
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var runs []models.FeedAutoIngestRun
	completed, failed := 0, 0
	for _, f := range candidates {
		run := s.runFollowIngest(f)
		runs = append(runs, run)
		if run.Status == models.RunStatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	return RunFollowIngestResult{ScheduledCount: len(candidates), CompletedCount: completed, FailedCount: failed, Runs: runs}
}

func nextRunOrNow(f models.FeedSourceFollow, now time.Time) time.Time {
	if f.NextRunAt != nil {
		return *f.NextRunAt
	}
	return now
}

// RunDueAutoIngest is the periodic scheduler entrypoint invoked by the
// background ticker across all users.
func (s *Service) RunDueAutoIngest(maxFollows int) RunFollowIngestResult {
	now := s.now()
	due := s.store.DueFollows(now)
	sort.SliceStable(due, func(i, j int) bool {
		return nextRunOrNow(due[i], now).Before(nextRunOrNow(due[j], now))
	})
	limit := maxFollows
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	if len(due) > limit {
		due = due[:limit]
	}
	var runs []models.FeedAutoIngestRun
	completed, failed := 0, 0
	for _, f := range due {
		run := s.runFollowIngest(f)
		runs = append(runs, run)
		if run.Status == models.RunStatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	return RunFollowIngestResult{ScheduledCount: len(due), CompletedCount: completed, FailedCount: failed, Runs: runs}
}

func (s *Service) ListAutoIngestRuns(userID string, limit int) []models.FeedAutoIngestRun {
	runs := append([]models.FeedAutoIngestRun{}, s.store.ListAutoIngestRuns(userID)...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit < 1 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

// --- Repost packaging ---

var defaultHashtagsByPlatform = map[models.Platform][]string{
	models.PlatformYouTube:   {"shorts", "creatorgrowth", "contentstrategy"},
	models.PlatformInstagram: {"reels", "contenttips", "creatorbusiness"},
	models.PlatformTikTok:    {"tiktoktips", "viralhooks", "creatorjourney"},
}

var ctaByPlatform = map[models.Platform]string{
	models.PlatformYouTube:   "Comment 'PLAN' and I'll share the exact checklist.",
	models.PlatformInstagram: "Save this Reel and share it with your content partner.",
	models.PlatformTikTok:    "Follow for part 2 where I break down the full posting workflow.",
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range items {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (s *Service) buildRepostPackage(item models.ResearchItem, targets []models.Platform) models.RepostPackagePayload {
	transcript := stringField(item.MediaMeta, "transcript_text")
	sourceText := strings.TrimSpace(strings.Join([]string{item.Title, item.Caption, transcript}, " "))
	keywords := extractTopicKeywords(sourceText, 4)
	primaryTopic := "content growth"
	if len(keywords) > 0 {
		primaryTopic = keywords[0]
	}
	views := item.Metrics.Views
	if views < 1000 {
		views = 1000
	}
	proofPhrase := fmt.Sprintf("%d views", views)

	hooks := []models.RepostHookVariant{
		{Key: "outcome_proof", Text: fmt.Sprintf("I tested this %s structure and it drove %s.", primaryTopic, proofPhrase)},
		{Key: "curiosity_gap", Text: fmt.Sprintf("Most creators miss this %s move, and it quietly kills retention.", primaryTopic)},
		{Key: "contrarian_take", Text: fmt.Sprintf("Stop over-editing %s videos. This simpler format performs better.", primaryTopic)},
	}

	captionHashtags := extractHashtags(item.Caption)
	captionHashtagList := make([]string, 0, len(captionHashtags))
	for tag := range captionHashtags {
		captionHashtagList = append(captionHashtagList, tag)
	}
	sort.Strings(captionHashtagList)

	platforms := map[string]models.RepostSubPackage{}
	for _, platform := range targets {
		defaults := defaultHashtagsByPlatform[platform]
		if defaults == nil {
			defaults = []string{"creatorgrowth"}
		}
		combined := dedupe(append(append([]string{}, captionHashtagList...), defaults...))
		if len(combined) > 6 {
			combined = combined[:6]
		}
		hashtagLine := ""
		tagged := make([]string, 0, len(combined))
		for _, tag := range combined {
			tagged = append(tagged, "#"+tag)
		}
		hashtagLine = strings.Join(tagged, " ")

		cta := ctaByPlatform[platform]
		if cta == "" {
			cta = "Follow for the next breakdown."
		}
		durationTarget := repostDurationTargets[platform]
		if durationTarget == 0 {
			durationTarget = 28
		}
		hookDeadline := repostHookDeadlines[platform]
		if hookDeadline == 0 {
			hookDeadline = 2
		}
		caption := fmt.Sprintf(
			"%s Step 1: Start with the proof. Step 2: Show one tactical move. Step 3: End with a single CTA. %s %s",
			hooks[0].Text, cta, hashtagLine,
		)
		platforms[string(platform)] = models.RepostSubPackage{
			DurationTargetS: durationTarget,
			HookDeadlineS:   hookDeadline,
			FirstFrameText:  truncate(hooks[0].Text, 80),
			Caption:         strings.TrimSpace(caption),
			CTALine:         cta,
			Hashtags:        tagged,
			EditDirectives: []string{
				"Open with motion + headline text in the first second.",
				"Add one pattern interrupt every 2-3 seconds.",
				"Place strongest proof visual before the halfway point.",
			},
		}
	}

	return models.RepostPackagePayload{HookVariants: hooks, Platforms: platforms}
}

func normalizeTargetPlatforms(targets []models.Platform) []models.Platform {
	if len(targets) == 0 {
		return []models.Platform{models.PlatformYouTube, models.PlatformInstagram, models.PlatformTikTok}
	}
	out := make([]models.Platform, 0, len(targets))
	seen := map[models.Platform]bool{}
	for _, p := range targets {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return []models.Platform{models.PlatformYouTube, models.PlatformInstagram, models.PlatformTikTok}
	}
	return out
}

// CreateRepostPackage implements create_feed_repost_package_service.
func (s *Service) CreateRepostPackage(userID, sourceItemID string, targetPlatforms []models.Platform) (models.FeedRepostPackage, error) {
	if sourceItemID == "" {
		return models.FeedRepostPackage{}, apierrors.ValidationError("source_item_id is required")
	}
	item, ok := s.store.GetResearchItem(sourceItemID)
	if !ok || item.UserID != userID {
		return models.FeedRepostPackage{}, apierrors.NotFound("feed source item not found")
	}
	targets := normalizeTargetPlatforms(targetPlatforms)
	payload := s.buildRepostPackage(item, targets)

	pkg, err := s.store.CreateRepostPackage(models.FeedRepostPackage{
		UserID: userID, SourceItemID: item.ID, Status: models.RepostDraft,
		TargetPlatforms: targets, Package: payload,
	})
	if err != nil {
		return models.FeedRepostPackage{}, err
	}
	s.recordEvent(userID, "feed_repost_package_created", "ok", item.Platform, item.ID, map[string]any{
		"target_platform_count": len(targets),
	})
	return pkg, nil
}

func (s *Service) ListRepostPackages(userID, sourceItemID string) []models.FeedRepostPackage {
	packages := s.store.ListRepostPackages(userID)
	var out []models.FeedRepostPackage
	for _, p := range packages {
		if sourceItemID != "" && p.SourceItemID != sourceItemID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) GetRepostPackage(userID, packageID string) (models.FeedRepostPackage, error) {
	pkg, ok := s.store.GetRepostPackage(packageID)
	if !ok || pkg.UserID != userID {
		return models.FeedRepostPackage{}, apierrors.NotFound("feed repost package not found")
	}
	return pkg, nil
}

// UpdateRepostPackageStatus implements the free any-to-any status lattice.
func (s *Service) UpdateRepostPackageStatus(userID, packageID string, status models.RepostStatus) (models.FeedRepostPackage, error) {
	switch status {
	case models.RepostDraft, models.RepostScheduled, models.RepostPublished, models.RepostArchived:
	default:
		return models.FeedRepostPackage{}, apierrors.ValidationError("status must be one of draft, scheduled, published, archived")
	}
	pkg, err := s.store.UpdateRepostPackageStatus(packageID, userID, status)
	if err != nil {
		return models.FeedRepostPackage{}, apierrors.NotFound("feed repost package not found")
	}
	s.recordEvent(userID, "feed_repost_package_status", string(status), "", pkg.SourceItemID, map[string]any{"package_id": packageID})
	return pkg, nil
}

// --- Variant generation delegation ---

func inferLoopTopic(item models.ResearchItem) string {
	blob := strings.TrimSpace(strings.Join([]string{item.Title, item.Caption, stringField(item.MediaMeta, "transcript_text")}, " "))
	tokens := extractTopicKeywords(blob, 5)
	if len(tokens) > 0 {
		n := tokens
		if len(n) > 3 {
			n = n[:3]
		}
		return strings.Join(n, " ")
	}
	if item.Title != "" {
		return truncate(item.Title, 90)
	}
	return "content strategy"
}

func inferLoopAudience(item models.ResearchItem) string {
	handle := strings.TrimPrefix(item.CreatorHandle, "@")
	if handle != "" {
		return "creators similar to " + handle
	}
	return "solo creators"
}

func inferLoopObjective(item models.ResearchItem) string {
	if item.Metrics.Shares+item.Metrics.Saves > item.Metrics.Comments {
		return "increase shares and saves"
	}
	return "increase watch retention and comments"
}

// VariantGenerateResult bundles the delegated optimizer batch with loop
// bookkeeping.
type VariantGenerateResult struct {
	SourceItemID string
	Platform     models.Platform
	Topic        string
	Audience     string
	Objective    string
	Batch        models.VariantBatch
	Charge       credits.ConsumeResult
}

// VariantGenerate implements variant_generate(source_item_id): infers
// topic/audience/objective/platform from the source item, debits credits,
// and delegates to the Optimizer Scoring Engine.
func (s *Service) VariantGenerate(ctx context.Context, userID, sourceItemID string, platform models.Platform, tone string, durationS int) (VariantGenerateResult, error) {
	item, ok := s.store.GetResearchItem(sourceItemID)
	if !ok || item.UserID != userID {
		return VariantGenerateResult{}, apierrors.NotFound("feed source item not found")
	}
	if platform == "" {
		platform = item.Platform
	}
	topic := inferLoopTopic(item)
	audience := inferLoopAudience(item)
	objective := inferLoopObjective(item)
	if tone == "" {
		tone = "bold"
	}

	cost := s.ledger.Costs().OptimizerVariants
	charge, err := s.ledger.Consume(userID, cost, "Feed loop variant generation", "feed_loop_variant_generate", sourceItemID)
	if err != nil {
		return VariantGenerateResult{}, err
	}

	batch, err := s.optimizer.GenerateVariants(ctx, optimizer.GenerateVariantsRequest{
		UserID: userID, SourceItemID: sourceItemID, Platform: platform,
		Topic: topic, Audience: audience, Objective: objective, Tone: tone, DurationS: durationS,
	})
	if err != nil {
		return VariantGenerateResult{}, err
	}

	s.store.UpdateResearchItem(item.ID, func(it *models.ResearchItem) {
		meta := it.MediaMeta
		if meta == nil {
			meta = map[string]any{}
		}
		meta["loop_last_variant_batch_at"] = s.now().Format(time.RFC3339)
		meta["loop_last_variant_count"] = len(batch.Variants)
		it.MediaMeta = meta
	})
	s.recordEvent(userID, "feed_loop_variant_generate", "ok", platform, sourceItemID, map[string]any{
		"variant_count": len(batch.Variants), "charged": charge.Charged,
	})
	return VariantGenerateResult{
		SourceItemID: sourceItemID, Platform: platform, Topic: topic, Audience: audience, Objective: objective,
		Batch: batch, Charge: charge,
	}, nil
}

// --- Audit delegation ---

// resolveSourceUploadForAudit finds the most recent completed
// MediaDownloadJob + Upload pair for this item, preferring the job recorded
// in media_meta.feed_download_job_id.
func (s *Service) resolveSourceUploadForAudit(userID string, item models.ResearchItem) (uploadID, uploadPath, downloadJobID string, err error) {
	var candidates []models.MediaDownloadJob
	if jobID := stringField(item.MediaMeta, "feed_download_job_id"); jobID != "" {
		if job, ok := s.store.GetMediaDownloadJob(jobID); ok && job.UserID == userID {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 && item.URL != "" {
		if job, ok := s.store.LatestMediaDownloadJobForSourceURL(userID, item.URL); ok {
			candidates = append(candidates, job)
		}
	}
	var selected *models.MediaDownloadJob
	for i := range candidates {
		c := candidates[i]
		if c.Status == models.MediaJobCompleted && c.UploadID != "" {
			selected = &c
			break
		}
	}
	if selected == nil {
		return "", "", "", apierrors.Conflict(
			"no completed feed download found for this item; run the bulk download and wait for completion before starting audit",
		)
	}
	upload, ok := s.store.GetUpload(selected.UploadID)
	if !ok || upload.UserID != userID || upload.FileType != "video" || upload.FileURL == "" {
		return "", "", "", apierrors.NotFound("upload for feed download is missing")
	}
	return upload.ID, upload.FileURL, selected.ID, nil
}

// AuditResult bundles the delegated audit row with loop bookkeeping.
type AuditResult struct {
	Audit      models.Audit
	UploadID   string
	SourceItem string
	Charge     credits.ConsumeResult
}

// Audit implements audit(source_item_id): requires a completed download +
// upload, debits credits, creates a pending upload-mode Audit, and refunds +
// fails on enqueue failure.
func (s *Service) Audit(ctx context.Context, userID, sourceItemID string) (AuditResult, error) {
	item, ok := s.store.GetResearchItem(sourceItemID)
	if !ok || item.UserID != userID {
		return AuditResult{}, apierrors.NotFound("feed source item not found")
	}
	uploadID, uploadPath, downloadJobID, err := s.resolveSourceUploadForAudit(userID, item)
	if err != nil {
		return AuditResult{}, err
	}

	charge, err := s.ledger.Consume(userID, s.ledger.Costs().AuditRun, "Feed loop audit run", "feed_loop_audit", sourceItemID)
	if err != nil {
		return AuditResult{}, err
	}

	created, err := s.audit.CreateAudit(ctx, userID, models.AuditInput{
		UploadPath: uploadPath, UploadID: uploadID, SourceItemID: sourceItemID, PlatformHint: string(item.Platform),
	})
	if err != nil {
		if charge.Charged > 0 {
			s.ledger.Refund(userID, charge.Charged, "feed_loop_audit", sourceItemID)
		}
		return AuditResult{}, err
	}

	s.store.UpdateResearchItem(item.ID, func(it *models.ResearchItem) {
		meta := it.MediaMeta
		if meta == nil {
			meta = map[string]any{}
		}
		meta["loop_last_audit_id"] = created.ID
		meta["loop_last_audit_at"] = s.now().Format(time.RFC3339)
		it.MediaMeta = meta
	})
	s.recordEvent(userID, "feed_loop_audit_start", "ok", item.Platform, sourceItemID, map[string]any{
		"audit_id": created.ID, "upload_id": uploadID, "charged": charge.Charged, "download_job_id": downloadJobID,
	})
	return AuditResult{Audit: created, UploadID: uploadID, SourceItem: sourceItemID, Charge: charge}, nil
}

// --- Loop summary ---

// StageCompletion reports which of the five loop stages have artifacts.
type StageCompletion struct {
	Discovered bool
	Packaged   bool
	Scripted   bool
	Audited    bool
	Reported   bool
}

// LoopSummary is the response to summary(source_item_id).
type LoopSummary struct {
	SourceItem           models.ResearchItem
	LatestRepostPackage  *models.FeedRepostPackage
	LatestDraftSnapshot  *models.DraftSnapshot
	LatestAudit          *models.Audit
	StageCompletion      StageCompletion
	NextStep             string
}

func latestByCreatedAt[T any](rows []T, createdAt func(T) time.Time) *T {
	if len(rows) == 0 {
		return nil
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if createdAt(r).After(createdAt(best)) {
			best = r
		}
	}
	return &best
}

// Summary implements get_feed_loop_summary_service.
func (s *Service) Summary(userID, sourceItemID string) (LoopSummary, error) {
	item, ok := s.store.GetResearchItem(sourceItemID)
	if !ok || item.UserID != userID {
		return LoopSummary{}, apierrors.NotFound("feed source item not found")
	}

	packages := s.ListRepostPackages(userID, sourceItemID)
	latestPackage := latestByCreatedAt(packages, func(p models.FeedRepostPackage) time.Time { return p.CreatedAt })

	var snapshots []models.DraftSnapshot
	for _, snap := range s.store.ListDraftSnapshots(userID) {
		if snap.SourceItemID == sourceItemID {
			snapshots = append(snapshots, snap)
		}
	}
	latestSnapshot := latestByCreatedAt(snapshots, func(d models.DraftSnapshot) time.Time { return d.CreatedAt })

	var audits []models.Audit
	for _, a := range s.store.ListAudits(userID) {
		if a.InputJSON.SourceItemID == sourceItemID {
			audits = append(audits, a)
		}
	}
	latestAudit := latestByCreatedAt(audits, func(a models.Audit) time.Time { return a.CreatedAt })

	completion := StageCompletion{
		Discovered: true,
		Packaged:   latestPackage != nil,
		Scripted:   latestSnapshot != nil,
		Audited:    latestAudit != nil,
		Reported:   latestAudit != nil && latestAudit.Status == models.AuditCompleted,
	}
	var nextStep string
	switch {
	case !completion.Packaged:
		nextStep = "Generate a repost package."
	case !completion.Scripted:
		nextStep = "Generate AI variants and save a draft snapshot."
	case !completion.Audited:
		nextStep = "Run feed loop audit from downloaded upload."
	case !completion.Reported:
		nextStep = "Wait for audit completion and open report."
	default:
		nextStep = "Log post outcomes to continue calibration."
	}

	s.recordEvent(userID, "feed_loop_summary_view", "ok", item.Platform, sourceItemID, map[string]any{
		"packaged": completion.Packaged, "scripted": completion.Scripted,
		"audited": completion.Audited, "reported": completion.Reported,
	})
	return LoopSummary{
		SourceItem: item, LatestRepostPackage: latestPackage, LatestDraftSnapshot: latestSnapshot,
		LatestAudit: latestAudit, StageCompletion: completion, NextStep: nextStep,
	}, nil
}

// --- Telemetry ---

// EventVolume summarizes telemetry events observed in a lookback window.
type EventVolume struct {
	Total      int
	ByEvent    map[string]int
	ByStatus   map[string]int
	ErrorCount int
}

// Funnel reports stage counts and stage-to-stage conversion percentages.
type Funnel struct {
	DiscoveredCount       int
	PackagedCount         int
	ScriptedCount         int
	AuditedCount          int
	ReportedCount         int
	DiscoverToPackagePct  float64
	PackageToScriptPct    float64
	ScriptToAuditPct      float64
	AuditToReportPct      float64
}

// TelemetrySummary is the response to telemetry/summary(days).
type TelemetrySummary struct {
	WindowDays int
	Events     EventVolume
	Funnel     Funnel
}

func ratio(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return round2(float64(numerator) / float64(denominator) * 100.0)
}

// TelemetrySummaryFor implements get_feed_telemetry_summary_service.
func (s *Service) TelemetrySummaryFor(userID string, days int) TelemetrySummary {
	lookback := days
	if lookback < 1 {
		lookback = 1
	}
	if lookback > 90 {
		lookback = 90
	}
	cutoff := s.now().AddDate(0, 0, -lookback)
	events := s.store.ListTelemetryEvents(userID, cutoff)

	byEvent := map[string]int{}
	byStatus := map[string]int{}
	errorCount := 0
	for _, e := range events {
		byEvent[e.EventName]++
		byStatus[e.Status]++
		if e.Status == "error" || e.Status == "failed" {
			errorCount++
		}
	}

	discovered := map[string]bool{}
	for _, item := range s.store.ListResearchItems(userID) {
		discovered[item.ID] = true
	}
	packaged := map[string]bool{}
	for _, p := range s.store.ListRepostPackages(userID) {
		if p.SourceItemID != "" {
			packaged[p.SourceItemID] = true
		}
	}
	scripted := map[string]bool{}
	for _, d := range s.store.ListDraftSnapshots(userID) {
		if d.SourceItemID != "" {
			scripted[d.SourceItemID] = true
		}
	}
	audited := map[string]bool{}
	reported := map[string]bool{}
	for _, a := range s.store.ListAudits(userID) {
		id := a.InputJSON.SourceItemID
		if id == "" {
			continue
		}
		audited[id] = true
		if a.Status == models.AuditCompleted {
			reported[id] = true
		}
	}

	discoveredCount, packagedCount, scriptedCount := len(discovered), len(packaged), len(scripted)
	auditedCount, reportedCount := len(audited), len(reported)

	return TelemetrySummary{
		WindowDays: lookback,
		Events: EventVolume{
			Total: len(events), ByEvent: byEvent, ByStatus: byStatus, ErrorCount: errorCount,
		},
		Funnel: Funnel{
			DiscoveredCount: discoveredCount, PackagedCount: packagedCount, ScriptedCount: scriptedCount,
			AuditedCount: auditedCount, ReportedCount: reportedCount,
			DiscoverToPackagePct: ratio(packagedCount, discoveredCount),
			PackageToScriptPct:   ratio(scriptedCount, packagedCount),
			ScriptToAuditPct:     ratio(auditedCount, scriptedCount),
			AuditToReportPct:     ratio(reportedCount, auditedCount),
		},
	}
}

// ListTelemetryEvents implements list_feed_telemetry_events_service.
func (s *Service) ListTelemetryEvents(userID string, days, limit int, eventName, status string) []models.FeedTelemetryEvent {
	lookback := days
	if lookback < 1 {
		lookback = 1
	}
	if lookback > 90 {
		lookback = 90
	}
	cutoff := s.now().AddDate(0, 0, -lookback)
	events := s.store.ListTelemetryEvents(userID, cutoff)
	var out []models.FeedTelemetryEvent
	for _, e := range events {
		if eventName != "" && e.EventName != eventName {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	maxLimit := limit
	if maxLimit < 1 {
		maxLimit = 20
	}
	if maxLimit > 200 {
		maxLimit = 200
	}
	if len(out) > maxLimit {
		out = out[:maxLimit]
	}
	return out
}
