package api

import (
	"net/http"

	"pulsebench/internal/auth"
	"pulsebench/internal/feedloop"
	"pulsebench/internal/models"
)

type discoverRequest struct {
	UserID        string `json:"user_id,omitempty"`
	Platform      string `json:"platform"`
	Mode          string `json:"mode,omitempty"`
	Query         string `json:"query,omitempty"`
	Timeframe     string `json:"timeframe,omitempty"`
	SortBy        string `json:"sort_by,omitempty"`
	SortDirection string `json:"sort_direction,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func (req discoverRequest) filters() feedloop.DiscoverFilters {
	return feedloop.DiscoverFilters{
		Platform: models.Platform(req.Platform), Mode: models.FollowMode(req.Mode), Query: req.Query,
		Timeframe: models.Timeframe(req.Timeframe), SortBy: req.SortBy, SortDirection: req.SortDirection,
		Page: req.Page, Limit: req.Limit,
	}
}

// Discover handles POST /feed/discover.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req discoverRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result, err := h.FeedLoop.Discover(userID, req.filters())
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// FeedSearch handles POST /feed/search.
func (h *Handler) FeedSearch(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req discoverRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.FeedLoop.Search(userID, req.filters()))
}

type favoriteToggleRequest struct {
	UserID string `json:"user_id,omitempty"`
	ItemID string `json:"item_id" validate:"required"`
}

// FavoritesToggle handles POST /feed/favorites/toggle. Favorite status is
// not a first-class ResearchItem field; it is tracked as a boolean in the
// item's media_meta, the same free-form bag already used for thumbnail and
// transcript bookkeeping.
func (h *Handler) FavoritesToggle(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req favoriteToggleRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	item, ok := h.Store.GetResearchItem(req.ItemID)
	if !ok || item.UserID != userID {
		WriteError(w, http.StatusNotFound, NotFound("feed item not found"))
		return
	}
	var nowFavorite bool
	updated, err := h.Store.UpdateResearchItem(req.ItemID, func(it *models.ResearchItem) {
		meta := it.MediaMeta
		if meta == nil {
			meta = map[string]any{}
		}
		current, _ := meta["favorite"].(bool)
		nowFavorite = !current
		meta["favorite"] = nowFavorite
		it.MediaMeta = meta
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"item_id": updated.ID, "favorite": nowFavorite})
}

type collectionsAssignRequest struct {
	UserID       string `json:"user_id,omitempty"`
	ItemID       string `json:"item_id" validate:"required"`
	CollectionID string `json:"collection_id" validate:"required"`
}

// CollectionsAssign handles POST /feed/collections/assign.
func (h *Handler) CollectionsAssign(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req collectionsAssignRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	item, err := h.Store.ReassignCollection(req.ItemID, userID, req.CollectionID)
	if err != nil {
		WriteError(w, http.StatusNotFound, NotFound("feed item or collection not found"))
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

type itemIDsRequest struct {
	UserID  string   `json:"user_id,omitempty"`
	ItemIDs []string `json:"item_ids" validate:"required"`
}

// DownloadBulk handles POST /feed/download/bulk: enqueues a media download
// job per item, skipping items this user does not own.
func (h *Handler) DownloadBulk(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req itemIDsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	jobs := make([]models.MediaDownloadJob, 0, len(req.ItemIDs))
	failures := make([]map[string]string, 0)
	for _, itemID := range req.ItemIDs {
		item, ok := h.Store.GetResearchItem(itemID)
		if !ok || item.UserID != userID || item.URL == "" {
			failures = append(failures, map[string]string{"item_id": itemID, "error": "feed item not found or missing url"})
			continue
		}
		job, err := h.Media.EnqueueDownload(r.Context(), userID, item.Platform, item.URL)
		if err != nil {
			failures = append(failures, map[string]string{"item_id": itemID, "error": err.Error()})
			continue
		}
		h.Store.UpdateResearchItem(itemID, func(it *models.ResearchItem) {
			meta := it.MediaMeta
			if meta == nil {
				meta = map[string]any{}
			}
			meta["feed_download_job_id"] = job.ID
			it.MediaMeta = meta
		})
		jobs = append(jobs, job)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "failures": failures})
}

// DownloadStatus handles POST /feed/download/status.
func (h *Handler) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req itemIDsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	jobs := make([]models.MediaDownloadJob, 0, len(req.ItemIDs))
	for _, jobID := range req.ItemIDs {
		job, ok := h.Store.GetMediaDownloadJob(jobID)
		if ok && job.UserID == userID {
			jobs = append(jobs, job)
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// TranscriptsBulk handles POST /feed/transcripts/bulk.
func (h *Handler) TranscriptsBulk(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req itemIDsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	jobs := make([]models.FeedTranscriptJob, 0, len(req.ItemIDs))
	failures := make([]map[string]string, 0)
	for _, itemID := range req.ItemIDs {
		job, err := h.Media.EnqueueTranscript(r.Context(), userID, itemID)
		if err != nil {
			failures = append(failures, map[string]string{"item_id": itemID, "error": err.Error()})
			continue
		}
		jobs = append(jobs, job)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "failures": failures})
}

// TranscriptsStatus handles POST /feed/transcripts/status.
func (h *Handler) TranscriptsStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req itemIDsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	jobs := make([]models.FeedTranscriptJob, 0, len(req.ItemIDs))
	for _, jobID := range req.ItemIDs {
		job, ok := h.Store.GetTranscriptJob(jobID)
		if ok && job.UserID == userID {
			jobs = append(jobs, job)
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type upsertFollowRequest struct {
	UserID         string `json:"user_id,omitempty"`
	Platform       string `json:"platform" validate:"required"`
	Mode           string `json:"mode,omitempty"`
	Query          string `json:"query" validate:"required"`
	Timeframe      string `json:"timeframe,omitempty"`
	SortBy         string `json:"sort_by,omitempty"`
	SortDirection  string `json:"sort_direction,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Cadence        string `json:"cadence,omitempty"`
	CadenceMinutes int    `json:"cadence_minutes,omitempty"`
	IsActive       bool   `json:"is_active"`
}

// FollowsUpsert handles POST /feed/follows/upsert.
func (h *Handler) FollowsUpsert(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req upsertFollowRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	follow, created, err := h.FeedLoop.UpsertFollow(userID, feedloop.UpsertFollowRequest{
		Platform: models.Platform(req.Platform), Mode: models.FollowMode(req.Mode), Query: req.Query,
		Timeframe: models.Timeframe(req.Timeframe), SortBy: req.SortBy, SortDirection: req.SortDirection,
		Limit: req.Limit, Cadence: req.Cadence, CadenceMinutes: req.CadenceMinutes, IsActive: req.IsActive,
	})
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, follow)
}

// ListFollows handles GET /feed/follows.
func (h *Handler) ListFollows(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.FeedLoop.ListFollows(userID))
}

// DeleteFollow handles DELETE /feed/follows/{id}.
func (h *Handler) DeleteFollow(w http.ResponseWriter, r *http.Request, followID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	if err := h.FeedLoop.DeleteFollow(userID, followID); err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type followsIngestRequest struct {
	UserID     string   `json:"user_id,omitempty"`
	FollowIDs  []string `json:"follow_ids,omitempty"`
	RunDueOnly bool     `json:"run_due_only,omitempty"`
	MaxFollows int      `json:"max_follows,omitempty"`
}

// FollowsIngest handles POST /feed/follows/ingest.
func (h *Handler) FollowsIngest(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req followsIngestRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result := h.FeedLoop.RunFollowIngest(userID, req.FollowIDs, req.RunDueOnly, req.MaxFollows)
	WriteJSON(w, http.StatusOK, result)
}

// FollowsRuns handles GET /feed/follows/runs.
func (h *Handler) FollowsRuns(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	WriteJSON(w, http.StatusOK, h.FeedLoop.ListAutoIngestRuns(userID, limit))
}

type repostPackageRequest struct {
	UserID          string   `json:"user_id,omitempty"`
	SourceItemID    string   `json:"source_item_id" validate:"required"`
	TargetPlatforms []string `json:"target_platforms,omitempty"`
}

// RepostPackageCreate handles POST /feed/repost/package.
func (h *Handler) RepostPackageCreate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req repostPackageRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	targets := make([]models.Platform, 0, len(req.TargetPlatforms))
	for _, p := range req.TargetPlatforms {
		targets = append(targets, models.Platform(p))
	}
	pkg, err := h.FeedLoop.CreateRepostPackage(userID, req.SourceItemID, targets)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pkg)
}

// RepostPackagesList handles GET /feed/repost/packages.
func (h *Handler) RepostPackagesList(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.FeedLoop.ListRepostPackages(userID, r.URL.Query().Get("source_item_id")))
}

// RepostPackageGet handles GET /feed/repost/packages/{id}.
func (h *Handler) RepostPackageGet(w http.ResponseWriter, r *http.Request, packageID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	pkg, err := h.FeedLoop.GetRepostPackage(userID, packageID)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pkg)
}

type repostStatusRequest struct {
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status" validate:"required"`
}

// RepostPackageSetStatus handles POST /feed/repost/packages/{id}/status.
func (h *Handler) RepostPackageSetStatus(w http.ResponseWriter, r *http.Request, packageID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req repostStatusRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	pkg, err := h.FeedLoop.UpdateRepostPackageStatus(userID, packageID, models.RepostStatus(req.Status))
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pkg)
}

type loopVariantGenerateRequest struct {
	UserID       string `json:"user_id,omitempty"`
	SourceItemID string `json:"source_item_id" validate:"required"`
	Platform     string `json:"platform,omitempty"`
	Tone         string `json:"tone,omitempty"`
	DurationS    int    `json:"duration_seconds,omitempty"`
}

// LoopVariantGenerate handles POST /feed/loop/variant_generate.
func (h *Handler) LoopVariantGenerate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req loopVariantGenerateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result, err := h.FeedLoop.VariantGenerate(r.Context(), userID, req.SourceItemID, models.Platform(req.Platform), req.Tone, req.DurationS)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type loopAuditRequest struct {
	UserID       string `json:"user_id,omitempty"`
	SourceItemID string `json:"source_item_id" validate:"required"`
}

// LoopAudit handles POST /feed/loop/audit.
func (h *Handler) LoopAudit(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req loopAuditRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result, err := h.FeedLoop.Audit(r.Context(), userID, req.SourceItemID)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// LoopSummary handles GET /feed/loop/summary?source_item_id=...
func (h *Handler) LoopSummary(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	sourceItemID := r.URL.Query().Get("source_item_id")
	summary, err := h.FeedLoop.Summary(userID, sourceItemID)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// TelemetrySummary handles GET /feed/telemetry/summary?days=...
func (h *Handler) TelemetrySummary(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	days := queryInt(r, "days", 7)
	WriteJSON(w, http.StatusOK, h.FeedLoop.TelemetrySummaryFor(userID, days))
}

// TelemetryEvents handles GET /feed/telemetry/events?days=&limit=&event_name=&status=
func (h *Handler) TelemetryEvents(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 20)
	events := h.FeedLoop.ListTelemetryEvents(userID, days, limit, r.URL.Query().Get("event_name"), r.URL.Query().Get("status"))
	WriteJSON(w, http.StatusOK, events)
}

type feedExportRequest struct {
	UserID       string `json:"user_id,omitempty"`
	CollectionID string `json:"collection_id" validate:"required"`
	Format       string `json:"format,omitempty"`
}

// FeedExport handles POST /feed/export. Feed items live in the same
// research item/collection tables research handles its own exports from, so
// this delegates straight to h.Research.Export rather than duplicating the
// file-writing logic in a dedicated feedloop method.
func (h *Handler) FeedExport(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req feedExportRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	format := req.Format
	if format == "" {
		format = "csv"
	}
	result, err := h.Research.Export(userID, req.CollectionID, format)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// FeedExportDownload handles GET /feed/export/{id}/download?token=...
func (h *Handler) FeedExportDownload(w http.ResponseWriter, r *http.Request, exportID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	token := r.URL.Query().Get("token")
	path, format, err := h.Research.ResolveExportFile(userID, exportID, token)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	contentType := "text/csv"
	if format == "json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+exportID+"."+format+"\"")
	http.ServeFile(w, r, path)
}
