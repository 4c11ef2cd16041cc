package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"pulsebench/internal/auth"
	"pulsebench/internal/research"
)

const maxCSVUploadBytes = 6 * 1024 * 1024

type importURLRequest struct {
	UserID       string `json:"user_id,omitempty"`
	Platform     string `json:"platform,omitempty"`
	URL          string `json:"url" validate:"required"`
}

// ImportURL handles POST /research/import_url.
func (h *Handler) ImportURL(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req importURLRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	item, err := h.Research.ImportURL(r.Context(), userID, req.Platform, req.URL)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

type captureRequest struct {
	UserID             string          `json:"user_id,omitempty"`
	Platform           string          `json:"platform,omitempty"`
	URL                string          `json:"url" validate:"required"`
	ExternalID         string          `json:"external_id,omitempty"`
	CreatorHandle      string          `json:"creator_handle,omitempty"`
	CreatorDisplayName string          `json:"creator_display_name,omitempty"`
	Title              string          `json:"title,omitempty"`
	Caption            string          `json:"caption,omitempty"`
	PublishedAt        *string         `json:"published_at,omitempty"`
	Metrics            captureMetrics  `json:"metrics"`
	MediaMeta          map[string]any  `json:"media_meta,omitempty"`
}

type captureMetrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Saves    int64 `json:"saves"`
}

// Capture handles POST /research/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req captureRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	publishedAt := parsePublishedAt(req.PublishedAt)
	payload := research.CapturePayload{
		Platform: req.Platform, URL: req.URL, ExternalID: req.ExternalID,
		CreatorHandle: req.CreatorHandle, CreatorDisplayName: req.CreatorDisplayName,
		Title: req.Title, Caption: req.Caption, PublishedAt: publishedAt,
		MediaMeta: req.MediaMeta,
	}
	payload.Metrics.Views = req.Metrics.Views
	payload.Metrics.Likes = req.Metrics.Likes
	payload.Metrics.Comments = req.Metrics.Comments
	payload.Metrics.Shares = req.Metrics.Shares
	payload.Metrics.Saves = req.Metrics.Saves

	item, err := h.Research.Capture(r.Context(), userID, payload)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// ImportCSV handles POST /research/import_csv, a multipart file upload.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCSVUploadBytes)
	if err := r.ParseMultipartForm(maxCSVUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("invalid multipart upload"))
		return
	}
	if err := auth.CheckScope(userID, r.FormValue("user_id")); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("file is required"))
		return
	}
	defer closeMultipart(file)
	content, err := readAllLimited(file, maxCSVUploadBytes)
	if err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("could not read uploaded file"))
		return
	}
	result, err := h.Research.ImportCSV(r.Context(), userID, r.FormValue("platform"), content)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func closeMultipart(f multipart.File) { _ = f.Close() }

// Search handles POST /research/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req struct {
		UserID        string `json:"user_id,omitempty"`
		Platform      string `json:"platform,omitempty"`
		Timeframe     string `json:"timeframe,omitempty"`
		Query         string `json:"query,omitempty"`
		SortBy        string `json:"sort_by,omitempty"`
		SortDirection string `json:"sort_direction,omitempty"`
		Page          int    `json:"page,omitempty"`
		Limit         int    `json:"limit,omitempty"`
	}
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result := h.Research.Search(userID, research.SearchFilters{
		Platform: req.Platform, Timeframe: req.Timeframe, Query: req.Query,
		SortBy: req.SortBy, SortDirection: req.SortDirection, Page: req.Page, Limit: req.Limit,
	})
	WriteJSON(w, http.StatusOK, result)
}

// ListCollections handles GET /research/collections.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Store.ListCollections(userID))
}

// GetResearchItem handles GET /research/items/{id}.
func (h *Handler) GetResearchItem(w http.ResponseWriter, r *http.Request, itemID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	item, ok := h.Store.GetResearchItem(itemID)
	if !ok || item.UserID != userID {
		WriteError(w, http.StatusNotFound, NotFound("research item not found"))
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

type exportRequest struct {
	UserID       string `json:"user_id,omitempty"`
	CollectionID string `json:"collection_id" validate:"required"`
	Format       string `json:"format,omitempty"`
}

// Export handles POST /research/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req exportRequest
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

// DownloadExport handles GET /research/export/{id}/download?token=...
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request, exportID string) {
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

func parsePublishedAt(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, max+1))
}
