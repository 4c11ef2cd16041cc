// Package research implements the Research Corpus (spec §4.G): canonical
// cross-platform ResearchItem storage, the three ingestion paths
// (importUrl/capture/importCsv), free-text/platform/timeframe search with
// pagination, and collection export behind a short-lived HMAC-signed
// download URL. Grounded on
// original_source/apps/api/services/research.py's platform/external-id
// inference regexes, its timeframe-window table, and its CSV/JSON export
// shape.
package research

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/models"
	"pulsebench/internal/platformclient"
	"pulsebench/internal/storage"
)

const (
	maxCSVBytes     = 5 * 1024 * 1024
	exportTokenTTL  = 30 * time.Minute
	exportTokenPurp = "research_export"
)

var allowedSortKeys = map[string]bool{
	"created_at": true, "posted_at": true, "views": true, "likes": true,
	"comments": true, "shares": true, "saves": true,
}

var timeframeWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Service implements ingestion, search, and export over the Research Corpus.
type Service struct {
	store      storage.Repository
	platform   *platformclient.Client
	exportDir  string
	jwtSecret  []byte
}

func New(store storage.Repository, platform *platformclient.Client, exportDir, jwtSecret string) *Service {
	if exportDir == "" {
		exportDir = filepath.Join(os.TempDir(), "research_exports")
	}
	return &Service{store: store, platform: platform, exportDir: exportDir, jwtSecret: []byte(jwtSecret)}
}

// --- platform/external-id/creator-handle inference ---

var (
	ytVidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:v=)([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:youtu\.be/)([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:shorts/)([A-Za-z0-9_-]{11})`),
	}
	igIDRe        = regexp.MustCompile(`/(?:reel|p)/([A-Za-z0-9_-]+)`)
	ttIDRe        = regexp.MustCompile(`/video/([0-9]+)`)
	igHandleRe    = regexp.MustCompile(`instagram\.com/([A-Za-z0-9._]+)/`)
	ttHandleRe    = regexp.MustCompile(`tiktok\.com/@([A-Za-z0-9._-]+)`)
	ytHandleRe    = regexp.MustCompile(`youtube\.com/@([A-Za-z0-9._-]+)`)
)

// InferPlatform prefers an explicit hint, then falls back to the URL domain.
func InferPlatform(hint, url string) (models.Platform, error) {
	p := models.Platform(strings.ToLower(strings.TrimSpace(hint)))
	if p.Valid() {
		return p, nil
	}
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "instagram.com"):
		return models.PlatformInstagram, nil
	case strings.Contains(lower, "tiktok.com"):
		return models.PlatformTikTok, nil
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return models.PlatformYouTube, nil
	default:
		return "", apierrors.ValidationError("unable to infer platform; provide platform explicitly")
	}
}

func extractExternalID(platform models.Platform, url string) string {
	switch platform {
	case models.PlatformYouTube:
		for _, re := range ytVidPatterns {
			if m := re.FindStringSubmatch(url); m != nil {
				return m[1]
			}
		}
	case models.PlatformInstagram:
		if m := igIDRe.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	case models.PlatformTikTok:
		if m := ttIDRe.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractCreatorHandle(platform models.Platform, url string) string {
	var re *regexp.Regexp
	switch platform {
	case models.PlatformInstagram:
		re = igHandleRe
	case models.PlatformTikTok:
		re = ttHandleRe
	case models.PlatformYouTube:
		re = ytHandleRe
	default:
		return ""
	}
	if m := re.FindStringSubmatch(url); m != nil {
		return "@" + m[1]
	}
	return ""
}

// ImportURL infers platform, optionally enriches YouTube items via
// internal/platformclient, and writes a manual_url ResearchItem.
func (s *Service) ImportURL(ctx context.Context, userID, platformHint, rawURL string) (models.ResearchItem, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return models.ResearchItem{}, apierrors.BadRequest("url is required")
	}
	platform, err := InferPlatform(platformHint, url)
	if err != nil {
		return models.ResearchItem{}, err
	}
	collection, err := s.store.EnsureDefaultCollection(userID, platform)
	if err != nil {
		return models.ResearchItem{}, fmt.Errorf("research: ensure default collection: %w", err)
	}

	externalID := extractExternalID(platform, url)
	creatorHandle := extractCreatorHandle(platform, url)
	item := models.ResearchItem{
		UserID: userID, CollectionID: collection.ID, Platform: platform,
		SourceType: models.SourceManualURL, URL: url, ExternalID: externalID,
		CreatorHandle: creatorHandle, CreatorDisplayName: creatorHandle,
		MediaMeta: map[string]any{"import_mode": "manual_url"},
	}

	if platform == models.PlatformYouTube && externalID != "" && s.platform != nil {
		if meta, err := s.platform.FetchVideoMetadata(ctx, externalID); err == nil {
			item.Title = meta.Title
			item.Caption = meta.Description
			item.Metrics = models.Metrics{Views: meta.Views, Likes: meta.Likes, Comments: meta.Comments}
			item.MediaMeta["thumbnail_url"] = meta.ThumbnailURL
			item.MediaMeta["duration_seconds"] = meta.DurationS
		}
	}

	return s.store.CreateResearchItem(item)
}

// CapturePayload is the structured browser-bookmarklet capture body.
type CapturePayload struct {
	Platform           string
	URL                string
	ExternalID         string
	CreatorHandle      string
	CreatorDisplayName string
	Title              string
	Caption            string
	PublishedAt        *time.Time
	Metrics            models.Metrics
	MediaMeta          map[string]any
}

// Capture writes a browser_capture ResearchItem from an already-structured payload.
func (s *Service) Capture(ctx context.Context, userID string, payload CapturePayload) (models.ResearchItem, error) {
	platform, err := InferPlatform(payload.Platform, payload.URL)
	if err != nil {
		return models.ResearchItem{}, err
	}
	collection, err := s.store.EnsureDefaultCollection(userID, platform)
	if err != nil {
		return models.ResearchItem{}, fmt.Errorf("research: ensure default collection: %w", err)
	}

	externalID := payload.ExternalID
	if externalID == "" {
		externalID = extractExternalID(platform, payload.URL)
	}
	creatorHandle := payload.CreatorHandle
	if creatorHandle == "" {
		creatorHandle = extractCreatorHandle(platform, payload.URL)
	}
	displayName := payload.CreatorDisplayName
	if displayName == "" {
		displayName = creatorHandle
	}

	item := models.ResearchItem{
		UserID: userID, CollectionID: collection.ID, Platform: platform,
		SourceType: models.SourceBrowserCapture, URL: payload.URL, ExternalID: externalID,
		CreatorHandle: creatorHandle, CreatorDisplayName: displayName,
		Title: payload.Title, Caption: payload.Caption, Metrics: payload.Metrics,
		MediaMeta: payload.MediaMeta, PublishedAt: payload.PublishedAt,
	}
	return s.store.CreateResearchItem(item)
}

// CSVImportResult summarizes an importCsv call.
type CSVImportResult struct {
	ImportedCount int
	FailedRows    []CSVRowFailure
	CollectionID  string
}

type CSVRowFailure struct {
	Row   int
	Error string
}

// ImportCSV creates a new non-system collection and inserts one ResearchItem
// per CSV row. Rejects files over 5 MiB (spec §4.G).
func (s *Service) ImportCSV(ctx context.Context, userID, platformHint string, content []byte) (CSVImportResult, error) {
	if len(content) > maxCSVBytes {
		return CSVImportResult{}, apierrors.BadRequest("CSV file too large; max 5MB")
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return CSVImportResult{}, apierrors.BadRequest(fmt.Sprintf("invalid CSV: %v", err))
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	get := func(row []string, key string) string {
		if i, ok := colIndex[key]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	collPlatform := models.Platform(strings.ToLower(strings.TrimSpace(platformHint)))
	if !collPlatform.Valid() {
		collPlatform = models.PlatformYouTube
	}
	collection, err := s.store.CreateCollection(userID, fmt.Sprintf("CSV Import %s", time.Now().UTC().Format("2006-01-02 15:04")), collPlatform, false)
	if err != nil {
		return CSVImportResult{}, fmt.Errorf("research: create csv collection: %w", err)
	}

	result := CSVImportResult{CollectionID: collection.ID}
	rowNum := 1
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rowNum++

		rowURL := get(row, "url")
		if rowURL == "" {
			rowURL = get(row, "video_url")
		}
		rowPlatformHint := platformHint
		if rowPlatformHint == "" {
			rowPlatformHint = get(row, "platform")
		}
		platform, err := InferPlatform(rowPlatformHint, rowURL)
		if err != nil {
			result.FailedRows = append(result.FailedRows, CSVRowFailure{Row: rowNum, Error: "could not infer platform"})
			continue
		}

		externalID := get(row, "external_id")
		if externalID == "" {
			externalID = get(row, "video_external_id")
		}
		if externalID == "" {
			externalID = extractExternalID(platform, rowURL)
		}
		creatorHandle := get(row, "creator_handle")
		if creatorHandle == "" {
			creatorHandle = extractCreatorHandle(platform, rowURL)
		}
		caption := get(row, "caption")
		if caption == "" {
			caption = get(row, "description")
		}

		item := models.ResearchItem{
			UserID: userID, CollectionID: collection.ID, Platform: platform,
			SourceType: models.SourceCSVImport, URL: rowURL, ExternalID: externalID,
			CreatorHandle: creatorHandle, Title: get(row, "title"), Caption: caption,
			Metrics: models.Metrics{
				Views: parseInt64(get(row, "views")), Likes: parseInt64(get(row, "likes")),
				Comments: parseInt64(get(row, "comments")), Shares: parseInt64(get(row, "shares")),
				Saves: parseInt64(get(row, "saves")),
			},
			MediaMeta:   map[string]any{"thumbnail_url": get(row, "thumbnail_url")},
			PublishedAt: parseTimestamp(get(row, "published_at")),
		}
		if _, err := s.store.CreateResearchItem(item); err != nil {
			result.FailedRows = append(result.FailedRows, CSVRowFailure{Row: rowNum, Error: err.Error()})
			continue
		}
		result.ImportedCount++
	}
	return result, nil
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return int64(v)
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// SearchFilters is the input to Search.
type SearchFilters struct {
	Platform      string
	Timeframe     string
	Query         string
	SortBy        string
	SortDirection string
	Page          int
	Limit         int
}

// SearchResult is a paginated window over matching ResearchItems.
type SearchResult struct {
	Page       int
	Limit      int
	TotalCount int
	HasMore    bool
	Items      []models.ResearchItem
}

func timeframeCutoff(timeframe string) (time.Time, bool) {
	window, ok := timeframeWindows[strings.ToLower(strings.TrimSpace(timeframe))]
	if !ok {
		return time.Time{}, false
	}
	return time.Now().UTC().Add(-window), true
}

func searchText(item models.ResearchItem) string {
	return strings.ToLower(strings.Join([]string{item.Title, item.Caption, item.CreatorHandle, item.CreatorDisplayName}, " "))
}

func rowMetric(item models.ResearchItem, key string) int64 {
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
	default:
		return 0
	}
}

// Search applies platform/timeframe/free-text filters, then a stable sort
// (pre-sorted alphabetically by item id, then stable-sorted by key), then
// pagination.
func (s *Service) Search(userID string, f SearchFilters) SearchResult {
	items := s.store.ListResearchItems(userID)

	platform := models.Platform(strings.ToLower(strings.TrimSpace(f.Platform)))
	if platform.Valid() {
		filtered := items[:0:0]
		for _, it := range items {
			if it.Platform == platform {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	if cutoff, ok := timeframeCutoff(f.Timeframe); ok {
		filtered := items[:0:0]
		for _, it := range items {
			if (it.PublishedAt != nil && !it.PublishedAt.Before(cutoff)) || !it.CreatedAt.Before(cutoff) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))
	if query != "" {
		filtered := items[:0:0]
		for _, it := range items {
			if strings.Contains(searchText(it), query) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	sortBy := strings.ToLower(strings.TrimSpace(f.SortBy))
	if !allowedSortKeys[sortBy] {
		sortBy = "created_at"
	}
	asc := strings.ToLower(strings.TrimSpace(f.SortDirection)) == "asc"
	less := func(i, j int) bool {
		switch sortBy {
		case "views", "likes", "comments", "shares", "saves":
			return rowMetric(items[i], sortBy) < rowMetric(items[j], sortBy)
		case "posted_at":
			return timeOrZero(items[i].PublishedAt).Before(timeOrZero(items[j].PublishedAt))
		default:
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
	}
	if asc {
		sort.SliceStable(items, less)
	} else {
		sort.SliceStable(items, func(i, j int) bool { return less(j, i) })
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	return SearchResult{
		Page: page, Limit: limit, TotalCount: len(items),
		HasMore: end < len(items), Items: items[start:end],
	}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Unix(0, 0).UTC()
	}
	return *t
}

// --- export ---

type exportClaims struct {
	ExportID string `json:"export_id"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// ExportResult is returned by Export with the signed download URL.
type ExportResult struct {
	ExportID  string
	Status    string
	SignedURL string
	Format    string
	ItemCount int
}

// Export writes the collection's items to a per-user file and returns a
// 30-minute HMAC-signed download URL.
func (s *Service) Export(userID, collectionID, format string) (ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "json" {
		return ExportResult{}, apierrors.ValidationError("format must be 'csv' or 'json'")
	}
	collection, ok := s.store.GetCollection(collectionID)
	if !ok || collection.UserID != userID {
		return ExportResult{}, apierrors.NotFound("collection not found")
	}

	var items []models.ResearchItem
	for _, it := range s.store.ListResearchItems(userID) {
		if it.CollectionID == collectionID {
			items = append(items, it)
		}
	}

	exportID := fmt.Sprintf("exp_%d_%s", len(items), sanitizeID(collectionID))
	userDir := filepath.Join(s.exportDir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("research: prepare export dir: %w", err)
	}
	filePath := filepath.Join(userDir, exportID+"."+format)

	if format == "json" {
		data, err := json.MarshalIndent(collectionRows(collection, items), "", "  ")
		if err != nil {
			return ExportResult{}, fmt.Errorf("research: marshal export: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o644); err != nil {
			return ExportResult{}, fmt.Errorf("research: write export: %w", err)
		}
	} else {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		fields := []string{"collection_id", "collection_name", "item_id", "platform", "url", "external_id",
			"creator_handle", "title", "caption", "views", "likes", "comments", "shares", "saves", "published_at", "created_at"}
		w.Write(fields)
		for _, row := range collectionRows(collection, items) {
			w.Write([]string{row.CollectionID, row.CollectionName, row.ItemID, string(row.Platform), row.URL,
				row.ExternalID, row.CreatorHandle, row.Title, row.Caption,
				strconv.FormatInt(row.Views, 10), strconv.FormatInt(row.Likes, 10), strconv.FormatInt(row.Comments, 10),
				strconv.FormatInt(row.Shares, 10), strconv.FormatInt(row.Saves, 10), row.PublishedAt, row.CreatedAt})
		}
		w.Flush()
		if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
			return ExportResult{}, fmt.Errorf("research: write export: %w", err)
		}
	}

	token, err := s.signExportToken(userID, exportID)
	if err != nil {
		return ExportResult{}, fmt.Errorf("research: sign export token: %w", err)
	}

	return ExportResult{
		ExportID: exportID, Status: "completed",
		SignedURL: fmt.Sprintf("/research/export/%s/download?token=%s", exportID, token),
		Format:    format, ItemCount: len(items),
	}, nil
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}

type exportRow struct {
	CollectionID, CollectionName, ItemID                            string
	Platform                                                        models.Platform
	URL, ExternalID, CreatorHandle, Title, Caption                   string
	Views, Likes, Comments, Shares, Saves                            int64
	PublishedAt, CreatedAt                                           string
}

func collectionRows(collection models.ResearchCollection, items []models.ResearchItem) []exportRow {
	rows := make([]exportRow, 0, len(items))
	for _, it := range items {
		published := ""
		if it.PublishedAt != nil {
			published = it.PublishedAt.Format(time.RFC3339)
		}
		rows = append(rows, exportRow{
			CollectionID: collection.ID, CollectionName: collection.Name, ItemID: it.ID,
			Platform: it.Platform, URL: it.URL, ExternalID: it.ExternalID, CreatorHandle: it.CreatorHandle,
			Title: it.Title, Caption: it.Caption, Views: it.Metrics.Views, Likes: it.Metrics.Likes,
			Comments: it.Metrics.Comments, Shares: it.Metrics.Shares, Saves: it.Metrics.Saves,
			PublishedAt: published, CreatedAt: it.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

func (s *Service) signExportToken(userID, exportID string) (string, error) {
	now := time.Now().UTC()
	claims := exportClaims{
		ExportID: exportID, Purpose: exportTokenPurp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exportTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ResolveExportFile verifies the signed token, matches it against exportID,
// and returns the file path and format to stream.
func (s *Service) ResolveExportFile(userID, exportID, token string) (path string, format string, err error) {
	claims := &exportClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", apierrors.Unauthenticated("invalid export token")
	}
	if claims.Purpose != exportTokenPurp || claims.ExportID != exportID || claims.Subject != userID {
		return "", "", apierrors.Unauthenticated("invalid export token")
	}

	for _, ext := range []string{"csv", "json"} {
		p := filepath.Join(s.exportDir, userID, exportID+"."+ext)
		if _, err := os.Stat(p); err == nil {
			return p, ext, nil
		}
	}
	return "", "", apierrors.NotFound("export file not found")
}
