package api

import (
	"net/http"
	"time"

	"pulsebench/internal/auth"
	"pulsebench/internal/models"
	"pulsebench/internal/outcomes"
)

type outcomesIngestRequest struct {
	UserID          string  `json:"user_id,omitempty"`
	Platform        string  `json:"platform" validate:"required"`
	ContentItemID   string  `json:"content_item_id,omitempty"`
	DraftSnapshotID string  `json:"draft_snapshot_id,omitempty"`
	ReportID        string  `json:"report_id,omitempty"`
	VideoExternalID string  `json:"video_external_id,omitempty"`
	PostedAt        string  `json:"posted_at" validate:"required"`
	Views           int64   `json:"views"`
	Likes           int64   `json:"likes"`
	Comments        int64   `json:"comments"`
	Shares          int64   `json:"shares"`
	Saves           int64   `json:"saves"`
	AvgWatchTime    float64 `json:"avg_watch_time,omitempty"`
	RetentionPoints []float64 `json:"retention_points,omitempty"`
	PredictedScore  *float64  `json:"predicted_score,omitempty"`
}

// OutcomesIngest handles POST /outcomes/ingest.
func (h *Handler) OutcomesIngest(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req outcomesIngestRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	postedAt, err := time.Parse(time.RFC3339, req.PostedAt)
	if err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("posted_at must be an RFC3339 timestamp"))
		return
	}
	result, err := h.Outcomes.Ingest(userID, outcomes.IngestRequest{
		Platform: models.Platform(req.Platform), ContentItemID: req.ContentItemID,
		DraftSnapshotID: req.DraftSnapshotID, ReportID: req.ReportID, VideoExternalID: req.VideoExternalID,
		PostedAt: postedAt,
		ActualMetrics: models.ActualMetrics{
			Views: req.Views, Likes: req.Likes, Comments: req.Comments, Shares: req.Shares,
			Saves: req.Saves, AvgWatchTime: req.AvgWatchTime,
		},
		RetentionPoints: req.RetentionPoints, PredictedScore: req.PredictedScore,
	})
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// OutcomesSummary handles GET /outcomes/summary?platform=...
func (h *Handler) OutcomesSummary(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	platform := models.Platform(r.URL.Query().Get("platform"))
	if platform == "" {
		summary, err := h.Outcomes.Summary(userID)
		if err != nil {
			WriteRequestError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
		return
	}
	summary, err := h.Outcomes.SummaryForPlatform(userID, platform)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// OutcomesRecalibrate handles POST /outcomes/recalibrate. It drives the same
// RecalibrateAll sweep the periodic background job runs, exposed directly
// for operators who want to force a refresh outside the schedule.
func (h *Handler) OutcomesRecalibrate(w http.ResponseWriter, r *http.Request) {
	if _, _, err := authenticate(h, r); err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Outcomes.RecalibrateAll())
}
