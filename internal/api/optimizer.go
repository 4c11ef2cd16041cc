package api

import (
	"net/http"

	"pulsebench/internal/auth"
	"pulsebench/internal/models"
	"pulsebench/internal/optimizer"
)

type variantGenerateRequest struct {
	UserID       string `json:"user_id,omitempty"`
	SourceItemID string `json:"source_item_id,omitempty"`
	Platform     string `json:"platform" validate:"required"`
	Topic        string `json:"topic" validate:"required"`
	Audience     string `json:"audience,omitempty"`
	Objective    string `json:"objective,omitempty"`
	Tone         string `json:"tone,omitempty"`
	DurationS    int    `json:"duration_seconds,omitempty"`
}

// VariantGenerate handles POST /optimizer/variant_generate.
func (h *Handler) VariantGenerate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req variantGenerateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	batch, err := h.Optimizer.GenerateVariants(r.Context(), optimizer.GenerateVariantsRequest{
		UserID: userID, SourceItemID: req.SourceItemID, Platform: models.Platform(req.Platform),
		Topic: req.Topic, Audience: req.Audience, Objective: req.Objective, Tone: req.Tone, DurationS: req.DurationS,
	})
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, batch)
}

type rescoreRequest struct {
	UserID                   string    `json:"user_id,omitempty"`
	ScriptText               string    `json:"script_text" validate:"required"`
	Platform                 string    `json:"platform" validate:"required"`
	DurationSeconds          int       `json:"duration_seconds,omitempty"`
	RetentionPoints          []float64 `json:"retention_points,omitempty"`
	TrueShares               *int64    `json:"true_shares,omitempty"`
	TrueSaves                *int64    `json:"true_saves,omitempty"`
	BaselineScore            *float64  `json:"baseline_score,omitempty"`
	BaselineDetectorRankings []models.DetectorScore `json:"baseline_detector_rankings,omitempty"`
}

func (req rescoreRequest) toServiceRequest(userID string) optimizer.RescoreRequest {
	return optimizer.RescoreRequest{
		UserID: userID, ScriptText: req.ScriptText, Platform: models.Platform(req.Platform),
		DurationS: req.DurationSeconds, RetentionPoints: req.RetentionPoints,
		TrueShares: req.TrueShares, TrueSaves: req.TrueSaves,
		BaselineScore: req.BaselineScore, BaselineDetectorRankings: req.BaselineDetectorRankings,
	}
}

// Rescore handles POST /optimizer/rescore.
func (h *Handler) Rescore(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req rescoreRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	result := h.Optimizer.Rescore(r.Context(), req.toServiceRequest(userID))
	WriteJSON(w, http.StatusOK, result)
}

type draftSnapshotRequest struct {
	rescoreRequest
	SourceItemID string `json:"source_item_id,omitempty"`
	VariantID    string `json:"variant_id,omitempty"`
}

// DraftSnapshotCreate handles POST /optimizer/draft_snapshot.
func (h *Handler) DraftSnapshotCreate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req draftSnapshotRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	snap, err := h.Optimizer.CreateDraftSnapshot(r.Context(), req.toServiceRequest(userID), req.SourceItemID, req.VariantID)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// DraftSnapshotList handles GET /optimizer/draft_snapshot.
func (h *Handler) DraftSnapshotList(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Optimizer.ListDraftSnapshots(userID))
}

// DraftSnapshotGet handles GET /optimizer/draft_snapshot/{id}.
func (h *Handler) DraftSnapshotGet(w http.ResponseWriter, r *http.Request, snapshotID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	snap, ok := h.Optimizer.GetDraftSnapshot(snapshotID)
	if !ok || snap.UserID != userID {
		WriteError(w, http.StatusNotFound, NotFound("draft snapshot not found"))
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}
