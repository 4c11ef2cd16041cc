package api

import "net/http"

// ReportLatest handles GET /report/latest, returning the consolidated
// report for the caller's most recently completed audit.
func (h *Handler) ReportLatest(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	rep, err := h.Report.GetConsolidatedReport(r.Context(), userID, "")
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

// ReportGet handles GET /report/{audit_id}.
func (h *Handler) ReportGet(w http.ResponseWriter, r *http.Request, auditID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	rep, err := h.Report.GetConsolidatedReport(r.Context(), userID, auditID)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

type shareLinkCreateRequest struct {
	UserID       string `json:"user_id,omitempty"`
	AuditID      string `json:"audit_id" validate:"required"`
	ExpiresHours int    `json:"expires_hours,omitempty"`
}

// ReportShareCreate handles POST /report/share.
func (h *Handler) ReportShareCreate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req shareLinkCreateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	link, err := h.Report.CreateShareLink(userID, req.AuditID, req.ExpiresHours)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, link)
}

// ReportShareResolve handles GET /report/share/{token}. Unlike every other
// handler in this file, it does not call authenticate — a share link is
// meant to be opened by whoever holds the opaque token, not just the
// report's owner, the same way internal/research's export download link
// carries its own signed credential instead of a bearer session.
func (h *Handler) ReportShareResolve(w http.ResponseWriter, r *http.Request, token string) {
	shared, err := h.Report.ResolveSharedReport(r.Context(), token)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, shared)
}
