package api

import (
	"net/http"

	"pulsebench/internal/models"
)

// syncYouTubeRequest is the body of POST /auth/sync/youtube. The handler
// hydrates (or creates) the local user record from the caller-asserted
// identity and mints a session token; it does not persist the OAuth tokens
// themselves — see DESIGN.md's "Auth domain HTTP handlers" section for why.
type syncYouTubeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

type syncYouTubeResponse struct {
	SessionToken string      `json:"session_token"`
	ExpiresAt    string      `json:"expires_at"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SyncYouTube handles POST /auth/sync/youtube. The YouTube OAuth exchange
// itself happens client-side; this endpoint is the point where a verified
// external identity is hydrated into a local user row and exchanged for a
// session token.
func (h *Handler) SyncYouTube(w http.ResponseWriter, r *http.Request) {
	var req syncYouTubeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.Store.EnsureUser(req.UserID, req.Email)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	token, expiresAt, err := h.Auth.Issue(user.ID, user.Email)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	WriteJSON(w, http.StatusOK, syncYouTubeResponse{
		SessionToken: token,
		ExpiresAt:    expiresAt.UTC().Format(http.TimeFormat),
		User:         userPayload{ID: user.ID, Email: user.Email},
	})
}

// Me handles GET /auth/me, returning the identity bound to the caller's
// bearer session token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, email, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	user, ok := h.Store.GetUser(userID)
	if !ok {
		user = models.User{ID: userID, Email: email}
	}
	WriteJSON(w, http.StatusOK, userPayload{ID: user.ID, Email: user.Email})
}

// Logout handles POST /auth/logout. Session tokens are stateless bearer
// JWTs with no server-side record, so there is nothing to revoke; this
// endpoint exists for client symmetry and always succeeds once the caller
// presents a currently valid token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, _, err := authenticate(h, r); err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
