package api

import (
	"net/http"

	"pulsebench/internal/auth"
)

// GetCredits handles GET /billing/credits, returning the caller's balance,
// active grant period, configured op costs, and recent ledger entries.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	summary := h.Credits.Summary(userID, 25)
	WriteJSON(w, http.StatusOK, summary)
}

// Checkout handles POST /billing/checkout. Real payment processing is out of
// scope; this stub only returns a deterministic redirect URL shaped the way
// a billing provider's hosted checkout session would.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	if !h.Config.BillingEnabled {
		WriteError(w, http.StatusServiceUnavailable, FeatureDisabled("billing is not enabled"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"checkout_url": h.Config.StripeSuccessURL + "?session=" + userID,
	})
}

type topUpRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Credits  int    `json:"credits"`
	Provider string `json:"provider"`
	Reference string `json:"billing_reference"`
}

// TopUp handles POST /billing/topup, recording a provider-fulfilled credit
// purchase. In production this would be invoked from a billing webhook;
// exposed directly here since checkout is a stub.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req topUpRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	if req.Credits <= 0 {
		WriteError(w, http.StatusBadRequest, BadRequest("credits must be positive"))
		return
	}
	balance, err := h.Credits.AddPurchase(userID, req.Credits, req.Provider, req.Reference)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"balance": balance})
}
