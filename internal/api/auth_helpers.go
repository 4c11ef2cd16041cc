package api

import (
	"net/http"
	"strings"
)

// authenticate extracts the bearer session token from the Authorization
// header and validates it against h.Auth, returning the session subject and
// email. Handlers call this first and translate a non-nil error directly to
// a 401 response.
func authenticate(h *Handler, r *http.Request) (userID, email string, err error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", Unauthenticated("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	userID, email, err = h.Auth.Validate(token)
	if err != nil {
		return "", "", Unauthenticated("")
	}
	return userID, email, nil
}
