package auth

import "errors"

// ErrUserIDMismatch is returned when a body/query-supplied user_id does not
// equal the session's subject. The core never trusts client-supplied
// user_id; callers must translate this to Forbidden at the HTTP edge.
var ErrUserIDMismatch = errors.New("user_id does not match session")

// CheckScope enforces that an optional body/query user_id, when present,
// equals the session subject. An empty bodyUserID is always accepted — most
// handlers only need the session subject and never echo it back.
func CheckScope(sessionUserID, bodyUserID string) error {
	if bodyUserID == "" {
		return nil
	}
	if bodyUserID != sessionUserID {
		return ErrUserIDMismatch
	}
	return nil
}
