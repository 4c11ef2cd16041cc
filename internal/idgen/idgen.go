// Package idgen is the single seam for entity id generation so tests can
// observe or substitute it without reaching into every package that mints ids.
package idgen

import "github.com/google/uuid"

// New returns a new random unique id.
func New() string {
	return uuid.NewString()
}
