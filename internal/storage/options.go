package storage

import "time"

// Option configures a Storage at construction time.
type Option func(*Storage)

// WithClock overrides the clock used for CreatedAt/UpdatedAt stamping and
// retention/staleness comparisons. Tests substitute a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPersistOverride intercepts persistence so tests can run without
// touching disk, or can inject persist failures to exercise rollback.
func WithPersistOverride(fn func(dataset) error) Option {
	return func(s *Storage) {
		s.persistOverride = fn
	}
}
