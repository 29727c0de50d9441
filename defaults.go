package querysync

import "time"

const (
	// DefaultStaleTime applies when QueryOptions.StaleTime is zero and the
	// client has no default of its own: data is stale as soon as it lands.
	DefaultStaleTime time.Duration = 0

	// minPollInterval bounds accidental busy polling.
	minPollInterval = 10 * time.Millisecond
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
