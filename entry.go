package querysync

import (
	"context"
	"time"
)

// Status is the lifecycle state of a cache entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Entry is one cached query result. Entries are handed out by value; Data is
// replaced wholesale on every write and must be treated as immutable by readers.
type Entry struct {
	Key       Key
	Data      any // nil means no data yet
	Status    Status
	UpdatedAt time.Time
	Err       *ErrorInfo

	// Subscribers is the live subscriber count at the time the entry was read.
	Subscribers int

	// Placeholder marks data carried over from a previous key while the
	// entry's own first fetch is pending.
	Placeholder bool
}

// HasData reports whether the entry carries data.
func (e Entry) HasData() bool { return e.Data != nil }

// Fetcher loads the data for one key. It must honor ctx cancellation.
type Fetcher func(ctx context.Context) (any, error)

// FetchAs adapts a typed loader into a Fetcher.
func FetchAs[T any](fn func(ctx context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// DataAs returns the entry's data as T.
func DataAs[T any](e Entry) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}
