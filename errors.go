package querysync

import (
	"context"
	"errors"
	"fmt"

	"go.trai.ch/zerr"
)

var (
	// ErrCancelled marks a fetch result that was superseded by a newer
	// generation. It is never written to the cache.
	ErrCancelled = zerr.New("querysync: fetch superseded")

	// ErrDisposed is returned by operations on a disposed client.
	ErrDisposed = zerr.New("querysync: client disposed")

	// ErrHeld is returned by a forced refetch while a mutation holds the key.
	ErrHeld = zerr.New("querysync: key held by a pending mutation")

	// ErrNoFetcher is returned when a refetch is requested for a key that no
	// subscriber registered a fetcher for.
	ErrNoFetcher = zerr.New("querysync: no fetcher registered")
)

// NetworkError means the request never produced a response.
type NetworkError struct {
	Op       string
	Resource string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Op, e.Resource, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a response with a non-success status.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// MutationError wraps the remote failure of a rolled-back mutation.
type MutationError struct {
	Name       string
	RolledBack int // entries restored to their snapshot
	Err        error
}

func (e *MutationError) Error() string {
	name := e.Name
	if name == "" {
		name = "mutation"
	}
	return fmt.Sprintf("%s failed (%d entries rolled back): %v", name, e.RolledBack, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// ErrorKind classifies fetch and mutation failures.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindServer
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrorInfo is the failure recorded on an Entry.
type ErrorInfo struct {
	Kind    ErrorKind
	Status  int // ServerError status, 0 otherwise
	Message string
	Err     error
}

func (i *ErrorInfo) Error() string { return i.Message }

func (i *ErrorInfo) Unwrap() error { return i.Err }

// Classify maps err onto an ErrorInfo. It returns nil for a nil error.
func Classify(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindUnknown, Message: err.Error(), Err: err}
	var se *ServerError
	var ne *NetworkError
	switch {
	case errors.As(err, &se):
		info.Kind = KindServer
		info.Status = se.Status
		if se.Message != "" {
			info.Message = se.Message
		}
	case errors.As(err, &ne):
		info.Kind = KindNetwork
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		info.Kind = KindCancelled
	}
	return info
}
