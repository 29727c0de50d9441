// Package transport is the boundary between query fetchers and the ticket
// API. Implementations: httpapi (remote HTTP), memory (in-process, demo and
// tests) and cached (a generation-safe response cache in front of another
// Transport).
package transport

//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.trai.ch/zerr"

	"github.com/unkn0wn-root/querysync/codec"
)

// MaxBody bounds decoded response bodies.
const MaxBody = 8 << 20

// Params are query-string parameters. Empty values are dropped on the wire,
// matching how query keys drop empty filters.
type Params map[string]string

// Encode returns the params as a sorted query string without empty values.
func (p Params) Encode() string {
	v := make(url.Values, len(p))
	for k, s := range p {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v.Encode()
}

// Op is a write operation on a resource.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

// Method returns the HTTP method of o.
func (o Op) Method() string {
	switch o {
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPatch
	case OpDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Payload is an encoded request body.
type Payload struct {
	ContentType string
	Body        []byte
}

// Response is a successful API response. Non-2xx statuses are returned as
// *querysync.ServerError instead.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Transport reads and writes API resources. Resources are slash-separated
// paths such as "tickets", "tickets/t1" or "tickets/t1/notes".
type Transport interface {
	Fetch(ctx context.Context, resource string, params Params) (Response, error)
	Send(ctx context.Context, op Op, resource string, body Payload) (Response, error)
}

var ErrDecode = zerr.New("decode response")

// Encode serializes v as a request body in format f.
func Encode(f codec.Format, v any) (Payload, error) {
	b, err := codec.For[any](f).Encode(v)
	if err != nil {
		return Payload{}, zerr.Wrap(err, "encode request")
	}
	return Payload{ContentType: f.ContentType(), Body: b}, nil
}

// Decode parses r's body into T using the codec its content type names.
func Decode[T any](r Response) (T, error) {
	var zero T
	f, err := codec.FormatOf(r.ContentType)
	if err != nil {
		return zero, zerr.With(zerr.Wrap(ErrDecode, err.Error()), "content_type", r.ContentType)
	}
	v, err := codec.Limit[T]{Inner: codec.For[T](f), MaxDecode: MaxBody}.Decode(r.Body)
	if err != nil {
		return zero, zerr.With(zerr.Wrap(ErrDecode, err.Error()), "content_type", r.ContentType)
	}
	return v, nil
}

// Lineage returns resource followed by each parent collection, e.g.
// "tickets/t1/notes" => [tickets/t1/notes tickets/t1 tickets]. A write to a
// resource changes every entry of its lineage.
func Lineage(resource string) []string {
	resource = strings.Trim(resource, "/")
	if resource == "" {
		return nil
	}
	out := []string{resource}
	for {
		i := strings.LastIndexByte(resource, '/')
		if i < 0 {
			return out
		}
		resource = resource[:i]
		out = append(out, resource)
	}
}
