// Package codec encodes API bodies and cached responses. A Format names a wire
// encoding and maps to and from HTTP content types.
package codec

import (
	"mime"
	"strings"

	"go.trai.ch/zerr"
)

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Format is a supported body encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCBOR    Format = "cbor"
	FormatMsgpack Format = "msgpack"
)

var (
	ErrUnknownFormat = zerr.New("unknown body format")
	ErrTooLarge      = zerr.New("payload too large")
)

// ParseFormat accepts a format name; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCBOR, FormatMsgpack:
		return f, nil
	default:
		return "", zerr.With(zerr.Wrap(ErrUnknownFormat, "parse format"), "format", s)
	}
}

// ContentType returns the media type sent for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCBOR:
		return "application/cbor"
	case FormatMsgpack:
		return "application/msgpack"
	default:
		return "application/json"
	}
}

// FormatOf maps a Content-Type header value to a Format. Parameters such as
// charset are ignored; an empty content type is treated as JSON.
func FormatOf(contentType string) (Format, error) {
	if strings.TrimSpace(contentType) == "" {
		return FormatJSON, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", zerr.With(zerr.Wrap(ErrUnknownFormat, err.Error()), "content_type", contentType)
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return FormatJSON, nil
	case mt == "application/cbor" || strings.HasSuffix(mt, "+cbor"):
		return FormatCBOR, nil
	case mt == "application/msgpack" || mt == "application/x-msgpack" || mt == "application/vnd.msgpack":
		return FormatMsgpack, nil
	default:
		return "", zerr.With(zerr.Wrap(ErrUnknownFormat, "content type"), "content_type", contentType)
	}
}

// For returns the codec of f for values of type V.
func For[V any](f Format) Codec[V] {
	switch f {
	case FormatCBOR:
		return MustCBOR[V](false)
	case FormatMsgpack:
		return Msgpack[V]{}
	default:
		return JSON[V]{}
	}
}
