package codec

import "go.trai.ch/zerr"

// Limit wraps another codec to enforce a maximum payload size at Decode time.
// Encode is forwarded to Inner unchanged. MaxDecode <= 0 disables the check.
//
// Responses read back from a shared cache or a remote API go through it.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, zerr.With(zerr.With(zerr.Wrap(ErrTooLarge, "decode"), "size", len(b)), "max", c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
