package querysync

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Params is a parameter map carried inside a Key. Entries with empty values
// (nil, "", 0, false, empty slices and maps) are dropped on normalization so
// equivalent queries share one cache slot.
type Params map[string]any

// keyEnc produces RFC 8949 core deterministic encodings: sorted map keys,
// shortest-form integers. Identical normalized tuples encode to identical bytes.
var keyEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Key identifies one logical query. Keys are compared by their normalized
// tuple, never by pointer identity.
type Key struct {
	parts []any
	ids   []string // deterministic encoding of each part
	id    string
	str   string
}

// NewKey builds a normalized Key. Parts must be CBOR-encodable; a part that is
// not (channels, funcs) is a programming error and panics.
func NewKey(parts ...any) Key {
	k := Key{
		parts: make([]any, len(parts)),
		ids:   make([]string, len(parts)),
	}
	for i, p := range parts {
		n := normalize(p)
		b, err := keyEnc.Marshal(n)
		if err != nil {
			panic(fmt.Sprintf("querysync: key part %d (%T) is not encodable: %v", i, p, err))
		}
		k.parts[i] = n
		k.ids[i] = string(b)
	}
	whole, err := keyEnc.Marshal(k.parts)
	if err != nil {
		panic(fmt.Sprintf("querysync: key is not encodable: %v", err))
	}
	k.id = string(whole)
	if s, err := cbor.Diagnose(whole); err == nil {
		k.str = s
	} else {
		k.str = fmt.Sprint(k.parts)
	}
	return k
}

// ID is the canonical identity of the key, usable as a map key.
func (k Key) ID() string { return k.id }

func (k Key) String() string { return k.str }

// Len returns the number of parts.
func (k Key) Len() int { return len(k.parts) }

// Part returns the normalized i-th part.
func (k Key) Part(i int) any {
	if i < 0 || i >= len(k.parts) {
		return nil
	}
	return k.parts[i]
}

func (k Key) IsZero() bool { return len(k.parts) == 0 }

func (k Key) Equal(o Key) bool { return k.id == o.id }

// HasPrefix reports whether the first parts of k equal p part by part.
func (k Key) HasPrefix(p Key) bool {
	if len(p.ids) > len(k.ids) {
		return false
	}
	for i := range p.ids {
		if k.ids[i] != p.ids[i] {
			return false
		}
	}
	return true
}

// Matcher selects keys for invalidation and bulk lookups.
type Matcher func(Key) bool

// Exact matches exactly the given keys.
func Exact(keys ...Key) Matcher {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k.id] = struct{}{}
	}
	return func(k Key) bool {
		_, ok := set[k.id]
		return ok
	}
}

// Prefix matches every key whose leading parts equal parts.
// Prefix("tickets") matches ("tickets", {page:1}) and ("tickets", {page:2}).
func Prefix(parts ...any) Matcher {
	p := NewKey(parts...)
	return func(k Key) bool { return k.HasPrefix(p) }
}

// Any matches a key if any of ms matches it. Nil matchers are skipped.
func Any(ms ...Matcher) Matcher {
	return func(k Key) bool {
		for _, m := range ms {
			if m != nil && m(k) {
				return true
			}
		}
		return false
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case Params:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return normalizeMap(m)
	case string:
		return t
	}
	return v
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isEmpty(v) {
			continue
		}
		out[k] = normalize(v)
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return rv.IsZero()
}
