package querysync

import "testing"

func TestKeyNormalizationCollapsesEmptyParams(t *testing.T) {
	a := NewKey("tickets", Params{"page": 1, "limit": 10, "status": "", "priority": nil, "search": ""})
	b := NewKey("tickets", Params{"limit": 10, "page": 1})
	if !a.Equal(b) {
		t.Fatalf("expected equal keys, got %s vs %s", a, b)
	}
	if a.ID() != b.ID() {
		t.Fatalf("ids differ for equal keys")
	}

	c := NewKey("tickets", Params{"page": 2, "limit": 10})
	if a.Equal(c) {
		t.Fatalf("different pages must not collapse: %s", c)
	}
}

func TestKeyNumericWidthDoesNotMatter(t *testing.T) {
	a := NewKey("ticket", Params{"page": int64(3)})
	b := NewKey("ticket", Params{"page": uint8(3)})
	if !a.Equal(b) {
		t.Fatalf("int widths should encode identically: %s vs %s", a, b)
	}
}

func TestKeyPartsKeepEmptyPositional(t *testing.T) {
	// only map fields are dropped, positional parts are kept verbatim
	a := NewKey("ticket", "")
	b := NewKey("ticket")
	if a.Equal(b) {
		t.Fatalf("positional empty part must be significant")
	}
	if a.Len() != 2 || b.Len() != 1 {
		t.Fatalf("unexpected lengths: %d, %d", a.Len(), b.Len())
	}
}

func TestKeyPrefixMatching(t *testing.T) {
	p1 := NewKey("tickets", Params{"page": 1})
	p2 := NewKey("tickets", Params{"page": 2, "status": "open"})
	one := NewKey("ticket", "t1")
	notes := NewKey("notes", "t1")

	m := Prefix("tickets")
	if !m(p1) || !m(p2) {
		t.Fatalf("tickets prefix should match every page")
	}
	if m(one) || m(notes) {
		t.Fatalf("tickets prefix matched an unrelated key")
	}
	if !Prefix("notes", "t1")(notes) || Prefix("notes", "t2")(notes) {
		t.Fatalf("two-part prefix mismatch")
	}
	if Prefix("tickets", Params{"page": 1}, "extra")(p1) {
		t.Fatalf("longer prefix must not match a shorter key")
	}
}

func TestExactAndAny(t *testing.T) {
	a := NewKey("ticket", "a")
	b := NewKey("ticket", "b")
	c := NewKey("ticket", "c")

	m := Any(Exact(a), nil, Exact(b))
	if !m(a) || !m(b) || m(c) {
		t.Fatalf("Any(Exact(a), Exact(b)) matched wrong set")
	}
}

func TestKeyStringIsReadable(t *testing.T) {
	k := NewKey("tickets", Params{"page": 1, "limit": 10})
	want := `["tickets", {"page": 1, "limit": 10}]`
	if k.String() != want {
		t.Fatalf("String() = %s, want %s", k.String(), want)
	}
}

func TestKeyPanicsOnUnencodablePart(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for channel part")
		}
	}()
	_ = NewKey("bad", make(chan int))
}
