package ristretto

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	val := []byte("frame")
	if ok, err := p.Set(ctx, "resp:inbox:tickets", val, int64(len(val)), time.Minute); err != nil || !ok {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	p.Wait()

	got, ok, err := p.Get(ctx, "resp:inbox:tickets")
	if err != nil || !ok || !bytes.Equal(got, val) {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}

	if err := p.Del(ctx, "resp:inbox:tickets"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.Get(ctx, "resp:inbox:tickets"); ok {
		t.Fatalf("hit after Del")
	}
	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
}
