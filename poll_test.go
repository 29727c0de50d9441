package querysync

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"
)

func TestPollingFollowsSubscribers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var n atomic.Int32
		fetch := func(context.Context) (any, error) { return n.Add(1), nil }

		c := New(Options{DefaultStaleTime: time.Hour})
		defer c.Dispose()
		k := NewKey("tickets", Params{"page": 1})

		// no subscribers: nothing is polled
		time.Sleep(30 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 0 {
			t.Fatalf("unobserved key fetched %d times", got)
		}

		s := c.Query(k, fetch, QueryOptions{PollInterval: 10 * time.Second}, nil)
		synctest.Wait()
		if got := n.Load(); got != 1 {
			t.Fatalf("want initial fetch, got %d", got)
		}

		time.Sleep(10*time.Second + time.Millisecond)
		synctest.Wait()
		if got := n.Load(); got != 2 {
			t.Fatalf("want first poll, got %d fetches", got)
		}
		time.Sleep(10 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 3 {
			t.Fatalf("want second poll, got %d fetches", got)
		}

		s.Close()
		time.Sleep(time.Minute)
		synctest.Wait()
		if got := n.Load(); got != 3 {
			t.Fatalf("polling continued after last subscriber left: %d fetches", got)
		}
	})
}

func TestPollingUsesSmallestInterval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var n atomic.Int32
		fetch := func(context.Context) (any, error) { return n.Add(1), nil }

		c := New(Options{DefaultStaleTime: time.Hour})
		defer c.Dispose()
		k := NewKey("tickets")

		slow := c.Query(k, fetch, QueryOptions{PollInterval: 10 * time.Second}, nil)
		defer slow.Close()
		fast := c.Query(k, fetch, QueryOptions{PollInterval: 4 * time.Second}, nil)
		synctest.Wait()
		n.Store(0)

		time.Sleep(8*time.Second + time.Millisecond)
		synctest.Wait()
		if got := n.Load(); got != 2 {
			t.Fatalf("want 2 polls at 4s interval, got %d", got)
		}

		fast.Close()
		n.Store(0)
		time.Sleep(9 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 0 {
			t.Fatalf("fell back to 10s interval too early: %d", got)
		}
		time.Sleep(2 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 1 {
			t.Fatalf("want one poll at 10s interval, got %d", got)
		}
	})
}

func TestPollingPausedWhileHeld(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		hooks := &recHooks{}
		var n atomic.Int32
		fetch := func(context.Context) (any, error) { return n.Add(1), nil }

		c := New(Options{DefaultStaleTime: time.Hour, Hooks: hooks})
		defer c.Dispose()
		k := NewKey("ticket", "t1")
		s := c.Query(k, fetch, QueryOptions{PollInterval: 5 * time.Second}, nil)
		defer s.Close()
		synctest.Wait()

		release := c.Executor().Hold(k)
		time.Sleep(11 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 1 {
			t.Fatalf("held key polled: %d fetches", got)
		}
		if hooks.polls.Load() != 2 {
			t.Fatalf("want 2 poll ticks, got %d", hooks.polls.Load())
		}

		release()
		time.Sleep(5 * time.Second)
		synctest.Wait()
		if got := n.Load(); got != 2 {
			t.Fatalf("polling did not resume: %d fetches", got)
		}
	})
}

func TestDisabledSubscriberDoesNotPoll(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var n atomic.Int32
		c := New(Options{})
		defer c.Dispose()
		s := c.Query(NewKey("ticket", ""), func(context.Context) (any, error) { return n.Add(1), nil },
			QueryOptions{Disabled: true, PollInterval: time.Second}, nil)
		defer s.Close()

		time.Sleep(10 * time.Second)
		synctest.Wait()
		if n.Load() != 0 {
			t.Fatalf("disabled query polled")
		}
	})
}
