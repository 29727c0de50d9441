package querysync

import (
	"sync"
	"sync/atomic"
)

// Updater computes the next entry from the current one. exists is false when
// the key holds no entry; prev then only carries the key and subscriber count.
// Returning write=false leaves the entry untouched and notifies nobody.
type Updater func(prev Entry, exists bool) (next Entry, write bool)

// Store is the keyed in-memory table of query results. Every write goes
// through Update (or one of its wrappers) and notifies the key's subscribers
// once the write is visible, outside the store lock.
//
// Callbacks for one subscriber never run concurrently and never observe an
// older write after a newer one. When writers race, a write that finds the
// subscriber busy is handed to the goroutine already delivering, which may
// skip it in favour of a newer one. A write made from inside a callback is
// delivered after that callback returns.
type Store struct {
	mu       sync.Mutex
	slots    map[string]*slot
	seq      uint64 // global write sequence
	nextSub  uint64
	disposed bool
}

type slot struct {
	key    Key
	entry  Entry
	exists bool
	subs   map[uint64]*subscriber
}

type subscriber struct {
	fn     func(Entry)
	active atomic.Bool

	mu      sync.Mutex
	last    uint64 // seq of the newest accepted write
	next    Entry
	queued  bool
	running bool
}

func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// Get returns the entry for key. ok is false when no entry exists; the
// returned Entry then carries only the key, StatusIdle and the subscriber count.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[key.id]
	if sl == nil {
		return Entry{Key: key}, false
	}
	return sl.view(), sl.exists
}

// Set replaces the entry for key with fn's result.
func (s *Store) Set(key Key, fn func(prev Entry, exists bool) Entry) {
	s.Update(key, func(prev Entry, exists bool) (Entry, bool) {
		return fn(prev, exists), true
	})
}

// Update is an atomic read-modify-write of one entry. It reports whether a
// write happened.
func (s *Store) Update(key Key, fn Updater) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	sl := s.slots[key.id]
	var prev Entry
	var exists bool
	if sl != nil {
		prev, exists = sl.view(), sl.exists
	} else {
		prev = Entry{Key: key}
	}
	next, write := fn(prev, exists)
	if !write {
		s.mu.Unlock()
		return false
	}
	if sl == nil {
		sl = &slot{key: key}
		s.slots[key.id] = sl
	}
	next.Key = key
	sl.entry = next
	sl.exists = true
	s.seq++
	n := s.collect(sl)
	s.mu.Unlock()

	n.deliver()
	return true
}

// Remove drops the entry's data. Subscribers stay attached and are told the
// key is empty again.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	sl := s.slots[key.id]
	if s.disposed || sl == nil || !sl.exists {
		s.mu.Unlock()
		return
	}
	sl.entry = Entry{Key: key}
	sl.exists = false
	s.seq++
	n := s.collect(sl)
	if len(sl.subs) == 0 {
		delete(s.slots, key.id)
	}
	s.mu.Unlock()

	n.deliver()
}

// Subscribe registers fn for every future write to key. It never fires for
// state written before the call. The returned function detaches fn and is
// safe to call more than once.
func (s *Store) Subscribe(key Key, fn func(Entry)) (unsubscribe func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return func() {}
	}
	sl := s.slots[key.id]
	if sl == nil {
		sl = &slot{key: key, entry: Entry{Key: key}}
		s.slots[key.id] = sl
	}
	if sl.subs == nil {
		sl.subs = make(map[uint64]*subscriber)
	}
	s.nextSub++
	id := s.nextSub
	sub := &subscriber{fn: fn}
	sub.last = s.seq
	sub.active.Store(true)
	sl.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			s.mu.Lock()
			defer s.mu.Unlock()
			cur := s.slots[key.id]
			if cur == nil {
				return
			}
			delete(cur.subs, id)
			if len(cur.subs) == 0 && !cur.exists {
				delete(s.slots, key.id)
			}
		})
	}
}

// Subscribers returns the live subscriber count of key.
func (s *Store) Subscribers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slots[key.id]; sl != nil {
		return len(sl.subs)
	}
	return 0
}

// Invalidate marks every existing entry matched by m as stale. Data is kept
// so readers keep serving it until the refetch lands.
func (s *Store) Invalidate(m Matcher) []Key {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	var keys []Key
	var ns []notification
	for _, sl := range s.slots {
		if !sl.exists || !m(sl.key) {
			continue
		}
		sl.entry.Status = StatusStale
		s.seq++
		keys = append(keys, sl.key)
		ns = append(ns, s.collect(sl))
	}
	s.mu.Unlock()

	for _, n := range ns {
		n.deliver()
	}
	return keys
}

// Keys returns the keys of existing entries matched by m.
func (s *Store) Keys(m Matcher) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Key
	for _, sl := range s.slots {
		if sl.exists && (m == nil || m(sl.key)) {
			out = append(out, sl.key)
		}
	}
	return out
}

// Len returns the number of existing entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.exists {
			n++
		}
	}
	return n
}

// Dispose drops every entry and subscriber. Later writes are ignored.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for _, sl := range s.slots {
		for _, sub := range sl.subs {
			sub.active.Store(false)
		}
	}
	s.slots = map[string]*slot{}
}

func (sl *slot) view() Entry {
	e := sl.entry
	e.Key = sl.key
	e.Subscribers = len(sl.subs)
	return e
}

type notification struct {
	seq   uint64
	entry Entry
	subs  []*subscriber
}

// collect snapshots what must be delivered for the write just made to sl.
// Caller holds s.mu.
func (s *Store) collect(sl *slot) notification {
	n := notification{seq: s.seq, entry: sl.view()}
	if len(sl.subs) == 0 {
		return n
	}
	n.subs = make([]*subscriber, 0, len(sl.subs))
	for _, sub := range sl.subs {
		n.subs = append(n.subs, sub)
	}
	return n
}

func (n notification) deliver() {
	for _, sub := range n.subs {
		if sub.active.Load() {
			sub.offer(n.seq, n.entry)
		}
	}
}

// offer hands the write seq to sub. Only one goroutine runs sub.fn at a time;
// it keeps draining until no newer write is queued.
func (sub *subscriber) offer(seq uint64, e Entry) {
	sub.mu.Lock()
	if seq <= sub.last {
		sub.mu.Unlock()
		return // a newer write already reached this subscriber
	}
	sub.last = seq
	sub.next, sub.queued = e, true
	if sub.running {
		sub.mu.Unlock()
		return
	}
	sub.running = true
	for sub.queued {
		cur := sub.next
		sub.next, sub.queued = Entry{}, false
		sub.mu.Unlock()
		if sub.fn != nil && sub.active.Load() {
			sub.fn(cur)
		}
		sub.mu.Lock()
	}
	sub.running = false
	sub.mu.Unlock()
}
