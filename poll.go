package querysync

import "time"

// poller re-issues the fetch of one key on a fixed interval. There is at most
// one poller per key; its interval is the smallest one requested by the key's
// enabled subscribers.
type poller struct {
	interval time.Duration
	stop     chan struct{}
}

func (p *poller) halt() { close(p.stop) }

// schedulePoll starts, retunes or stops the poller of ks to match its current
// subscribers. Caller holds x.mu.
func (x *Executor) schedulePoll(ks *keyState) {
	var want time.Duration
	if !x.disposed {
		for s := range ks.subs {
			iv := s.opts.PollInterval
			if s.opts.Disabled || iv <= 0 {
				continue
			}
			iv = max(iv, minPollInterval)
			if want == 0 || iv < want {
				want = iv
			}
		}
	}

	if ks.poll != nil && ks.poll.interval == want {
		return
	}
	if ks.poll != nil {
		ks.poll.halt()
		ks.poll = nil
	}
	if want == 0 {
		return
	}

	p := &poller{interval: want, stop: make(chan struct{})}
	ks.poll = p
	x.wg.Add(1)
	go x.pollLoop(ks.key, p)
}

func (x *Executor) pollLoop(key Key, p *poller) {
	defer x.wg.Done()
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-x.ctx.Done():
			return
		case <-t.C:
			x.pollTick(key, p)
		}
	}
}

func (x *Executor) pollTick(key Key, p *poller) {
	x.mu.Lock()
	ks := x.keys[key.id]
	if x.disposed || ks == nil || ks.poll != p {
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()

	x.hooks.PollTick(key.str)
	if _, err := x.fetch(key, nil, false); err != nil {
		x.log.Debug("poll skipped", Fields{"key": key.str, "err": err})
	}
}
