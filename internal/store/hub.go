package store

import "sync"

// hub fans committed mutations out to in-process subscribers. Subscriptions
// are keyed by collection/id, so a listener only ever sees the documents it
// asked for. Delivery runs on a single dispatcher goroutine over an unbounded
// queue: within one id, callbacks fire in the order mutations were enqueued,
// enqueueing never blocks, and a callback may safely call back into the
// gateway.
//
// Every broadcast carries the sequence number it was published at, and every
// subscriber records the sequence current at registration plus the last
// revision it was handed. A subscriber therefore sees its initial snapshot
// followed only by strictly newer revisions: mutations enqueued before it
// registered are never replayed on top of the snapshot.
type hub struct {
	mu     sync.Mutex
	cond   *sync.Cond
	next   int64
	seq    int64
	subs   map[string]map[int64]*subscriber
	queue  []delivery
	closed bool
}

type subscriber struct {
	fn      Callback
	since   int64 // publish sequence current at registration
	lastRev int64 // highest revision delivered so far
}

// delivery is either a broadcast of a committed mutation (only == 0) or the
// initial snapshot addressed to a single new subscriber.
type delivery struct {
	ev     Event
	exists bool
	only   int64
	seq    int64
}

func newHub() *hub {
	h := &hub{
		subs: make(map[string]map[int64]*subscriber),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.dispatch()
	return h
}

func subKey(collection, id string) string {
	return collection + "/" + id
}

func (h *hub) subscribe(collection, id string, fn Callback) (int64, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := subKey(collection, id)
	if h.subs[key] == nil {
		h.subs[key] = make(map[int64]*subscriber)
	}
	h.next++
	token := h.next
	h.subs[key][token] = &subscriber{fn: fn, since: h.seq}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[key], token)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
	}
	return token, cancel
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	h.queue = append(h.queue, delivery{ev: ev, exists: len(ev.Data) > 0, seq: h.seq})
	h.cond.Signal()
}

// deliverTo queues the current snapshot for one just-registered subscriber.
func (h *hub) deliverTo(token int64, ev Event, exists bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.queue = append(h.queue, delivery{ev: ev, exists: exists, only: token})
	h.cond.Signal()
}

func (h *hub) dispatch() {
	h.mu.Lock()
	for {
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if len(h.queue) == 0 && h.closed {
			h.mu.Unlock()
			return
		}
		d := h.queue[0]
		h.queue = h.queue[1:]

		key := subKey(d.ev.Collection, d.ev.ID)
		var listeners []Callback
		for token, s := range h.subs[key] {
			if !h.eligible(s, d, token) {
				continue
			}
			if d.exists && d.ev.Rev > s.lastRev {
				s.lastRev = d.ev.Rev
			}
			listeners = append(listeners, s.fn)
		}
		h.mu.Unlock()

		snap := Snapshot{ID: d.ev.ID, Rev: d.ev.Rev, Data: d.ev.Data}
		for _, fn := range listeners {
			fn(snap, d.exists)
		}
		h.mu.Lock()
	}
}

// eligible decides whether one queued delivery reaches one subscriber.
// Targeted initial snapshots are skipped when a broadcast already brought
// the subscriber up to date; broadcasts are skipped when they predate the
// registration or repeat a revision the subscriber has seen.
func (h *hub) eligible(s *subscriber, d delivery, token int64) bool {
	if d.only != 0 {
		if token != d.only {
			return false
		}
		if !d.exists {
			return s.lastRev == 0
		}
		return d.ev.Rev > s.lastRev
	}
	if s.since >= d.seq {
		return false
	}
	return !d.exists || d.ev.Rev > s.lastRev
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}
