package eventbus

import (
	"context"
	"sort"
	"sync"
)

// Recorder keeps the most recent events and a count per type. The ops
// endpoint and the /status command read it.
type Recorder struct {
	mu     sync.Mutex
	ring   []Event
	next   int
	full   bool
	counts map[string]uint64
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{ring: make([]Event, size), counts: map[string]uint64{}}
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.counts[e.Type]++
	r.mu.Unlock()
}

// Run records everything published on bus until ctx is done. Each event is
// also handed to each observer, e.g. a logger.
func (r *Recorder) Run(ctx context.Context, bus Bus, observe ...func(Event)) {
	ch, unsub := bus.Subscribe(len(r.ring))
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Record(e)
			for _, fn := range observe {
				fn(e)
			}
		}
	}
}

// Recent returns the kept events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.ring[:r.next]...)
	}
	out := make([]Event, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

type TypeCount struct {
	Type  string `json:"type"`
	Count uint64 `json:"count"`
}

// Counts returns per-type totals sorted by type.
func (r *Recorder) Counts() []TypeCount {
	r.mu.Lock()
	out := make([]TypeCount, 0, len(r.counts))
	for t, n := range r.counts {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
