package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"plankabot/internal/eventbus"
)

// DiffEvent is the unit handed from StateStore to the dispatcher.
type DiffEvent struct {
	ID    string
	Board BoardID
	New   *Snapshot
	Old   *Snapshot
	Diff  Diff
	At    time.Time
}

// OverflowPolicy decides what a full DiffQueue throws away.
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	DropNewest
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q (use drop_oldest or drop_newest)", s)
	}
}

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// EventDiffDropped is published on the bus whenever the queue discards a diff.
const EventDiffDropped = "watch.diff.dropped"

// DroppedDiff is the payload of EventDiffDropped.
type DroppedDiff struct {
	EventID string  `json:"event_id"`
	Board   BoardID `json:"board"`
	Changes int     `json:"changes"`
	Total   uint64  `json:"total"`
}

// DiffQueue is a fixed-capacity FIFO between StateStore and the dispatcher.
// Push never blocks; on overflow one event is discarded according to the
// policy and the drop counter is incremented.
type DiffQueue struct {
	mu     sync.Mutex
	buf    []DiffEvent
	head   int
	size   int
	policy OverflowPolicy

	notify  chan struct{}
	dropped atomic.Uint64
	bus     eventbus.Bus
}

func NewDiffQueue(capacity int, policy OverflowPolicy, bus eventbus.Bus) *DiffQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &DiffQueue{
		buf:    make([]DiffEvent, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
		bus:    bus,
	}
}

// Push enqueues ev. It reports false when an event (possibly ev itself) was
// dropped to make room.
func (q *DiffQueue) Push(ev DiffEvent) bool {
	var lost *DiffEvent

	q.mu.Lock()
	if q.size == len(q.buf) {
		if q.policy == DropNewest {
			q.mu.Unlock()
			q.noteDrop(ev)
			return false
		}
		old := q.buf[q.head]
		lost = &old
		q.buf[q.head] = DiffEvent{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if lost != nil {
		q.noteDrop(*lost)
		return false
	}
	return true
}

func (q *DiffQueue) noteDrop(ev DiffEvent) {
	total := q.dropped.Add(1)
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{
			Type: EventDiffDropped,
			Data: DroppedDiff{EventID: ev.ID, Board: ev.Board, Changes: ev.Diff.Len(), Total: total},
		})
	}
}

// TryPop removes the oldest event without waiting.
func (q *DiffQueue) TryPop() (DiffEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return DiffEvent{}, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = DiffEvent{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return ev, true
}

// Pop blocks until an event is available or ctx is done.
func (q *DiffQueue) Pop(ctx context.Context) (DiffEvent, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return DiffEvent{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *DiffQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *DiffQueue) Cap() int { return len(q.buf) }

// Dropped is the number of events discarded since start.
func (q *DiffQueue) Dropped() uint64 { return q.dropped.Load() }
