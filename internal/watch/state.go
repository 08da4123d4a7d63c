package watch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	logx "plankabot/pkg/logx"
)

// StateStore keeps the latest snapshot per board and turns every changed
// snapshot into a DiffEvent on the queue.
type StateStore struct {
	mu    sync.Mutex
	snaps map[BoardID]*Snapshot

	queue *DiffQueue
	log   logx.Logger
	now   func() time.Time
}

func NewStateStore(queue *DiffQueue, log logx.Logger) *StateStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StateStore{
		snaps: map[BoardID]*Snapshot{},
		queue: queue,
		log:   log,
		now:   time.Now,
	}
}

// SetSnapshot records next as the current state of board. The first
// observation only seeds the baseline. An identical snapshot is ignored.
// Otherwise the diff is published when non-empty and next always replaces the
// stored snapshot. The returned event is the one published, if any.
func (s *StateStore) SetSnapshot(board BoardID, next *Snapshot) (DiffEvent, bool) {
	if next == nil {
		return DiffEvent{}, false
	}

	s.mu.Lock()
	prev, seen := s.snaps[board]
	s.snaps[board] = next
	s.mu.Unlock()

	if !seen {
		s.log.Debug("board baseline recorded", logx.String("board", string(board)), logx.Int("cards", next.CardCount()))
		return DiffEvent{}, false
	}
	if prev.Equal(next) {
		return DiffEvent{}, false
	}

	d, ok := Classify(prev, next)
	if !ok {
		return DiffEvent{}, false
	}

	ev := DiffEvent{
		ID:    uuid.NewString(),
		Board: board,
		New:   next,
		Old:   prev,
		Diff:  d,
		At:    s.now(),
	}
	s.log.Info("board changed",
		logx.String("board", string(board)),
		logx.String("event", ev.ID),
		logx.Any("counts", d.Counts()),
	)
	if s.queue != nil && !s.queue.Push(ev) {
		s.log.Warn("diff queue overflow; event dropped",
			logx.String("board", string(board)),
			logx.Uint64("dropped_total", s.queue.Dropped()),
		)
	}
	return ev, true
}

// Snapshot returns the stored snapshot of a board.
func (s *StateStore) Snapshot(board BoardID) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[board]
	return snap, ok
}

// Retain forgets every board not in keep. A board that later reappears is
// seeded again instead of diffed against stale state.
func (s *StateStore) Retain(keep map[BoardID]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.snaps {
		if _, ok := keep[id]; !ok {
			delete(s.snaps, id)
			n++
		}
	}
	return n
}

func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}
