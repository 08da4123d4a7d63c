package watch

import (
	"sync"
	"time"
)

// SpamGuard collapses bursts of noisy events per card. A marked card is hot
// for one window; while hot, UPDATE and TASK_ADD for it are suppressed.
type SpamGuard struct {
	mu     sync.Mutex
	window time.Duration
	hot    map[CardID]*hotEntry
}

type hotEntry struct {
	timer *time.Timer
}

func NewSpamGuard(window time.Duration) *SpamGuard {
	if window <= 0 {
		window = time.Minute
	}
	return &SpamGuard{window: window, hot: map[CardID]*hotEntry{}}
}

// Mark makes id hot for one window. Marking a hot card restarts its window.
func (g *SpamGuard) Mark(id CardID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.hot[id]; ok {
		prev.timer.Stop()
	}
	e := &hotEntry{}
	e.timer = time.AfterFunc(g.window, func() { g.expire(id, e) })
	g.hot[id] = e
}

func (g *SpamGuard) expire(id CardID, e *hotEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// A later Mark owns the slot now.
	if g.hot[id] == e {
		delete(g.hot, id)
	}
}

// IsSuppressed is true only for noisy kinds on a hot card.
func (g *SpamGuard) IsSuppressed(id CardID, kind Kind) bool {
	if !kind.noisy() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.hot[id]
	return ok
}

// SetWindow changes the window for subsequent marks.
func (g *SpamGuard) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	g.window = d
	g.mu.Unlock()
}

func (g *SpamGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hot)
}

// Stop cancels all pending expiries and clears the hot set.
func (g *SpamGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, e := range g.hot {
		e.timer.Stop()
		delete(g.hot, id)
	}
}
