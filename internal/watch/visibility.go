package watch

import (
	"context"
	"sync"
	"time"

	logx "plankabot/pkg/logx"
)

// VisibilityCache maps each subscribed recipient to the boards their own
// Planka account can see. The map is rebuilt on a schedule and swapped
// atomically; readers never see a half-built map.
type VisibilityCache struct {
	mu      sync.RWMutex
	entries map[RecipientID]BoardSet
	builtAt time.Time

	store   SubscriptionStore
	source  Source
	timeout time.Duration
	log     logx.Logger

	trigger chan struct{}
}

func NewVisibilityCache(store SubscriptionStore, source Source, timeout time.Duration, log logx.Logger) *VisibilityCache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultVisibilityTimeout
	}
	return &VisibilityCache{
		entries: map[RecipientID]BoardSet{},
		store:   store,
		source:  source,
		timeout: timeout,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// Refresh rebuilds the cache from the current subscriptions. If the
// subscription list cannot be read the previous map is kept. Recipients whose
// credentials are missing or whose fetch fails are left out of the new map.
func (v *VisibilityCache) Refresh(ctx context.Context) error {
	subs, err := v.store.ListSubscriptions(ctx)
	if err != nil {
		v.log.Warn("visibility refresh: list subscriptions failed; keeping previous map", logx.Err(err))
		return err
	}

	next := make(map[RecipientID]BoardSet, len(subs))
	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, done := next[sub.Recipient]; done {
			continue
		}
		l := v.log.With(logx.Int64("recipient", int64(sub.Recipient)))

		creds, ok, err := v.store.GetCredentials(ctx, sub.Recipient)
		if err != nil {
			l.Warn("visibility refresh: credentials lookup failed", logx.Err(err))
			continue
		}
		if !ok {
			l.Warn("visibility refresh: no stored credentials")
			continue
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		ids, err := v.source.FetchVisibleBoards(cctx, creds)
		cancel()
		if err != nil {
			l.Warn("visibility refresh: fetch visible boards failed", logx.Err(err))
			continue
		}
		next[sub.Recipient] = NewBoardSet(ids...)
	}

	v.mu.Lock()
	v.entries = next
	v.builtAt = time.Now()
	v.mu.Unlock()

	v.log.Debug("visibility cache rebuilt", logx.Int("recipients", len(next)), logx.Int("subscriptions", len(subs)))
	return nil
}

// Lookup returns the boards visible to r. The second result is false when r
// has no entry; such a recipient receives nothing.
func (v *VisibilityCache) Lookup(r RecipientID) (BoardSet, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.entries[r]
	return s, ok
}

func (v *VisibilityCache) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

func (v *VisibilityCache) BuiltAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.builtAt
}

// Trigger asks the refresh loop to rebuild before the next scheduled run.
// Calls while a request is pending are coalesced.
func (v *VisibilityCache) Trigger() {
	select {
	case v.trigger <- struct{}{}:
	default:
	}
}

// Triggered is the channel the refresh loop selects on.
func (v *VisibilityCache) Triggered() <-chan struct{} { return v.trigger }
