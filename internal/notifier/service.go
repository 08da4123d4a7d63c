package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"plankabot/internal/eventbus"
	kit "plankabot/internal/transport"
	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

var ErrStopped = errors.New("notifier stopped")

const historySize = 300

// Service sends one message per call. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	stopped bool

	sender kit.TextSender
	bus    eventbus.Bus
	log    logx.Logger

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.TextSender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.Apply(cfg)
	return s
}

// Apply swaps the delivery knobs. In-flight sends finish with the old ones.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.mu.Lock()
	s.cfg = cfg
	// Burst equals the rate so a burst of board changes is not serialized.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Close rejects further sends.
func (s *Service) Close() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Send delivers text to the recipient's chat as HTML.
func (s *Service) Send(ctx context.Context, to watch.RecipientID, text string) error {
	return s.SendTo(ctx, kit.ChatTarget{ChatID: int64(to)}, text)
}

// SendTo is Send for an arbitrary chat target.
func (s *Service) SendTo(ctx context.Context, to kit.ChatTarget, text string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	key := ""
	if cfg.DedupWindow > 0 {
		key = dedupKey(to, text)
		if !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
			s.publish(EventDeduped, NotificationEvent{ChatID: to.ChatID, Key: key})
			return nil
		}
	}

	opt := &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: cfg.DisablePreview}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		_, err := s.sender.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.remember(to.ChatID, text, nil)
			s.publish(EventSent, NotificationEvent{ChatID: to.ChatID, Key: key, Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || !retryable(err) {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = maxAttempts + 1
		}
	}

	s.forget(key)
	s.remember(to.ChatID, text, lastErr)
	s.publish(EventFailed, NotificationEvent{ChatID: to.ChatID, Key: key, Attempts: min(attempt, maxAttempts), Error: lastErr.Error()})
	return fmt.Errorf("send to %d: %w", to.ChatID, lastErr)
}

func retryable(err error) bool {
	return !errors.Is(err, kit.ErrRecipientUnavailable) &&
		!errors.Is(err, context.Canceled)
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev.At = now
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// History returns the most recent sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(chat int64, text string, err error) {
	it := HistoryItem{At: time.Now(), Recipient: chat, Text: text}
	if err != nil {
		it.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func dedupKey(to kit.ChatTarget, text string) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d:%d|", to.ChatID, to.ThreadID)
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// forget drops a dedup entry so a failed message can be tried again.
func (s *Service) forget(key string) {
	if key == "" {
		return
	}
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
