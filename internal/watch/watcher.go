package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"plankabot/internal/eventbus"
	sup "plankabot/internal/runtime/supervisor"
	"plankabot/internal/schedule"
	logx "plankabot/pkg/logx"
)

// Fallbacks for zero Config durations.
const (
	DefaultCallTimeout       = 30 * time.Second
	DefaultVisibilityTimeout = 10 * time.Second
	DefaultBadCardTTL        = 10 * time.Minute
)

// Config tunes the watcher. Zero values fall back to the defaults above.
type Config struct {
	PollSchedule       cron.Schedule // default every 10s
	VisibilitySchedule cron.Schedule // default every 15m

	QueueSize int
	Overflow  OverflowPolicy

	SpamWindow        time.Duration
	CallTimeout       time.Duration
	VisibilityTimeout time.Duration
	BadCardTTL        time.Duration

	DisabledLists []string
	PublicURL     string
}

// Deps are the collaborators the watcher consumes.
type Deps struct {
	Source Source
	Store  SubscriptionStore
	Sender Sender
	Bus    eventbus.Bus
	Log    logx.Logger
}

// Watcher owns the three background loops: poll, visibility refresh and
// dispatch. Poll and visibility only produce; dispatch is the single consumer
// of the diff queue.
type Watcher struct {
	cfg Config
	log logx.Logger

	queue      *DiffQueue
	state      *StateStore
	poller     *Poller
	visibility *VisibilityCache
	guard      *SpamGuard
	dispatcher *Dispatcher

	mu        sync.Mutex
	sup       *sup.Supervisor
	lastPoll  CycleStats
	lastPollT time.Time
}

func New(cfg Config, deps Deps) (*Watcher, error) {
	if deps.Source == nil || deps.Store == nil || deps.Sender == nil {
		return nil, errors.New("watch: source, store and sender are required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollSchedule == nil {
		cfg.PollSchedule = schedule.MustParse("10s")
	}
	if cfg.VisibilitySchedule == nil {
		cfg.VisibilitySchedule = schedule.MustParse("15m")
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}

	w := &Watcher{cfg: cfg, log: log}
	w.queue = NewDiffQueue(cfg.QueueSize, cfg.Overflow, deps.Bus)
	w.state = NewStateStore(w.queue, log.With(logx.String("comp", "watch.state")))
	w.poller = NewPoller(deps.Source, w.state, PollerOptions{
		CallTimeout:   cfg.CallTimeout,
		BadCardTTL:    cfg.BadCardTTL,
		DisabledLists: cfg.DisabledLists,
	}, log.With(logx.String("comp", "watch.poll")))
	w.visibility = NewVisibilityCache(deps.Store, deps.Source, cfg.VisibilityTimeout, log.With(logx.String("comp", "watch.visibility")))
	w.guard = NewSpamGuard(cfg.SpamWindow)
	w.dispatcher = NewDispatcher(deps.Store, w.visibility, w.guard, deps.Sender,
		Renderer{PublicURL: cfg.PublicURL}, log.With(logx.String("comp", "watch.dispatch")))
	return w, nil
}

// Run starts the loops and blocks until ctx is done or one of them dies.
// A loop dying is a defect; its error is returned so the process can exit
// loudly instead of running with a missing stage.
func (w *Watcher) Run(ctx context.Context) error {
	s := sup.NewSupervisor(ctx, sup.WithLogger(w.log), sup.WithCancelOnError(true))
	w.mu.Lock()
	w.sup = s
	w.mu.Unlock()

	s.Go("watch.poll", func(ctx context.Context) error {
		return ignoreCanceled(schedule.Run(ctx, w.cfg.PollSchedule, nil, w.pollOnce))
	})
	s.Go("watch.visibility", func(ctx context.Context) error {
		return ignoreCanceled(schedule.Run(ctx, w.cfg.VisibilitySchedule, w.visibility.Triggered(), func(ctx context.Context) {
			_ = w.visibility.Refresh(ctx)
		}))
	})
	s.Go("watch.dispatch", w.dispatchLoop)

	w.log.Info("watcher started",
		logx.Int("queue_cap", w.queue.Cap()),
		logx.String("overflow", w.cfg.Overflow.String()),
	)

	<-s.Context().Done()
	err := s.Wait(context.Background())
	w.guard.Stop()
	if err != nil {
		w.log.Error("watcher stopped with error", logx.Err(err))
		return err
	}
	w.log.Info("watcher stopped")
	return nil
}

func (w *Watcher) pollOnce(ctx context.Context) {
	st, err := w.poller.Cycle(ctx)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.lastPoll = st
	w.lastPollT = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) dispatchLoop(ctx context.Context) error {
	for {
		ev, err := w.queue.Pop(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}
		w.dispatcher.Dispatch(ctx, ev)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Supervisor returns the supervisor of the running loops (nil before Run).
func (w *Watcher) Supervisor() *sup.Supervisor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sup
}

// Visibility exposes the cache so front ends can request an early refresh.
func (w *Watcher) Visibility() *VisibilityCache { return w.visibility }

// SetSpamWindow and SetDisabledLists apply hot-reloaded settings.
func (w *Watcher) SetSpamWindow(d time.Duration) { w.guard.SetWindow(d) }

func (w *Watcher) SetDisabledLists(names []string) { w.poller.SetDisabledLists(names) }

// Stats is a point-in-time view for the ops endpoint and /status.
type Stats struct {
	QueueLen     int                    `json:"queue_len"`
	QueueCap     int                    `json:"queue_cap"`
	Dropped      uint64                 `json:"dropped"`
	Boards       int                    `json:"boards"`
	Recipients   int                    `json:"recipients"`
	HotCards     int                    `json:"hot_cards"`
	KnownBad     int                    `json:"known_bad_cards"`
	LastPoll     time.Time              `json:"last_poll"`
	LastPollInfo CycleStats             `json:"last_poll_info"`
	CacheBuiltAt time.Time              `json:"cache_built_at"`
	Supervisor   sup.SupervisorSnapshot `json:"supervisor"`
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	s := w.sup
	lp, lpt := w.lastPoll, w.lastPollT
	w.mu.Unlock()

	return Stats{
		QueueLen:     w.queue.Len(),
		QueueCap:     w.queue.Cap(),
		Dropped:      w.queue.Dropped(),
		Boards:       w.state.Len(),
		Recipients:   w.visibility.Len(),
		HotCards:     w.guard.Len(),
		KnownBad:     w.poller.KnownBad(),
		LastPoll:     lpt,
		LastPollInfo: lp,
		CacheBuiltAt: w.visibility.BuiltAt(),
		Supervisor:   s.Snapshot(),
	}
}
