package watch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"

	logx "plankabot/pkg/logx"
)

// Poller runs one poll cycle over every board the source lists and feeds the
// resulting snapshots to the StateStore.
type Poller struct {
	source Source
	state  *StateStore
	log    logx.Logger

	callTimeout time.Duration
	badTTL      time.Duration
	now         func() time.Time
	fold        cases.Caser

	mu       sync.Mutex
	disabled map[string]struct{} // folded list names

	// Touched only by the poll goroutine.
	parked map[BoardID]parkedSet
	bad    map[CardID]time.Time
	acts   map[BoardID]map[CardID][]Activity
	// visible cards whose activity has never been fetched successfully
	noHist map[BoardID]map[CardID]struct{}

	badCount atomic.Int64
}

type parkedSet struct {
	cards map[CardID]struct{}
	tasks map[TaskID]struct{}
}

type PollerOptions struct {
	CallTimeout   time.Duration
	BadCardTTL    time.Duration
	DisabledLists []string
}

func NewPoller(source Source, state *StateStore, opt PollerOptions, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.CallTimeout <= 0 {
		opt.CallTimeout = DefaultCallTimeout
	}
	if opt.BadCardTTL <= 0 {
		opt.BadCardTTL = DefaultBadCardTTL
	}
	p := &Poller{
		source:      source,
		state:       state,
		log:         log,
		callTimeout: opt.CallTimeout,
		badTTL:      opt.BadCardTTL,
		now:         time.Now,
		fold:        cases.Fold(),
		parked:      map[BoardID]parkedSet{},
		bad:         map[CardID]time.Time{},
		acts:        map[BoardID]map[CardID][]Activity{},
		noHist:      map[BoardID]map[CardID]struct{}{},
	}
	p.SetDisabledLists(opt.DisabledLists)
	return p
}

// SetDisabledLists replaces the opted-out list names. Matching is
// case-insensitive and ignores surrounding space.
func (p *Poller) SetDisabledLists(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// cases.Caser keeps state; it is only used under mu.
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		m[p.fold.String(n)] = struct{}{}
	}
	p.disabled = m
}

func (p *Poller) isDisabledName(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.disabled) == 0 {
		return false
	}
	_, ok := p.disabled[p.fold.String(strings.TrimSpace(name))]
	return ok
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Boards int
	Failed int
	Events int
}

// Cycle polls every board once. Per-board failures are logged and skipped.
// The returned error is non-nil only when the board list itself could not be
// fetched or ctx ended the cycle early.
func (p *Poller) Cycle(ctx context.Context) (CycleStats, error) {
	var st CycleStats

	lctx, cancel := p.callCtx(ctx)
	boards, err := p.source.ListBoards(lctx)
	cancel()
	if err != nil {
		p.log.Warn("poll: list boards failed; cycle skipped", logx.Err(err))
		return st, err
	}

	keep := make(map[BoardID]struct{}, len(boards))
	for _, b := range boards {
		keep[b.ID] = struct{}{}
	}

	for _, b := range boards {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Boards++
		emitted, err := p.PollBoard(ctx, b)
		if err != nil {
			st.Failed++
			p.log.Warn("poll: board skipped this cycle",
				logx.String("board", string(b.ID)),
				logx.String("board_name", b.Name),
				logx.Err(err),
			)
			continue
		}
		if emitted {
			st.Events++
		}
	}

	if n := p.state.Retain(keep); n > 0 {
		p.log.Info("poll: forgot boards no longer listed", logx.Int("count", n))
	}
	for id := range p.parked {
		if _, ok := keep[id]; !ok {
			delete(p.parked, id)
			delete(p.acts, id)
			delete(p.noHist, id)
		}
	}
	p.expireBad()
	p.badCount.Store(int64(len(p.bad)))
	return st, nil
}

// PollBoard fetches one board, assembles its snapshot and hands it to the
// StateStore. It reports whether a diff event was emitted.
func (p *Poller) PollBoard(ctx context.Context, b Board) (bool, error) {
	fctx, cancel := p.callCtx(ctx)
	data, err := p.source.FetchBoard(fctx, b.ID)
	cancel()
	if err != nil {
		return false, err
	}
	if data.Board.ID == "" {
		data.Board = b
	}
	if data.Board.Name == "" {
		data.Board.Name = b.Name
	}

	var disabled []ListID
	disabledSet := map[ListID]struct{}{}
	for _, l := range data.Lists {
		if p.isDisabledName(l.Name) {
			disabled = append(disabled, l.ID)
			disabledSet[l.ID] = struct{}{}
		}
	}

	prevParked := p.parked[b.ID]
	nowParked := parkedSet{cards: map[CardID]struct{}{}, tasks: map[TaskID]struct{}{}}

	var (
		visible        []Card
		hiddenCards    []CardID
		movedBackCards []CardID
	)
	for _, c := range data.Cards {
		if c.BoardID == "" {
			c.BoardID = b.ID
		}
		if _, off := disabledSet[c.ListID]; off {
			hiddenCards = append(hiddenCards, c.ID)
			nowParked.cards[c.ID] = struct{}{}
			continue
		}
		visible = append(visible, c)
		if _, was := prevParked.cards[c.ID]; was {
			movedBackCards = append(movedBackCards, c.ID)
		}
	}

	taskCard := make(map[TaskListID]CardID, len(data.TaskLists))
	for _, tl := range data.TaskLists {
		taskCard[tl.ID] = tl.CardID
	}

	var (
		tasks          []Task
		hiddenTasks    []TaskID
		movedBackTasks []TaskID
	)
	for _, t := range data.Tasks {
		if _, hidden := nowParked.cards[taskCard[t.TaskListID]]; hidden {
			hiddenTasks = append(hiddenTasks, t.ID)
			nowParked.tasks[t.ID] = struct{}{}
			continue
		}
		tasks = append(tasks, t)
		if _, was := prevParked.tasks[t.ID]; was {
			movedBackTasks = append(movedBackTasks, t.ID)
		}
	}

	activities, firstHistory, err := p.collectActivities(ctx, b.ID, visible)
	if err != nil {
		return false, err
	}

	snap := NewSnapshot(SnapshotInput{
		Board:          data.Board,
		Cards:          visible,
		Lists:          data.Lists,
		Users:          data.Users,
		TaskLists:      data.TaskLists,
		Tasks:          tasks,
		Activities:     activities,
		DisabledLists:  disabled,
		HiddenCards:    hiddenCards,
		HiddenTasks:    hiddenTasks,
		MovedBackCards: movedBackCards,
		MovedBackTasks: movedBackTasks,
		FirstHistory:   firstHistory,
		TakenAt:        p.now(),
	})
	p.parked[b.ID] = nowParked

	_, emitted := p.state.SetSnapshot(b.ID, snap)
	return emitted, nil
}

// collectActivities fetches per-card activity. A card whose fetch fails is
// marked known-bad for badTTL and its previously seen activities are reused,
// so a flaky card neither blocks the board nor fakes new comments later.
//
// A card with no history yet stays history-less until a fetch succeeds. That
// fetch is returned in firstHistory so it becomes the baseline instead of a
// burst of old comments.
func (p *Poller) collectActivities(ctx context.Context, board BoardID, cards []Card) (out []Activity, firstHistory []CardID, err error) {
	prev := p.acts[board]
	prevMissing := p.noHist[board]
	next := make(map[CardID][]Activity, len(cards))
	missing := map[CardID]struct{}{}
	now := p.now()

	reuse := func(id CardID) {
		if h, ok := prev[id]; ok {
			next[id] = h
			out = append(out, h...)
			return
		}
		missing[id] = struct{}{}
	}

	for _, c := range cards {
		if err := ctx.Err(); err != nil {
			// Half-collected history would look like deleted comments next cycle.
			return nil, nil, err
		}
		if until, bad := p.bad[c.ID]; bad && now.Before(until) {
			reuse(c.ID)
			continue
		}

		actx, cancel := p.callCtx(ctx)
		acts, err := p.source.FetchCardActivity(actx, c.ID)
		cancel()
		if err != nil {
			p.bad[c.ID] = now.Add(p.badTTL)
			p.log.Warn("poll: card activity unavailable; marked known-bad",
				logx.String("board", string(board)),
				logx.String("card", string(c.ID)),
				logx.Duration("ttl", p.badTTL),
				logx.Err(err),
			)
			reuse(c.ID)
			continue
		}
		delete(p.bad, c.ID)
		if _, was := prevMissing[c.ID]; was {
			firstHistory = append(firstHistory, c.ID)
		}

		for i := range acts {
			if acts[i].CardID == "" {
				acts[i].CardID = c.ID
			}
		}
		next[c.ID] = acts
		out = append(out, acts...)
	}
	p.acts[board] = next
	p.noHist[board] = missing
	return out, firstHistory, nil
}

// callCtx detaches a source call from shutdown: an in-flight request runs to
// completion or to the call timeout, never to the cancel.
func (p *Poller) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
}

func (p *Poller) expireBad() {
	now := p.now()
	for id, until := range p.bad {
		if !now.Before(until) {
			delete(p.bad, id)
		}
	}
}

// KnownBad is the number of cards skipped for activity fetches as of the
// last completed cycle.
func (p *Poller) KnownBad() int { return int(p.badCount.Load()) }
