package watch

import (
	"context"
	"time"

	logx "plankabot/pkg/logx"
)

// Dispatcher routes the pairs of one DiffEvent to interested subscribers.
type Dispatcher struct {
	subs     SubscriptionStore
	vis      *VisibilityCache
	guard    *SpamGuard
	sender   Sender
	renderer Renderer
	log      logx.Logger

	sendTimeout time.Duration
}

func NewDispatcher(subs SubscriptionStore, vis *VisibilityCache, guard *SpamGuard, sender Sender, renderer Renderer, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		subs:        subs,
		vis:         vis,
		guard:       guard,
		sender:      sender,
		renderer:    renderer,
		log:         log,
		sendTimeout: 30 * time.Second,
	}
}

// DispatchStats counts what happened to one event.
type DispatchStats struct {
	Sent       int
	Failed     int
	Suppressed int
	Self       int
	Unresolved int
}

// Dispatch delivers ev. It returns early only when ctx is done; collaborator
// errors are logged and the remaining pairs still go out.
func (d *Dispatcher) Dispatch(ctx context.Context, ev DiffEvent) DispatchStats {
	var st DispatchStats
	l := d.log.With(logx.String("event", ev.ID), logx.String("board", string(ev.Board)))

	subs, err := d.subs.ListSubscriptions(ctx)
	if err != nil {
		l.Warn("dispatch: list subscriptions failed; event skipped", logx.Err(err))
		return st
	}

	// board id -> subscriptions whose recipient can see it
	interested := map[BoardID][]Subscription{}
	byBoard := func(b BoardID) []Subscription {
		if out, ok := interested[b]; ok {
			return out
		}
		var out []Subscription
		for _, s := range subs {
			set, ok := d.vis.Lookup(s.Recipient)
			if !ok {
				continue
			}
			if set.Contains(b) {
				out = append(out, s)
			}
		}
		interested[b] = out
		return out
	}

	for _, ch := range ev.Diff.Pairs() {
		if ctx.Err() != nil {
			return st
		}

		snap := ev.New
		if ch.Kind == KindDelete {
			snap = ev.Old
		}
		if snap == nil {
			st.Unresolved++
			continue
		}
		card, ok := snap.Card(ch.Card)
		if !ok {
			st.Unresolved++
			l.Debug("dispatch: card not resolvable", logx.String("card", string(ch.Card)), logx.String("kind", string(ch.Kind)))
			continue
		}

		if d.guard != nil && d.guard.IsSuppressed(ch.Card, ch.Kind) {
			st.Suppressed++
			continue
		}

		board := card.BoardID
		if board == "" {
			board = ev.Board
		}

		var text string
		sentAny := false
		for _, sub := range byBoard(board) {
			if !sub.Kinds.Has(ch.Kind) {
				continue
			}
			if (ch.Kind == KindAdd || ch.Kind == KindAddComment) &&
				sub.LinkedUser != "" && sub.LinkedUser == card.CreatorUserID {
				st.Self++
				continue
			}
			if text == "" {
				text, ok = d.renderer.Render(ev, ch)
				if !ok {
					st.Unresolved++
					break
				}
			}

			// In-flight sends finish on shutdown, bounded by sendTimeout.
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
			err := d.sender.Send(sctx, sub.Recipient, text)
			cancel()
			if err != nil {
				st.Failed++
				l.Warn("dispatch: send failed",
					logx.Int64("recipient", int64(sub.Recipient)),
					logx.String("card", string(ch.Card)),
					logx.String("kind", string(ch.Kind)),
					logx.Err(err),
				)
				continue
			}
			st.Sent++
			sentAny = true
		}

		if sentAny && d.guard != nil && (ch.Kind == KindAdd || ch.Kind == KindUpdate) {
			d.guard.Mark(ch.Card)
		}
	}

	if st.Sent+st.Failed > 0 {
		l.Info("event dispatched",
			logx.Int("sent", st.Sent),
			logx.Int("failed", st.Failed),
			logx.Int("suppressed", st.Suppressed),
			logx.Int("self", st.Self),
		)
	}
	return st
}
