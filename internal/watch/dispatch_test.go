package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "plankabot/pkg/logx"
)

type dispatchRig struct {
	store  *fakeStore
	source *fakeSource
	sender *fakeSender
	vis    *VisibilityCache
	guard  *SpamGuard
	d      *Dispatcher
}

func newDispatchRig(t *testing.T, subs ...Subscription) *dispatchRig {
	t.Helper()
	r := &dispatchRig{
		store:  &fakeStore{subs: subs, creds: map[RecipientID]Credentials{}},
		source: &fakeSource{visible: map[string][]BoardID{}},
		sender: &fakeSender{},
		guard:  NewSpamGuard(time.Hour),
	}
	for _, s := range subs {
		login := loginOf(s.Recipient)
		r.store.creds[s.Recipient] = Credentials{Recipient: s.Recipient, Login: login, Password: "pw"}
		r.source.visible[login] = []BoardID{"b1"}
	}
	r.vis = NewVisibilityCache(r.store, r.source, time.Second, logx.Nop())
	r.d = NewDispatcher(r.store, r.vis, r.guard, r.sender, Renderer{}, logx.Nop())
	t.Cleanup(r.guard.Stop)
	require.NoError(t, r.vis.Refresh(context.Background()))
	return r
}

func loginOf(r RecipientID) string { return "user-" + string(rune('a'+r%26)) }

func sub(r RecipientID, linked UserID, kinds ...Kind) Subscription {
	return Subscription{Recipient: r, LinkedUser: linked, Kinds: NewKindSet(kinds...)}
}

func diffEvent(t *testing.T, prev, next *Snapshot) DiffEvent {
	t.Helper()
	d, ok := Classify(prev, next)
	require.True(t, ok)
	return DiffEvent{ID: "ev", Board: "b1", Old: prev, New: next, Diff: d}
}

func TestDispatchHonorsWatchedKinds(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", KindAdd), sub(2, "", AllKinds...))

	prev := newBoard().card("c1", "todo", "moving").card("c2", "todo", "leaving").build()
	next := newBoard().card("c1", "done", "moving").build()

	st := r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Equal(t, 2, st.Sent)
	require.Equal(t, []RecipientID{2, 2}, r.sender.recipients(), "ADD-only watcher gets neither MOVE nor DELETE")
}

func TestDispatchSelfNotification(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "u1", AllKinds...))

	empty := newBoard().build()
	added := newBoard().cardBy("c1", "todo", "mine", "u1").build()
	st := r.d.Dispatch(context.Background(), diffEvent(t, empty, added))
	require.Equal(t, 0, st.Sent)
	require.Equal(t, 1, st.Self)

	updated := newBoard().cardBy("c1", "todo", "mine, renamed", "u1").build()
	st = r.d.Dispatch(context.Background(), diffEvent(t, added, updated))
	require.Equal(t, 1, st.Sent, "UPDATE on own card still notifies")
}

func TestDispatchSelfRuleAppliesToComments(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "u1", KindAddComment), sub(2, "u2", KindAddComment))

	prev := newBoard().cardBy("c1", "todo", "x", "u1").build()
	next := newBoard().cardBy("c1", "todo", "x", "u1").comment("a1", "c1", "u2", "looks good").build()

	r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Equal(t, []RecipientID{2}, r.sender.recipients())
}

func TestDispatchSpamGuard(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", KindUpdate, KindDelete))

	v1 := newBoard().card("c1", "todo", "v1").build()
	v2 := newBoard().card("c1", "todo", "v2").build()
	v3 := newBoard().card("c1", "todo", "v3").build()
	gone := newBoard().build()

	require.Equal(t, 1, r.d.Dispatch(context.Background(), diffEvent(t, v1, v2)).Sent)
	st := r.d.Dispatch(context.Background(), diffEvent(t, v2, v3))
	require.Equal(t, 0, st.Sent)
	require.Equal(t, 1, st.Suppressed)

	require.Equal(t, 1, r.d.Dispatch(context.Background(), diffEvent(t, v3, gone)).Sent, "DELETE is never suppressed")
	require.Equal(t, 2, r.sender.count())
}

func TestDispatchFailedSendDoesNotMark(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", KindUpdate))
	r.sender.fail = map[RecipientID]bool{1: true}

	v1 := newBoard().card("c1", "todo", "v1").build()
	v2 := newBoard().card("c1", "todo", "v2").build()
	st := r.d.Dispatch(context.Background(), diffEvent(t, v1, v2))
	require.Equal(t, 1, st.Failed)
	require.False(t, r.guard.IsSuppressed("c1", KindUpdate))
}

func TestDispatchSkipsRecipientWithoutCacheEntry(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", AllKinds...))
	r.store.mu.Lock()
	r.store.subs = append(r.store.subs, sub(9, "", AllKinds...))
	r.store.mu.Unlock()

	prev := newBoard().build()
	next := newBoard().card("c1", "todo", "x").build()
	r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Equal(t, []RecipientID{1}, r.sender.recipients())
}

func TestDispatchRespectsBoardVisibility(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", AllKinds...), sub(2, "", AllKinds...))
	r.source.visible[loginOf(2)] = []BoardID{"other"}
	require.NoError(t, r.vis.Refresh(context.Background()))

	prev := newBoard().build()
	next := newBoard().card("c1", "todo", "x").build()
	r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Equal(t, []RecipientID{1}, r.sender.recipients())
}

func TestDispatchStoreErrorSkipsEvent(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", AllKinds...))
	r.store.mu.Lock()
	r.store.listErr = errors.New("db locked")
	r.store.mu.Unlock()

	prev := newBoard().build()
	next := newBoard().card("c1", "todo", "x").build()
	st := r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Equal(t, DispatchStats{}, st)
}

func TestDispatchDeleteUsesOldSnapshot(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", KindDelete))

	prev := newBoard().card("c1", "todo", "Short-lived").build()
	next := newBoard().build()
	r.d.Dispatch(context.Background(), diffEvent(t, prev, next))
	require.Len(t, r.sender.sent, 1)
	require.Contains(t, r.sender.sent[0].Text, "Short-lived")
	require.Contains(t, r.sender.sent[0].Text, "Roadmap")
}
