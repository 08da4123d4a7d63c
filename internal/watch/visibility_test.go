package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "plankabot/pkg/logx"
)

func TestVisibilityRefreshOmitsFailures(t *testing.T) {
	t.Parallel()
	store := &fakeStore{
		subs: []Subscription{sub(1, "", KindAdd), sub(1, "", KindMove), sub(2, "", KindAdd), sub(3, "", KindAdd)},
		creds: map[RecipientID]Credentials{
			1: {Recipient: 1, Login: "ann"},
			2: {Recipient: 2, Login: "bob"},
		},
	}
	source := &fakeSource{visible: map[string][]BoardID{"ann": {"b1", "b2"}, "bob": {"b1"}}}
	source.setVisErr("bob", errors.New("401 unauthorized"))

	v := NewVisibilityCache(store, source, time.Second, logx.Nop())
	require.NoError(t, v.Refresh(context.Background()))

	set, ok := v.Lookup(1)
	require.True(t, ok)
	require.Equal(t, []BoardID{"b1", "b2"}, set.IDs())

	_, ok = v.Lookup(2)
	require.False(t, ok, "failed fetch leaves the recipient out")
	_, ok = v.Lookup(3)
	require.False(t, ok, "missing credentials leave the recipient out")
	require.Equal(t, 1, v.Len())
}

func TestVisibilityKeepsPreviousMapWhenStoreFails(t *testing.T) {
	t.Parallel()
	store := &fakeStore{
		subs:  []Subscription{sub(1, "", KindAdd)},
		creds: map[RecipientID]Credentials{1: {Recipient: 1, Login: "ann"}},
	}
	source := &fakeSource{visible: map[string][]BoardID{"ann": {"b1"}}}
	v := NewVisibilityCache(store, source, time.Second, logx.Nop())
	require.NoError(t, v.Refresh(context.Background()))

	store.mu.Lock()
	store.listErr = errors.New("disk gone")
	store.mu.Unlock()
	require.Error(t, v.Refresh(context.Background()))

	_, ok := v.Lookup(1)
	require.True(t, ok)
}

func TestVisibilityTriggerCoalesces(t *testing.T) {
	t.Parallel()
	v := NewVisibilityCache(&fakeStore{}, &fakeSource{}, time.Second, logx.Nop())
	v.Trigger()
	v.Trigger()
	<-v.Triggered()
	select {
	case <-v.Triggered():
		t.Fatal("second trigger should have been coalesced")
	default:
	}
}

// Scenario C: a recipient whose credentials fail is skipped for that cycle
// and receives notifications again after a successful rebuild.
func TestVisibilityFailureThenRecovery(t *testing.T) {
	t.Parallel()
	r := newDispatchRig(t, sub(1, "", AllKinds...))
	r.source.setVisErr(loginOf(1), errors.New("bad credentials"))
	require.NoError(t, r.vis.Refresh(context.Background()))

	s0 := newBoard().build()
	s1 := newBoard().card("c1", "todo", "first").build()
	s2 := newBoard().card("c1", "todo", "first").card("c2", "todo", "second").build()

	r.d.Dispatch(context.Background(), diffEvent(t, s0, s1))
	require.Equal(t, 0, r.sender.count())

	r.source.setVisErr(loginOf(1), nil)
	require.NoError(t, r.vis.Refresh(context.Background()))

	r.d.Dispatch(context.Background(), diffEvent(t, s1, s2))
	require.Equal(t, []RecipientID{1}, r.sender.recipients())
}
