package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plankabot/internal/planka"
	"plankabot/internal/storage"
	kit "plankabot/internal/transport"
	"plankabot/internal/transport/telegram/router"
	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	deleted []kit.MessageRef
}

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, ref)
	return nil
}

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

type fakeIdentity struct {
	users map[string]watch.User // login -> user
	pw    map[string]string
	down  bool
}

func (f *fakeIdentity) ResolveIdentity(_ context.Context, c watch.Credentials) (watch.User, error) {
	if f.down {
		return watch.User{}, errors.New("dial tcp: connection refused")
	}
	if f.pw[c.Login] != c.Password {
		return watch.User{}, planka.ErrUnauthorized
	}
	return f.users[c.Login], nil
}

type counter struct{ n int }

func (c *counter) Trigger()      { c.n++ }
func (c *counter) Forget(string) { c.n++ }
func (c *counter) Stats() watch.Stats {
	return watch.Stats{Boards: 3, LastPoll: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

type fixture struct {
	h       *Handler
	ad      *fakeAdapter
	store   storage.Store
	id      *fakeIdentity
	refresh *counter
	forgot  *counter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := &fixture{
		ad:    &fakeAdapter{},
		store: st,
		id: &fakeIdentity{
			users: map[string]watch.User{
				"ann": {ID: "7", Name: "Ann"},
				"bob": {ID: "8", Name: "Bob"},
			},
			pw: map[string]string{"ann": "annpw", "bob": "bobpw"},
		},
		refresh: &counter{},
		forgot:  &counter{},
	}
	f.h = New(Deps{
		Store:    st,
		Identity: f.id,
		Sessions: f.forgot,
		Stats:    f.refresh,
		Refresh:  f.refresh,
		Log:      logx.Nop(),
	})
	return f
}

func (f *fixture) req(text string, args ...string) *router.Request {
	return &router.Request{
		Message: kit.Message{ID: 42, ChatID: 100, FromID: 100, Text: text, IsPrivate: true},
		Chat:    kit.ChatTarget{ChatID: 100},
		FromID:  100,
		Args:    args,
		Adapter: f.ad,
		Logger:  logx.Nop(),
	}
}

func (f *fixture) login(t *testing.T, login, pw string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.h.cmdLogin(ctx, f.req("/login "+login, login)))
	require.NoError(t, f.h.HandleText(ctx, f.req(pw)))
}

func TestLoginDialogStoresCredentialsAndDeletesPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.cmdLogin(ctx, f.req("/login")))
	require.Contains(t, f.ad.last(), "username")
	require.NoError(t, f.h.HandleText(ctx, f.req("ann")))
	require.Contains(t, f.ad.last(), "password")
	require.NoError(t, f.h.HandleText(ctx, f.req("annpw")))
	require.Contains(t, f.ad.last(), "Logged in as <b>Ann</b>")

	require.Equal(t, []kit.MessageRef{{ChatID: 100, MessageID: 42}}, f.ad.deleted)
	creds, ok, err := f.store.GetCredentials(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ann", creds.Login)
	require.Equal(t, 1, f.refresh.n)

	// Dialog is over: plain text gets the hint.
	require.NoError(t, f.h.HandleText(ctx, f.req("hello")))
	require.Contains(t, f.ad.last(), "/help")
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.login(t, "ann", "nope")
	require.Contains(t, f.ad.last(), "wrong username or password")
	_, ok, err := f.store.GetCredentials(context.Background(), 100)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, f.ad.deleted, 1)
}

func TestLoginRefusedInGroups(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	req := f.req("/login")
	req.Message.IsPrivate = false
	require.NoError(t, f.h.cmdLogin(context.Background(), req))
	require.Contains(t, f.ad.last(), "private chat")
	require.Empty(t, f.h.dialogs)
}

func TestLoginDialogExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.h.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, f.h.cmdLogin(ctx, f.req("/login ann", "ann")))
	now = now.Add(6 * time.Minute)
	require.NoError(t, f.h.HandleText(ctx, f.req("annpw")))
	require.Contains(t, f.ad.last(), "/help")
	require.Empty(t, f.ad.deleted)
}

func TestWatchRequiresLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.h.cmdWatch(context.Background(), f.req("/watch")))
	require.Contains(t, f.ad.last(), "/login")
}

func TestWatchKindsStopLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "ann", "annpw")

	require.NoError(t, f.h.cmdWatch(ctx, f.req("/watch move,add_comment", "move,add_comment")))
	require.Contains(t, f.ad.last(), "move, add_comment")
	sub, ok, err := f.store.GetSubscription(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, watch.UserID("7"), sub.LinkedUser)
	require.Equal(t, watch.NewKindSet(watch.KindMove, watch.KindAddComment), sub.Kinds)

	require.NoError(t, f.h.cmdWatch(ctx, f.req("/watch")))
	require.Contains(t, f.ad.last(), "already enabled")

	require.NoError(t, f.h.cmdKinds(ctx, f.req("/kinds")))
	require.Contains(t, f.ad.last(), "move, add_comment")

	require.NoError(t, f.h.cmdKinds(ctx, f.req("/kinds all", "all")))
	sub, _, err = f.store.GetSubscription(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, watch.AllKindSet, sub.Kinds)

	require.NoError(t, f.h.cmdKinds(ctx, f.req("/kinds bogus", "bogus")))
	require.Contains(t, f.ad.last(), "unknown change kind")

	require.NoError(t, f.h.cmdStop(ctx, f.req("/stop")))
	require.Contains(t, f.ad.last(), "stopped")
	require.NoError(t, f.h.cmdStop(ctx, f.req("/stop")))
	require.Contains(t, f.ad.last(), "not enabled")
	require.NoError(t, f.h.cmdKinds(ctx, f.req("/kinds move", "move")))
	require.Contains(t, f.ad.last(), "/watch first")
}

func TestRelinkOnLoginAsAnotherUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "ann", "annpw")
	require.NoError(t, f.h.cmdWatch(ctx, f.req("/watch task_complete", "task_complete")))
	before, _, err := f.store.GetSubscription(ctx, 100)
	require.NoError(t, err)

	f.login(t, "bob", "bobpw")
	after, ok, err := f.store.GetSubscription(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, watch.UserID("8"), after.LinkedUser)
	require.Equal(t, before.Kinds, after.Kinds)
	require.True(t, before.CreatedAt.Equal(after.CreatedAt))
}

func TestFinishRemovesEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.cmdFinish(ctx, f.req("/finish")))
	require.Contains(t, f.ad.last(), "Nothing to remove")

	f.login(t, "ann", "annpw")
	require.NoError(t, f.h.cmdWatch(ctx, f.req("/watch")))
	require.NoError(t, f.h.cmdFinish(ctx, f.req("/finish")))
	require.Contains(t, f.ad.last(), "removed")
	require.Equal(t, 1, f.forgot.n)

	_, ok, err := f.store.GetSubscription(ctx, 100)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = f.store.GetCredentials(ctx, 100)
	require.NoError(t, err)
	require.False(t, ok)
}

// busyOnceStore fails the first transaction after running it, the way the
// sqlite store does on SQLITE_BUSY, and lets another writer commit before the
// retry.
type busyOnceStore struct {
	storage.Store
	between func()
	tried   bool
}

func (s *busyOnceStore) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	if !s.tried {
		s.tried = true
		_ = s.Store.WithTx(ctx, func(tx storage.Tx) error {
			_ = fn(tx)
			return errors.New("database is locked")
		})
		s.between()
	}
	return s.Store.WithTx(ctx, fn)
}

func TestFinishCountsOnlyTheCommittedAttempt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "ann", "annpw")
	require.NoError(t, f.h.cmdWatch(ctx, f.req("/watch")))

	busy := &busyOnceStore{Store: f.store, between: func() {
		require.NoError(t, f.store.RemoveSubscription(ctx, 100))
		require.NoError(t, f.store.RemoveCredentials(ctx, 100))
	}}
	f.h.d.Store = busy

	require.NoError(t, f.h.cmdFinish(ctx, f.req("/finish")))
	require.True(t, busy.tried)
	require.Contains(t, f.ad.last(), "Nothing to remove")
	require.Zero(t, f.forgot.n)
}

func TestStatusAndUnreachablePlanka(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.cmdStatus(ctx, f.req("/status")))
	out := f.ad.last()
	require.Contains(t, out, "<b>Status</b>")
	require.Contains(t, out, "none")
	require.Contains(t, out, "off")
	require.Contains(t, out, "3")

	f.login(t, "ann", "annpw")
	f.id.down = true
	err := f.h.cmdWatch(ctx, f.req("/watch"))
	require.Error(t, err)
	require.Contains(t, f.ad.last(), "not reachable")
}

func TestCommandsTable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	names := map[string]bool{}
	for _, c := range f.h.Commands() {
		require.NotNil(t, c.Handle, c.Name)
		names[c.Name] = true
	}
	for _, n := range []string{"start", "login", "watch", "kinds", "stop", "finish", "status"} {
		require.True(t, names[n], n)
	}
}
