package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "plankabot/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("poll", func(context.Context) error { return boom })
	s.Go("dispatch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := s.Wait(waitCtx(t))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "poll:")

	snap := s.Snapshot()
	require.Equal(t, int64(0), snap.Counters.Active)
	require.EqualValues(t, 2, snap.Counters.Started)
	require.Contains(t, snap.FirstError, "boom")
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go0("worker", func(context.Context) { panic("bad card") })
	err := s.Wait(waitCtx(t))
	require.ErrorContains(t, err, "panic in worker: bad card")

	var st GoroutineStats
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "worker" {
			st = g
		}
	}
	require.EqualValues(t, 1, st.Panics)
	require.Equal(t, "bad card", st.LastPanic)
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("visibility", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("planka down")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	require.ErrorContains(t, s.Wait(waitCtx(t)), "planka down")
	require.EqualValues(t, 3, runs.Load())

	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "visibility" {
			require.EqualValues(t, 2, g.Restarts)
			require.EqualValues(t, 3, g.Started)
			return
		}
	}
	t.Fatal("no stats for visibility")
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		runs.Add(1)
		panic("again")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	require.Error(t, s.Wait(waitCtx(t)))
	require.EqualValues(t, 3, runs.Load())
	require.Error(t, s.Context().Err(), "fatal final error cancels the supervisor")
}

func TestStopEndsRestartLoops(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	started := make(chan struct{})
	s.GoRestart0("loop", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	require.NoError(t, s.Stop(waitCtx(t)))
	require.Equal(t, int64(0), s.Counters().Active)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	ok := NewSupervisor(context.Background())
	bad := NewSupervisor(context.Background())
	bad.Go("x", func(context.Context) error { return errors.New("nope") })
	require.Error(t, bad.Wait(waitCtx(t)))

	var stopped *Supervisor
	r.Register("watcher", func() *Supervisor { return ok })
	r.Register("router", func() *Supervisor { return bad })
	r.Register("adapter", func() *Supervisor { return stopped })

	require.Equal(t, []string{"adapter", "router", "watcher"}, r.Names())
	snaps := r.Snapshot()
	require.Len(t, snaps, 3)
	require.Empty(t, snaps["adapter"].Goroutines)

	comp, msg := r.FirstError()
	require.Equal(t, "router", comp)
	require.Contains(t, msg, "nope")

	r.Register("router", nil)
	comp, _ = r.FirstError()
	require.Empty(t, comp)
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()
	for range 50 {
		d := jitter(100 * time.Millisecond)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
	require.Equal(t, time.Duration(0), jitter(0))
}
