package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "watch.diff.dropped"})
	b.Publish(Event{Type: "notify.failed"}) // a is full, dropped for a only

	e := <-a
	require.Equal(t, "watch.diff.dropped", e.Type)
	require.False(t, e.Time.IsZero())
	require.Len(t, c, 2)

	unsubA()
	unsubA()
	_, ok := <-a
	require.False(t, ok)
	b.Publish(Event{Type: "after"}) // must not panic on the closed subscriber
	require.Len(t, c, 3)
}

func TestRecorderKeepsRecentAndCounts(t *testing.T) {
	t.Parallel()
	r := NewRecorder(3)
	for _, typ := range []string{"a", "b", "a", "c", "a"} {
		r.Record(Event{Type: typ})
	}
	var got []string
	for _, e := range r.Recent() {
		got = append(got, e.Type)
	}
	require.Equal(t, []string{"a", "c", "a"}, got)
	require.Equal(t, []TypeCount{{"a", 3}, {"b", 1}, {"c", 1}}, r.Counts())
}

func TestRecorderRunObservesBus(t *testing.T) {
	t.Parallel()
	b := New()
	r := NewRecorder(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	seen := make(chan string, 8)
	go func() {
		defer close(done)
		r.Run(ctx, b, func(e Event) { seen <- e.Type })
	}()

	require.Eventually(t, func() bool {
		b.Publish(Event{Type: "config.reloaded"})
		return len(r.Recent()) > 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "config.reloaded", <-seen)

	cancel()
	<-done
}
