package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plankabot/internal/eventbus"
)

func ev(id string) DiffEvent { return DiffEvent{ID: id, Board: "b1"} }

func TestDiffQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewDiffQueue(3, DropOldest, nil)
	require.True(t, q.Push(ev("1")))
	require.True(t, q.Push(ev("2")))

	got, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, "1", got.ID)
	got, ok = q.TryPop()
	require.True(t, ok)
	require.Equal(t, "2", got.ID)
	_, ok = q.TryPop()
	require.False(t, ok)
}

func TestDiffQueueDropOldest(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	q := NewDiffQueue(2, DropOldest, bus)
	q.Push(ev("1"))
	q.Push(ev("2"))
	require.False(t, q.Push(ev("3")))

	require.Equal(t, 2, q.Len())
	require.Equal(t, uint64(1), q.Dropped())

	a, _ := q.TryPop()
	b, _ := q.TryPop()
	require.Equal(t, []string{"2", "3"}, []string{a.ID, b.ID})

	select {
	case e := <-events:
		require.Equal(t, EventDiffDropped, e.Type)
		require.Equal(t, "1", e.Data.(DroppedDiff).EventID)
		require.Equal(t, uint64(1), e.Data.(DroppedDiff).Total)
	case <-time.After(time.Second):
		t.Fatal("no drop event published")
	}
}

func TestDiffQueueDropNewest(t *testing.T) {
	t.Parallel()
	q := NewDiffQueue(1, DropNewest, nil)
	require.True(t, q.Push(ev("1")))
	require.False(t, q.Push(ev("2")))
	require.Equal(t, uint64(1), q.Dropped())

	got, _ := q.TryPop()
	require.Equal(t, "1", got.ID)
}

func TestDiffQueuePopWaits(t *testing.T) {
	t.Parallel()
	q := NewDiffQueue(4, DropOldest, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(ev("late"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "late", got.ID)

	short, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, err = q.Pop(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseOverflowPolicy(t *testing.T) {
	t.Parallel()
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	require.Equal(t, DropOldest, p)
	p, err = ParseOverflowPolicy("Drop_Newest")
	require.NoError(t, err)
	require.Equal(t, DropNewest, p)
	_, err = ParseOverflowPolicy("block")
	require.Error(t, err)
}
