package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpamGuardOnlyNoisyKinds(t *testing.T) {
	t.Parallel()
	g := NewSpamGuard(time.Hour)
	defer g.Stop()

	require.False(t, g.IsSuppressed("c1", KindUpdate))
	g.Mark("c1")

	require.True(t, g.IsSuppressed("c1", KindUpdate))
	require.True(t, g.IsSuppressed("c1", KindTaskAdd))
	for _, k := range []Kind{KindAdd, KindMove, KindDelete, KindTaskRemove, KindTaskComplete, KindAddComment} {
		require.False(t, g.IsSuppressed("c1", k), k)
	}
	require.False(t, g.IsSuppressed("c2", KindUpdate))
}

func TestSpamGuardExpires(t *testing.T) {
	t.Parallel()
	g := NewSpamGuard(30 * time.Millisecond)
	defer g.Stop()

	g.Mark("c1")
	require.True(t, g.IsSuppressed("c1", KindUpdate))
	require.Eventually(t, func() bool { return !g.IsSuppressed("c1", KindUpdate) }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, g.Len())
}

func TestSpamGuardRemarkExtendsWindow(t *testing.T) {
	t.Parallel()
	g := NewSpamGuard(80 * time.Millisecond)
	defer g.Stop()

	g.Mark("c1")
	time.Sleep(50 * time.Millisecond)
	g.Mark("c1")
	time.Sleep(50 * time.Millisecond)
	// 100ms after the first mark, but only 50ms after the second.
	require.True(t, g.IsSuppressed("c1", KindUpdate))
}
