package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKindSet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want []Kind
	}{
		{raw: "add", want: []Kind{KindAdd}},
		{raw: "ADD, move  delete", want: []Kind{KindAdd, KindMove, KindDelete}},
		{raw: "task-complete,add_comment", want: []Kind{KindTaskComplete, KindAddComment}},
		{raw: "all", want: AllKinds},
		{raw: "", want: AllKinds},
	}
	for _, tt := range tests {
		got, err := ParseKindSet(tt.raw)
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got.Kinds(), tt.raw)
	}

	_, err := ParseKindSet("add,explode")
	require.Error(t, err)
}

func TestKindSetString(t *testing.T) {
	t.Parallel()
	s := NewKindSet(KindMove, KindAdd)
	require.Equal(t, "ADD,MOVE", s.String())
	require.True(t, s.Has(KindAdd))
	require.False(t, s.Has(KindDelete))
	require.True(t, s.With(KindDelete).Has(KindDelete))
	require.True(t, KindSet(0).Empty())
}
