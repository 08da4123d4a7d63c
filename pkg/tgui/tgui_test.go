package tgui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"привет", 3, "при…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, TruncRunes(tc.in, tc.n), "%q/%d", tc.in, tc.n)
	}
}

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()
	msg := New().
		Title("", "Status <now>").
		KV("Kinds", "add & move").
		Bullets("a<b", " ", "c").
		RawLine(Link("Open", "https://x.example/?a=1&b=2")).
		Build()

	require.Equal(t, "<b>Status &lt;now&gt;</b>\n"+
		"• <b>Kinds</b>: add &amp; move\n"+
		"• a&lt;b\n"+
		"• c\n"+
		`<a href="https://x.example/?a=1&amp;b=2">Open</a>`, msg.Text)
	require.Equal(t, "HTML", msg.Opt.ParseMode)
	require.True(t, msg.Opt.DisablePreview)
}

func TestJoinHSkipsBlank(t *testing.T) {
	t.Parallel()
	got := JoinH("\n", B("Card moved"), Esc(" "), I("a&b"), "", Quote("x <y>\nz"))
	require.Equal(t, H("<b>Card moved</b>\n<i>a&amp;b</i>\n<blockquote>x &lt;y&gt;\nz</blockquote>"), got)
	require.Equal(t, H(""), JoinH(", "))
}
