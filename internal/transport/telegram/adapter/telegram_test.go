package adapter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "plankabot/internal/transport"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()
	s := "xxxxxxxx<b>bold</b>"
	got := splitTelegramText(s, 10, "HTML")
	require.Equal(t, "xxxxxxxx", got[0])
	require.Equal(t, s, strings.Join(got, ""))
}

func TestSplitTelegramTextRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 25)
	got := splitTelegramText(s, 10, "")
	require.Len(t, got, 3)
	for _, c := range got {
		require.LessOrEqual(t, len([]rune(c)), 10)
	}
}

func TestClassifySendErr(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, classifySendErr(tele.ErrBlockedByUser), kit.ErrRecipientUnavailable)
	other := errors.New("timeout")
	require.Same(t, other, classifySendErr(other))
}
