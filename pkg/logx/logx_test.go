package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "plankabot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	require.False(t, Nop().IsZero())
}

func TestWithCarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "watch.poll"))
	l.Debug("cycle done", Int("boards", 3), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "watch.poll", m["comp"])
	require.Equal(t, float64(3), m["boards"])
	require.Equal(t, "cycle done", m["message"])
	require.NotContains(t, m, "err")
	require.True(t, strings.HasPrefix(m["caller"].(string), "logx_test.go:"))
}

func TestLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("quiet")
	require.Zero(t, buf.Len())
	require.True(t, l.Enabled(LevelError))
	require.False(t, l.Enabled(LevelDebug))
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "INFO", "warning"} {
		require.True(t, ValidLevel(s), s)
	}
	require.False(t, ValidLevel("loud"))
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"x","message":"send failed","recipient":42,"err":"boom"}`
	require.Equal(t, "[WARN] send failed\n- err=boom\n- recipient=42", formatTelegramJSON([]byte(line)))
	require.Equal(t, "not json", formatTelegramJSON([]byte("  not json\n")))
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	return kit.MessageRef{}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Not parallel: New sets zerolog globals.
func TestServiceTelegramSink(t *testing.T) {
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 5},
	})
	defer svc.Close()
	sender := &captureSender{}
	svc.AttachSender(sender)

	log.Info("not forwarded")
	log.Warn("forwarded", String("board", "b1"))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	got := sender.msgs[0]
	sender.mu.Unlock()
	require.True(t, strings.HasPrefix(got, "[WARN] forwarded"))
	require.Contains(t, got, "- board=b1")
}
