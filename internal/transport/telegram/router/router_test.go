package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "plankabot/internal/transport"
	logx "plankabot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error     { return nil }
func (a *fakeAdapter) Stop(context.Context) error                         { return nil }
func (a *fakeAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = cmds
	return nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func (a *fakeAdapter) menuNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.menu))
	for _, c := range a.menu {
		out = append(out, c.Command)
	}
	return out
}

func msg(chat int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: chat, FromID: chat, Text: text, IsPrivate: true}}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestRouterDispatchesCommandsAndFallback(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, Options{Workers: 2})

	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}
	r.SetCommands([]Command{{
		Name:        "watch",
		Aliases:     []string{"w"},
		Description: "start notifications",
		Handle: func(_ context.Context, req *Request) error {
			record(req.Command + ":" + joinArgs(req.Args))
			return nil
		},
	}}, nil)
	r.SetFallback(func(_ context.Context, req *Request) error {
		record("text:" + req.Message.Text)
		return nil
	})

	updates := startRouter(t, r)
	updates <- msg(1, "/watch add,move")
	updates <- msg(1, `/W@plankabot "add move"`)
	updates <- msg(1, "hello")
	updates <- msg(1, "/nope")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"watch:add,move", "watch:add move", "text:hello"}, got)
	mu.Unlock()

	require.Eventually(t, func() bool {
		for _, s := range ad.texts() {
			if s == "Unknown command. Try /help" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		names := ad.menuNames()
		return len(names) == 2 && names[0] == "help" && names[1] == "watch"
	}, time.Second, 5*time.Millisecond)
}

func TestRouterKeepsPerChatOrder(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, Options{Workers: 4})

	var mu sync.Mutex
	seen := map[int64][]string{}
	r.SetCommands([]Command{{
		Name: "slow",
		Handle: func(_ context.Context, req *Request) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			seen[req.Chat.ChatID] = append(seen[req.Chat.ChatID], "cmd")
			mu.Unlock()
			return nil
		},
	}}, nil)
	r.SetFallback(func(_ context.Context, req *Request) error {
		mu.Lock()
		seen[req.Chat.ChatID] = append(seen[req.Chat.ChatID], "text")
		mu.Unlock()
		return nil
	})

	updates := startRouter(t, r)
	for chat := int64(1); chat <= 3; chat++ {
		updates <- msg(chat, "/slow")
		updates <- msg(chat, "secret")
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3 && len(seen[1]) == 2 && len(seen[2]) == 2 && len(seen[3]) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for chat, order := range seen {
		require.Equal(t, []string{"cmd", "text"}, order, "chat %d", chat)
	}
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, Options{Workers: 1})
	done := make(chan struct{})
	r.SetCommands([]Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("boom") }},
		{Name: "ok", Handle: func(context.Context, *Request) error { close(done); return nil }},
	}, nil)

	updates := startRouter(t, r)
	updates <- msg(1, "/boom")
	updates <- msg(1, "/ok")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking handler")
	}
}

func TestHelpText(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop(), &fakeAdapter{}, Options{})
	r.SetCommands([]Command{
		{Name: "watch", Description: "start <notifications>", Usage: "/watch [kinds]", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "debug", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	}, nil)

	top := r.helpText(nil)
	require.Contains(t, top, "<code>/watch</code> - start &lt;notifications&gt;")
	require.Contains(t, top, "<code>/help</code>")
	require.NotContains(t, top, "debug")

	one := r.helpText([]string{"/watch"})
	require.Contains(t, one, "<code>/watch [kinds]</code>")
	require.Contains(t, r.helpText([]string{"nope"}), "Unknown command")
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"watch":        "watch",
		"Watch-Kinds":  "watch_kinds",
		"  a  b ":      "a_b",
		"9lives":       "cmd_9lives",
		"ümlaut!":      "mlaut",
		"":             "",
		"___":          "",
		"a/b":          "a_b",
		"abcdefghijklmnopqrstuvwxyz0123456789": "abcdefghijklmnopqrstuvwxyz012345",
	}
	for in, want := range cases {
		require.Equal(t, want, sanitizeTelegramCommand(in), in)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"/kinds", "add move", "x"}, tokenizeCommandLine(`/kinds "add move" x`))
	require.Equal(t, []string{"/a", `b"c`}, tokenizeCommandLine(`/a b\"c`))
	require.Nil(t, tokenizeCommandLine("   "))
}

func joinArgs(a []string) string {
	out := ""
	for i, s := range a {
		if i > 0 {
			out += "|"
		}
		out += s
	}
	return out
}
