package tgui

import (
	"context"
	"strings"

	kit "plankabot/internal/transport"
)

// Message is a rendered reply: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the Message through any text sender.
func (m Message) Send(ctx context.Context, s kit.TextSender, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return s.SendText(ctx, to, m.Text, m.Opt)
}

// Builder assembles HTML replies line by line. Every text argument is
// escaped; use RawLine for already-safe HTML.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
		return b
	}
	b.lines = append(b.lines, B(t).String())
	return b
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds one bullet line per non-empty item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.lines = append(b.lines, "• "+Esc(it).String())
		}
	}
	return b
}

// KV adds a "key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Build joins the lines. Replies are HTML with link previews disabled.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return Message{Text: text, Opt: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}}
}

func (b *Builder) String() string { return b.Build().Text }
