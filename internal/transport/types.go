// Package transport holds the messenger-neutral types shared by the bot's
// front end, notifier and log sink.
package transport

import (
	"context"
	"errors"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ErrRecipientUnavailable marks sends that will never succeed for this chat
// (bot blocked, user deactivated, chat gone). Retrying is pointless.
var ErrRecipientUnavailable = errors.New("recipient unavailable")

// TextSender is the send side of an adapter.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	TextSender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// BotCommand is a single command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
