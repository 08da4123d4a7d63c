// Package commands is the chat front end: recipients log in with their
// Planka account, enable notifications and pick which change kinds they get.
package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"plankabot/internal/planka"
	"plankabot/internal/storage"
	"plankabot/internal/transport/telegram/router"
	"plankabot/internal/watch"
	logx "plankabot/pkg/logx"
	"plankabot/pkg/tgui"
)

// Identity verifies Planka credentials and names the user behind them.
type Identity interface {
	ResolveIdentity(ctx context.Context, creds watch.Credentials) (watch.User, error)
}

// SessionForgetter drops cached Planka sessions of a login.
type SessionForgetter interface {
	Forget(login string)
}

type StatsSource interface {
	Stats() watch.Stats
}

// Refresher asks for an early visibility rebuild.
type Refresher interface {
	Trigger()
}

type Deps struct {
	Store    storage.Store
	Identity Identity
	Sessions SessionForgetter // optional
	Stats    StatsSource      // optional
	Refresh  Refresher        // optional
	Log      logx.Logger

	// DialogTTL bounds how long a started /login waits for input.
	DialogTTL time.Duration
}

type Handler struct {
	d   Deps
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	dialogs map[int64]*dialog
}

type dialogStep int

const (
	stepLogin dialogStep = iota + 1
	stepPassword
)

type dialog struct {
	step    dialogStep
	login   string
	expires time.Time
}

func New(d Deps) *Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.DialogTTL <= 0 {
		d.DialogTTL = 5 * time.Minute
	}
	return &Handler{d: d, log: log, now: time.Now, dialogs: map[int64]*dialog{}}
}

func (h *Handler) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "introduction",
			Usage:       "/start",
			Hidden:      true,
			Handle:      h.cmdStart,
		},
		{
			Name:        "login",
			Description: "link your Planka account",
			Usage:       "/login\n/login <username>",
			Timeout:     time.Minute,
			Handle:      h.cmdLogin,
		},
		{
			Name:        "watch",
			Aliases:     []string{"subscribe"},
			Description: "enable notifications",
			Usage:       "/watch\n/watch add,move,add_comment",
			Timeout:     time.Minute,
			Handle:      h.cmdWatch,
		},
		{
			Name:        "kinds",
			Description: "show or change which changes you receive",
			Usage:       "/kinds\n/kinds all\n/kinds move task_complete",
			Handle:      h.cmdKinds,
		},
		{
			Name:        "stop",
			Aliases:     []string{"unwatch"},
			Description: "disable notifications",
			Usage:       "/stop",
			Handle:      h.cmdStop,
		},
		{
			Name:        "finish",
			Description: "disable notifications and forget your login",
			Usage:       "/finish",
			Handle:      h.cmdFinish,
		},
		{
			Name:        "status",
			Description: "show your subscription and bot status",
			Usage:       "/status",
			Handle:      h.cmdStatus,
		},
	}
}

func recipient(req *router.Request) watch.RecipientID { return watch.RecipientID(req.Chat.ChatID) }

func (h *Handler) reply(ctx context.Context, req *router.Request, b *tgui.Builder) error {
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) say(ctx context.Context, req *router.Request, line string) error {
	return h.reply(ctx, req, tgui.New().Line(line))
}

func (h *Handler) cmdStart(ctx context.Context, req *router.Request) error {
	b := tgui.New().
		Title("👋", "Planka notifications").
		Line("I tell you when cards change on the Planka boards you can see.").
		Blank().
		Bullets(
			"/login links your Planka account",
			"/watch turns notifications on",
			"/kinds picks which changes you get",
			"/stop turns them off, /finish also forgets your login",
		)
	return h.reply(ctx, req, b)
}

func (h *Handler) cmdLogin(ctx context.Context, req *router.Request) error {
	if !req.Message.IsPrivate {
		return h.say(ctx, req, "For your safety, send /login in a private chat with me.")
	}
	d := &dialog{step: stepLogin, expires: h.now().Add(h.d.DialogTTL)}
	prompt := "Send your Planka username or e-mail."
	if len(req.Args) > 0 {
		d.step = stepPassword
		d.login = strings.TrimSpace(req.Args[0])
		prompt = "Send your Planka password. I will delete the message right away."
	}
	h.mu.Lock()
	h.dialogs[req.Chat.ChatID] = d
	h.mu.Unlock()
	return h.say(ctx, req, prompt)
}

// HandleText is the router fallback for non-command messages. It only acts
// while a /login dialog is waiting for input.
func (h *Handler) HandleText(ctx context.Context, req *router.Request) error {
	h.mu.Lock()
	d, ok := h.dialogs[req.Chat.ChatID]
	if ok && h.now().After(d.expires) {
		delete(h.dialogs, req.Chat.ChatID)
		ok = false
	}
	var cur dialog
	if ok {
		cur = *d
		if d.step == stepLogin {
			d.step = stepPassword
			d.login = strings.TrimSpace(req.Message.Text)
		} else {
			delete(h.dialogs, req.Chat.ChatID)
		}
	}
	h.mu.Unlock()

	if !ok {
		if req.Message.IsPrivate {
			return h.say(ctx, req, "Send /help for the list of commands.")
		}
		return nil
	}
	if cur.step == stepLogin {
		return h.say(ctx, req, "Now send your Planka password. I will delete the message right away.")
	}
	return h.completeLogin(ctx, req, cur.login, req.Message.Text)
}

func (h *Handler) completeLogin(ctx context.Context, req *router.Request, login, password string) error {
	if err := req.Adapter.DeleteMessage(ctx, messageRef(req)); err != nil {
		req.Logger.Warn("could not delete password message", logx.Err(err))
	}

	creds := watch.Credentials{Recipient: recipient(req), Login: login, Password: password}
	user, err := h.d.Identity.ResolveIdentity(ctx, creds)
	if errors.Is(err, planka.ErrUnauthorized) {
		return h.say(ctx, req, "Login failed: wrong username or password. Try /login again.")
	}
	if err != nil {
		_ = h.say(ctx, req, "Planka is not reachable right now. Try again later.")
		return err
	}

	err = h.d.Store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.PutCredentials(ctx, creds); err != nil {
			return err
		}
		// A different account now stands behind this chat; relink the
		// subscription so the self-notification rule follows it.
		sub, ok, err := tx.GetSubscription(ctx, creds.Recipient)
		if err != nil || !ok || sub.LinkedUser == user.ID {
			return err
		}
		if err := tx.RemoveSubscription(ctx, sub.Recipient); err != nil {
			return err
		}
		sub.LinkedUser = user.ID
		return tx.AddSubscription(ctx, sub)
	})
	if err != nil {
		_ = h.say(ctx, req, "Could not save your login. Try again later.")
		return err
	}
	h.triggerRefresh()
	req.Logger.Info("planka login linked", logx.String("planka_user", string(user.ID)))

	b := tgui.New().
		RawLine(tgui.JoinH(" ", tgui.Esc("Logged in as"), tgui.B(user.DisplayName()))).
		Line("Use /watch to enable notifications.")
	return h.reply(ctx, req, b)
}

func (h *Handler) cmdWatch(ctx context.Context, req *router.Request) error {
	kinds, err := watch.ParseKindSet(strings.Join(req.Args, " "))
	if err != nil {
		return h.reply(ctx, req, tgui.New().Line(err.Error()).Line("Known kinds: "+allKindNames()))
	}
	r := recipient(req)
	creds, ok, err := h.d.Store.GetCredentials(ctx, r)
	if err != nil {
		return err
	}
	if !ok {
		return h.say(ctx, req, "Log in first with /login.")
	}
	user, err := h.d.Identity.ResolveIdentity(ctx, creds)
	if errors.Is(err, planka.ErrUnauthorized) {
		return h.say(ctx, req, "Your stored Planka login no longer works. Log in again with /login.")
	}
	if err != nil {
		_ = h.say(ctx, req, "Planka is not reachable right now. Try again later.")
		return err
	}

	err = h.d.Store.AddSubscription(ctx, watch.Subscription{
		Recipient:  r,
		LinkedUser: user.ID,
		Kinds:      kinds,
		CreatedAt:  h.now(),
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return h.say(ctx, req, "Notifications are already enabled. Use /kinds to change what you receive.")
	}
	if err != nil {
		return err
	}
	h.triggerRefresh()
	return h.reply(ctx, req, tgui.New().
		Line("Notifications enabled.").
		KV("Kinds", kindNames(kinds)))
}

func (h *Handler) cmdKinds(ctx context.Context, req *router.Request) error {
	r := recipient(req)
	if len(req.Args) == 0 {
		sub, ok, err := h.d.Store.GetSubscription(ctx, r)
		if err != nil {
			return err
		}
		b := tgui.New()
		if ok {
			b.KV("Current", kindNames(sub.Kinds))
		} else {
			b.Line("Notifications are not enabled.")
		}
		return h.reply(ctx, req, b.KV("Available", allKindNames()))
	}

	kinds, err := watch.ParseKindSet(strings.Join(req.Args, " "))
	if err != nil {
		return h.reply(ctx, req, tgui.New().Line(err.Error()).Line("Known kinds: "+allKindNames()))
	}
	err = h.d.Store.UpdateKinds(ctx, r, kinds)
	if errors.Is(err, storage.ErrNotFound) {
		return h.say(ctx, req, "Notifications are not enabled. Use /watch first.")
	}
	if err != nil {
		return err
	}
	return h.reply(ctx, req, tgui.New().KV("Kinds", kindNames(kinds)))
}

func (h *Handler) cmdStop(ctx context.Context, req *router.Request) error {
	err := h.d.Store.RemoveSubscription(ctx, recipient(req))
	if errors.Is(err, storage.ErrNotFound) {
		return h.say(ctx, req, "Notifications are not enabled.")
	}
	if err != nil {
		return err
	}
	return h.say(ctx, req, "Notifications stopped. Your login is kept; /finish removes it too.")
}

func (h *Handler) cmdFinish(ctx context.Context, req *router.Request) error {
	r := recipient(req)
	h.mu.Lock()
	delete(h.dialogs, req.Chat.ChatID)
	h.mu.Unlock()

	var (
		login   string
		removed int
	)
	err := h.d.Store.WithTx(ctx, func(tx storage.Tx) error {
		// The store may run fn again after a busy retry.
		login, removed = "", 0
		creds, ok, err := tx.GetCredentials(ctx, r)
		if err != nil {
			return err
		}
		if ok {
			login = creds.Login
		}
		for _, rm := range []func(context.Context, watch.RecipientID) error{tx.RemoveSubscription, tx.RemoveCredentials} {
			switch err := rm(ctx, r); {
			case err == nil:
				removed++
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return h.say(ctx, req, "Nothing to remove.")
	}
	if login != "" && h.d.Sessions != nil {
		h.d.Sessions.Forget(login)
	}
	h.triggerRefresh()
	return h.say(ctx, req, "Done. Your subscription and stored Planka login were removed.")
}

func (h *Handler) cmdStatus(ctx context.Context, req *router.Request) error {
	r := recipient(req)
	creds, hasCreds, err := h.d.Store.GetCredentials(ctx, r)
	if err != nil {
		return err
	}
	sub, hasSub, err := h.d.Store.GetSubscription(ctx, r)
	if err != nil {
		return err
	}

	b := tgui.New().Title("", "Status")
	if hasCreds {
		b.KV("Planka login", creds.Login)
	} else {
		b.KV("Planka login", "none")
	}
	if hasSub {
		b.KV("Notifications", "on since "+sub.CreatedAt.Local().Format("2006-01-02"))
		b.KV("Kinds", kindNames(sub.Kinds))
	} else {
		b.KV("Notifications", "off")
	}
	if h.d.Stats != nil {
		st := h.d.Stats.Stats()
		b.KV("Boards watched", itoa(st.Boards))
		if !st.LastPoll.IsZero() {
			b.KV("Last poll", st.LastPoll.Local().Format("15:04:05"))
		}
		if st.Dropped > 0 {
			b.KV("Dropped updates", itoa(int(st.Dropped)))
		}
	}
	return h.reply(ctx, req, b)
}

func (h *Handler) triggerRefresh() {
	if h.d.Refresh != nil {
		h.d.Refresh.Trigger()
	}
}
