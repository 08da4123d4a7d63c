package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	sup "plankabot/internal/runtime/supervisor"
	kit "plankabot/internal/transport"
	logx "plankabot/pkg/logx"
)

type Command struct {
	Name        string   // without the leading slash, e.g. "watch"
	Aliases     []string // extra names, e.g. ["unwatch"]
	Description string
	Usage       string
	// Hidden commands work but are left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string // "" for the text fallback
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Options struct {
	Workers        int           // default NumCPU, at least 2
	QueueSize      int           // per worker; default 64
	DefaultTimeout time.Duration // default 30s
	BusyText       string
	UnknownText    string
}

// Router parses incoming messages into commands and runs them on a bounded
// worker pool. Updates of one chat always land on the same worker, so a
// command and the message that follows it are handled in order.
type Router struct {
	mu       sync.RWMutex
	cmds     map[string]*Command
	list     []Command
	fallback HandlerFunc

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	runMu   sync.Mutex
	running bool
	sup     *sup.Supervisor

	shards []chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 30 * time.Second
	}
	if opt.BusyText == "" {
		opt.BusyText = "Busy, try again in a moment."
	}
	if opt.UnknownText == "" {
		opt.UnknownText = "Unknown command. Try /help"
	}
	shards := make([]chan func(), opt.Workers)
	for i := range shards {
		shards[i] = make(chan func(), opt.QueueSize)
	}
	return &Router{
		cmds:    map[string]*Command{},
		log:     log,
		adapter: adapter,
		opt:     opt,
		shards:  shards,
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *sup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

// SetFallback installs the handler for plain text that is not a command.
// Dialogs (e.g. waiting for a password) hook in here.
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SetCommands replaces the registry. /help is always injected. When the
// adapter can publish a command menu, the update runs under s (or detached
// if s is nil).
func (r *Router) SetCommands(cmds []Command, s *sup.Supervisor) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show this help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	}
	all := append(append([]Command(nil), cmds...), helper)

	table := map[string]*Command{}
	list := make([]Command, 0, len(all))
	for _, c := range all {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = &cc
			}
		}
		list = append(list, cc)
	}

	r.mu.Lock()
	r.cmds = table
	r.list = list
	r.mu.Unlock()

	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(list)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
	if s != nil {
		s.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

func (r *Router) commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

func (r *Router) setSupervisor(s *sup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = s
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles a closed shard).
func (r *Router) tryEnqueue(chatID int64, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	idx := int(uint64(chatID) % uint64(len(r.shards)))
	select {
	case r.shards[idx] <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	s := sup.NewSupervisor(ctx,
		sup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		sup.WithCancelOnError(false),
	)
	r.setSupervisor(s, true)
	r.log.Info("command dispatcher started",
		logx.Int("workers", len(r.shards)),
		logx.Int("queue_cap", r.opt.QueueSize),
	)

	for i, jobs := range r.shards {
		idx := i
		s.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			sup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			sup.WithPublishFirstError(true),
			sup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		s.Cancel()
		// Wait briefly for workers to finish the job in hand.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = s.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		fb := r.fallback
		r.mu.RUnlock()
		if fb == nil || text == "" {
			return
		}
		r.enqueue(ctx, *msg, chat, Command{Handle: fb}, nil)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := commandWord(parts[0])

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	r.mu.RUnlock()
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, r.opt.UnknownText, nil)
		return
	}
	r.enqueue(ctx, *msg, chat, *cmd, parts[1:])
}

func (r *Router) enqueue(root context.Context, msg kit.Message, chat kit.ChatTarget, cmd Command, args []string) {
	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opt.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	if !r.tryEnqueue(msg.ChatID, func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, chat, r.opt.BusyText, nil)
	}
}
