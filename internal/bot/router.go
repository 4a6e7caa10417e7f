package bot

import (
	"context"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatebot/internal/runtime/supervisor"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline buttons whose data is "action" or "action:payload".
type CallbackRoute struct {
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// TextRoute handles plain (non-command) messages accepted by Match. First match wins.
type TextRoute struct {
	Name    string
	Match   func(text string) bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Kind     kit.UpdateKind
	Message  *kit.Message
	Callback *kit.Callback
	Chat     kit.ChatTarget
	FromID   int64
	Command  string
	// Text is the message text after the command word, untouched.
	Text    string
	Args    []string
	Flags   map[string]string
	Bools   map[string]bool
	Payload string
	ReqID   string
	Log     logx.Logger
}

// Router maps updates to handlers and runs them on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	order     []*Command
	callbacks map[string]CallbackRoute
	texts     []TextRoute
	admins    []int64

	adapter kit.Adapter
	log     logx.Logger
	mw      []Middleware
	workers int
	jobs    chan func()
}

func NewRouter(adapter kit.Adapter, log logx.Logger, admins []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &Router{
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		admins:    slices.Clone(admins),
		adapter:   adapter,
		log:       log,
		workers:   workers,
		jobs:      make(chan func(), 256),
	}
}

// Use appends middleware applied inside panic recovery and request logging.
func (r *Router) Use(mw ...Middleware) { r.mw = append(r.mw, mw...) }

// SetAdmins replaces the admin list. Safe during hot reload.
func (r *Router) SetAdmins(ids []int64) {
	cp := slices.Clone(ids)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.admins, id)
}

func (r *Router) SetRoutes(cmds []Command, cbs []CallbackRoute, texts []TextRoute) {
	commands := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		commands[name] = &c
		order = append(order, &c)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				commands[a] = &c
			}
		}
	}
	callbacks := map[string]CallbackRoute{}
	for _, cb := range cbs {
		if cb.Action != "" && cb.Handle != nil {
			callbacks[cb.Action] = cb
		}
	}

	r.mu.Lock()
	r.commands = commands
	r.order = order
	r.callbacks = callbacks
	r.texts = slices.Clone(texts)
	r.mu.Unlock()
}

// Commands lists the registered commands visible to a user with the given access.
func (r *Router) Commands(admin bool) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, c := range r.order {
		if c.Access == AccessAdmin && !admin {
			continue
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Access < out[j].Access })
	return out
}

// Menu returns the public command menu for the client UI.
func (r *Router) Menu() []kit.BotCommand {
	var out []kit.BotCommand
	for _, c := range r.Commands(false) {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(ctx, up)
			if job == nil {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.busy(ctx, up)
			}
		}
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if job := r.prepare(ctx, up); job != nil {
		job()
	}
}

func (r *Router) busy(ctx context.Context, up kit.Update) {
	switch {
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "Busy, try again")
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID}, "⏳ Busy, try again in a moment.", nil)
	}
}

func (r *Router) prepare(ctx context.Context, up kit.Update) func() {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			return r.prepareMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			return r.prepareCallback(ctx, up.Callback)
		}
	}
	return nil
}

func (r *Router) prepareMessage(ctx context.Context, msg *kit.Message) func() {
	chat := kit.ChatTarget{ChatID: msg.ChatID}
	word, rest, isCmd := splitCommand(msg.Text)
	if !isCmd {
		r.mu.RLock()
		texts := r.texts
		r.mu.RUnlock()
		for _, t := range texts {
			if t.Match != nil && t.Match(msg.Text) {
				req := r.newRequest(kit.UpdateMessage, chat, msg.FromID, "text:"+t.Name)
				req.Message, req.Text = msg, msg.Text
				return r.job(ctx, req, t.Handle, t.Timeout)
			}
		}
		return nil
	}

	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		return func() { _, _ = r.adapter.SendText(ctx, chat, "❓ Unknown command. Try /help", nil) }
	}
	if cmd.Access == AccessAdmin && !r.IsAdmin(msg.FromID) {
		return func() { _, _ = r.adapter.SendText(ctx, chat, "⛔ This command is for admins only.", nil) }
	}

	req := r.newRequest(kit.UpdateMessage, chat, msg.FromID, cmd.Name)
	req.Message, req.Text = msg, rest
	req.Args, req.Flags, req.Bools = parseFlags(tokenize(rest))
	return r.job(ctx, req, cmd.Handle, cmd.Timeout)
}

func (r *Router) prepareCallback(ctx context.Context, cb *kit.Callback) func() {
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "") }
	}
	if route.Access == AccessAdmin && !r.IsAdmin(cb.FromID) {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden") }
	}

	req := r.newRequest(kit.UpdateCallback, kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+action)
	req.Callback, req.Payload = cb, payload
	run := r.job(ctx, req, route.Handle, route.Timeout)
	return func() {
		run()
		// Stops the client spinner when the handler did not answer itself.
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

func (r *Router) newRequest(kind kit.UpdateKind, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Kind:    kind,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) job(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) func() {
	mw := append([]Middleware{MWPanicRecover(), MWRequestLog()}, r.mw...)
	mw = append(mw, MWTimeout(timeout))
	final := Chain(h, mw...)
	return func() { _ = final(ctx, req) }
}
