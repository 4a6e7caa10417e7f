// Package bot is the chat surface of gatebot: user onboarding and the token
// gate, and the admin commands that drive the broadcast engine.
package bot

import (
	"context"
	"regexp"
	"sync"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/runtime/supervisor"
	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

// Deps are the collaborators of a Bot. Audit and Observer may be nil.
type Deps struct {
	Adapter  kit.Adapter
	Users    userstore.Store
	Engine   *broadcast.Engine
	Audit    storage.Store
	Observer CommandObserver
	// Runs owns broadcast goroutines so shutdown can wait for them.
	Runs     *supervisor.Supervisor
	Cooldown *Cooldown
	Log      logx.Logger
}

type Options struct {
	Admins          []int64
	VerificationURL string
	// LinkPattern selects plain messages handled by the gated link handler.
	LinkPattern *regexp.Regexp
}

var DefaultLinkPattern = regexp.MustCompile(`https?://\S*(terabox|1024terabox)\.(com|app)`)

type Bot struct {
	adapter  kit.Adapter
	users    userstore.Store
	engine   *broadcast.Engine
	audit    storage.Store
	runs     *supervisor.Supervisor
	cooldown *Cooldown
	router   *Router
	log      logx.Logger
	now      func() time.Time

	mu        sync.RWMutex
	verifyURL string
	links     *regexp.Regexp
}

func New(d Deps, opt Options) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Cooldown == nil {
		d.Cooldown = NewCooldown(time.Minute)
	}
	if d.Runs == nil {
		d.Runs = supervisor.New(context.Background(), supervisor.WithLogger(d.Log))
	}
	if opt.LinkPattern == nil {
		opt.LinkPattern = DefaultLinkPattern
	}
	b := &Bot{
		adapter:   d.Adapter,
		users:     d.Users,
		engine:    d.Engine,
		audit:     d.Audit,
		runs:      d.Runs,
		cooldown:  d.Cooldown,
		log:       d.Log,
		now:       time.Now,
		verifyURL: opt.VerificationURL,
		links:     opt.LinkPattern,
	}
	b.router = NewRouter(d.Adapter, d.Log.With(logx.String("comp", "bot")), opt.Admins)
	if d.Observer != nil {
		b.router.Use(MWObserve(d.Observer))
	}
	b.router.SetRoutes(b.commands(), b.callbacks(), b.textRoutes())
	return b
}

func (b *Bot) Router() *Router { return b.router }

// Run routes updates until ctx is done.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	return b.router.Run(ctx, updates)
}

func (b *Bot) SetAdmins(ids []int64) { b.router.SetAdmins(ids) }

func (b *Bot) SetVerificationURL(u string) {
	b.mu.Lock()
	b.verifyURL = u
	b.mu.Unlock()
}

func (b *Bot) verificationURL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.verifyURL
}

func (b *Bot) linkMatch(text string) bool {
	b.mu.RLock()
	re := b.links
	b.mu.RUnlock()
	return re.MatchString(text)
}

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "Start the bot", Usage: "/start", Handle: b.cmdStart},
		{Name: "help", Aliases: []string{"h"}, Description: "Show commands", Usage: "/help", Handle: b.cmdHelp},

		{Name: "broadcast", Access: AccessAdmin, Description: "Send a message to all users", Usage: "/broadcast [--pin] [--silent] <text> (or reply to a message)", Handle: b.cmdBroadcast},
		{Name: "broadcast_active", Access: AccessAdmin, Description: "Send a message to users with an active token", Usage: "/broadcast_active [--silent] <text> (or reply)", Handle: b.cmdBroadcastActive},
		{Name: "bstatus", Access: AccessAdmin, Description: "Broadcast status", Usage: "/bstatus [run_id]", Handle: b.cmdBroadcastStatus},
		{Name: "history", Access: AccessAdmin, Description: "Recent audited actions", Usage: "/history [n] [--action=broadcast]", Timeout: 10 * time.Second, Handle: b.cmdHistory},
		{Name: "ban", Access: AccessAdmin, Description: "Ban a user", Usage: "/ban <user_id>", Timeout: 10 * time.Second, Handle: b.cmdBan},
		{Name: "unban", Access: AccessAdmin, Description: "Unban a user", Usage: "/unban <user_id>", Timeout: 10 * time.Second, Handle: b.cmdUnban},
		{Name: "verify", Access: AccessAdmin, Description: "Mark a user as verified", Usage: "/verify <user_id>", Timeout: 10 * time.Second, Handle: b.cmdVerify},
		{Name: "stats", Access: AccessAdmin, Description: "Bot statistics", Usage: "/stats", Timeout: 30 * time.Second, Handle: b.cmdStats},
		{Name: "setduration", Access: AccessAdmin, Description: "Set token duration", Usage: "/setduration <hours|duration>", Timeout: 10 * time.Second, Handle: b.cmdSetDuration},
		{Name: "setvalidity", Access: AccessAdmin, Description: "Set verification validity", Usage: "/setvalidity <hours|duration>", Timeout: 10 * time.Second, Handle: b.cmdSetValidity},
	}
}

func (b *Bot) callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Action: cbGenerateToken, Handle: b.cbGenerateToken},
		{Action: cbCheckVerify, Handle: b.cbCheckVerification},
		{Action: cbTokenStatus, Handle: b.cbTokenStatus},
		{Action: cbMyStats, Handle: b.cbMyStats},
		{Action: cbHelp, Handle: b.cmdHelp},
		{Action: cbBackToStart, Handle: b.cmdStart},
		{Action: cbHowToUse, Handle: b.cbHowToUse},
	}
}

func (b *Bot) textRoutes() []TextRoute {
	return []TextRoute{{Name: "link", Match: b.linkMatch, Timeout: 30 * time.Second, Handle: b.onLink}}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, buttons [][]kit.Button) error {
	opt := &kit.SendOptions{DisablePreview: true, Buttons: buttons}
	_, err := b.adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func (b *Bot) answer(ctx context.Context, req *Request, text string) error {
	if req.Callback == nil {
		return b.reply(ctx, req, text, nil)
	}
	return b.adapter.AnswerCallback(ctx, req.Callback.ID, text)
}

func (b *Bot) writeAudit(ctx context.Context, e storage.AuditEntry) {
	if b.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	if err := b.audit.AppendAudit(ctx, e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
