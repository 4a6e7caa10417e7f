package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/storage"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

const (
	actionBroadcast       = "broadcast"
	actionBroadcastActive = "broadcast_active"
	actionBan             = "ban"
	actionUnban           = "unban"
	actionVerify          = "verify"
	actionSettings        = "settings"
)

// payloadFrom builds the broadcast payload from the command text, or from the
// message the command replies to. Text after the flags overrides the reply's text.
func payloadFrom(req *Request) broadcast.Payload {
	flags, body := leadingFlags(req.Text)
	p := broadcast.Payload{Pin: flags["pin"], Silent: flags["silent"]}
	if req.Message != nil && req.Message.ReplyTo != nil {
		p.Text = req.Message.ReplyTo.Text
		p.File = req.Message.ReplyTo.File
	}
	if strings.TrimSpace(body) != "" {
		p.Text = body
	}
	return p
}

func (b *Bot) cmdBroadcast(ctx context.Context, req *Request) error {
	p := payloadFrom(req)
	id, exec, err := b.engine.Start(ctx, req.FromID, p)
	switch {
	case errors.Is(err, broadcast.ErrEmptyPayload):
		return b.reply(ctx, req, "Usage: /broadcast [--pin] [--silent] <text>\nor reply to a message with /broadcast", nil)
	case err != nil:
		_ = b.reply(ctx, req, "❌ Could not start broadcast: "+err.Error(), nil)
		return err
	}

	total := 0
	if snap, ok := b.engine.RunStatus(id); ok {
		total = snap.Stats.Total
	}
	_ = b.reply(ctx, req, fmt.Sprintf("📢 Broadcast started\n\n🆔 Run: %s\n👥 Recipients: %d\n\nUse /bstatus %s to follow it.", id, total, id), nil)

	chat, operator, log := req.Chat, req.FromID, req.Log.With(logx.String("run", id))
	b.runs.Go("broadcast."+id, func(rctx context.Context) error {
		start := b.now()
		st, runErr := exec(rctx)
		snap, ok := b.engine.RunStatus(id)
		if !ok {
			snap = broadcast.RunSnapshot{ID: id, Status: broadcast.StatusCompleted, Stats: st}
		}

		// The run context may already be cancelled on shutdown; report anyway.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(rctx), 10*time.Second)
		defer cancel()
		if _, err := b.adapter.SendText(sctx, chat, broadcast.FormatSummary(snap), nil); err != nil {
			log.Warn("summary delivery failed", logx.Err(err))
		}

		meta, _ := json.Marshal(map[string]any{
			"total":   st.Total,
			"blocked": st.Blocked,
			"deleted": st.Deleted,
			"pin":     p.Pin,
			"silent":  p.Silent,
			"file":    p.File != "",
		})
		e := storage.AuditEntry{
			ActorID:       operator,
			ActorUsername: usernameOf(req),
			Action:        actionBroadcast,
			Target:        id,
			OK:            st.Success,
			Fail:          st.Failed,
			TookMS:        b.now().Sub(start).Milliseconds(),
			MetaJSON:      string(meta),
		}
		if runErr != nil {
			e.Error = runErr.Error()
		}
		b.writeAudit(sctx, e)
		return nil
	})
	return nil
}

func (b *Bot) cmdBroadcastActive(ctx context.Context, req *Request) error {
	p := payloadFrom(req)
	p.Pin = false
	if p.Text == "" && p.File == "" {
		return b.reply(ctx, req, "Usage: /broadcast_active [--silent] <text>\nor reply to a message with /broadcast_active", nil)
	}
	_ = b.reply(ctx, req, "📢 Broadcast to users with an active token started.", nil)

	chat, operator := req.Chat, req.FromID
	username, log := usernameOf(req), req.Log
	b.runs.Go("broadcast.active."+req.ReqID, func(rctx context.Context) error {
		start := b.now()
		st, err := b.engine.DispatchToActiveRecipients(rctx, p)
		took := b.now().Sub(start)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(rctx), 10*time.Second)
		defer cancel()
		text := activeSummaryText(st, took)
		if err != nil {
			text = "❌ Broadcast to active users failed: " + err.Error()
		}
		if _, serr := b.adapter.SendText(sctx, chat, text, nil); serr != nil {
			log.Warn("summary delivery failed", logx.Err(serr))
		}
		e := storage.AuditEntry{
			ActorID:       operator,
			ActorUsername: username,
			Action:        actionBroadcastActive,
			OK:            st.Success,
			Fail:          st.Failed,
			TookMS:        took.Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		b.writeAudit(sctx, e)
		return err
	})
	return nil
}

func (b *Bot) cmdBroadcastStatus(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return b.reply(ctx, req, runListText(b.engine.Registry().List()), nil)
	}
	snap, ok := b.engine.RunStatus(req.Args[0])
	if !ok {
		return b.reply(ctx, req, "❓ Unknown run id: "+req.Args[0], nil)
	}
	return b.reply(ctx, req, runStatusText(snap), nil)
}

func (b *Bot) cmdHistory(ctx context.Context, req *Request) error {
	if b.audit == nil {
		return b.reply(ctx, req, "Audit storage is disabled.", nil)
	}
	n := 10
	if len(req.Args) > 0 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 {
			n = min(v, 50)
		}
	}
	entries, err := b.audit.RecentAudit(ctx, req.Flags["action"], n)
	if err != nil {
		_ = b.reply(ctx, req, "❌ Could not read audit history.", nil)
		return err
	}
	return b.reply(ctx, req, historyText(entries), nil)
}

func (b *Bot) userArg(ctx context.Context, req *Request, usage string) (int64, bool) {
	if len(req.Args) == 0 {
		_ = b.reply(ctx, req, "Usage: "+usage, nil)
		return 0, false
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id == 0 {
		_ = b.reply(ctx, req, "❌ Invalid user id: "+req.Args[0], nil)
		return 0, false
	}
	return id, true
}

func (b *Bot) cmdBan(ctx context.Context, req *Request) error {
	id, ok := b.userArg(ctx, req, "/ban <user_id>")
	if !ok {
		return nil
	}
	if b.router.IsAdmin(id) {
		return b.reply(ctx, req, "❌ Admins cannot be banned.", nil)
	}
	if err := b.users.Ban(ctx, id); err != nil {
		return fmt.Errorf("ban %d: %w", id, err)
	}
	b.writeAudit(ctx, storage.AuditEntry{ActorID: req.FromID, ActorUsername: usernameOf(req), Action: actionBan, Target: strconv.FormatInt(id, 10), OK: 1})
	return b.reply(ctx, req, fmt.Sprintf("🚫 User %d banned.", id), nil)
}

func (b *Bot) cmdUnban(ctx context.Context, req *Request) error {
	id, ok := b.userArg(ctx, req, "/unban <user_id>")
	if !ok {
		return nil
	}
	if err := b.users.Unban(ctx, id); err != nil {
		return fmt.Errorf("unban %d: %w", id, err)
	}
	b.writeAudit(ctx, storage.AuditEntry{ActorID: req.FromID, ActorUsername: usernameOf(req), Action: actionUnban, Target: strconv.FormatInt(id, 10), OK: 1})
	return b.reply(ctx, req, fmt.Sprintf("✅ User %d unbanned.", id), nil)
}

// cmdVerify records a completed verification for a user, e.g. after a manual check.
func (b *Bot) cmdVerify(ctx context.Context, req *Request) error {
	id, ok := b.userArg(ctx, req, "/verify <user_id>")
	if !ok {
		return nil
	}
	v, err := b.users.SaveVerification(ctx, id)
	if err != nil {
		return fmt.Errorf("verify %d: %w", id, err)
	}
	b.writeAudit(ctx, storage.AuditEntry{ActorID: req.FromID, ActorUsername: usernameOf(req), Action: actionVerify, Target: strconv.FormatInt(id, 10), OK: 1})
	return b.reply(ctx, req, fmt.Sprintf("✅ User %d verified until %s.", id, v.ExpiresAt.Local().Format("2006-01-02 15:04")), nil)
}

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	st, err := b.users.Stats(ctx)
	if err != nil {
		_ = b.reply(ctx, req, "❌ Could not load statistics.", nil)
		return err
	}
	running := 0
	for _, r := range b.engine.Registry().List() {
		if r.Status == broadcast.StatusRunning {
			running++
		}
	}
	return b.reply(ctx, req, botStatsText(st, running), nil)
}

func (b *Bot) cmdSetDuration(ctx context.Context, req *Request) error {
	return b.updateSettings(ctx, req, "/setduration <hours|duration>", func(s *userstore.Settings, d time.Duration) string {
		s.TokenDuration = d
		return "⏰ Token duration set to " + humanDuration(d) + "."
	})
}

func (b *Bot) cmdSetValidity(ctx context.Context, req *Request) error {
	return b.updateSettings(ctx, req, "/setvalidity <hours|duration>", func(s *userstore.Settings, d time.Duration) string {
		s.Validity = d
		return "🔄 Validity period set to " + humanDuration(d) + "."
	})
}

func (b *Bot) updateSettings(ctx context.Context, req *Request, usage string, apply func(s *userstore.Settings, d time.Duration) string) error {
	if len(req.Args) == 0 {
		return b.reply(ctx, req, "Usage: "+usage, nil)
	}
	d, ok := parseHours(req.Args[0])
	if !ok {
		return b.reply(ctx, req, "❌ Invalid duration: "+req.Args[0], nil)
	}
	set, err := b.users.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	msg := apply(&set, d)
	if err := b.users.SetSettings(ctx, set); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	meta, _ := json.Marshal(map[string]string{
		"token_duration": set.TokenDuration.String(),
		"validity":       set.Validity.String(),
	})
	b.writeAudit(ctx, storage.AuditEntry{ActorID: req.FromID, ActorUsername: usernameOf(req), Action: actionSettings, OK: 1, MetaJSON: string(meta)})
	req.Log.Info("access settings changed", logx.Duration("token_duration", set.TokenDuration), logx.Duration("validity", set.Validity))
	return b.reply(ctx, req, msg, nil)
}

func usernameOf(req *Request) string {
	if req.Message != nil {
		return req.Message.FromUsername
	}
	return ""
}
