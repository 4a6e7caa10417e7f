package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	kit "gatebot/internal/transport"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

func (b *Bot) settings(ctx context.Context, req *Request) userstore.Settings {
	set, err := b.users.Settings(ctx)
	if err != nil {
		req.Log.Warn("settings lookup failed; using defaults", logx.Err(err))
		return userstore.DefaultSettings()
	}
	return set
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	banned, err := b.users.IsBanned(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("ban lookup: %w", err)
	}
	if banned {
		return b.reply(ctx, req, "🚫 You are banned from using this bot.", nil)
	}

	if req.Message != nil {
		u := userstore.User{
			ID:        req.FromID,
			Username:  req.Message.FromUsername,
			FirstName: req.Message.FromName,
		}
		if err := b.users.AddUser(ctx, u); err != nil {
			return fmt.Errorf("add user: %w", err)
		}
	}

	valid, err := b.users.IsTokenValid(ctx, req.FromID)
	if err != nil {
		req.Log.Warn("token lookup failed", logx.Err(err))
	}
	top := kit.Button{Text: "🔐 Generate Token", Data: cbGenerateToken}
	if valid {
		top = kit.Button{Text: "✅ Token Active", Data: cbTokenStatus}
	}
	buttons := [][]kit.Button{
		{top},
		{{Text: "📊 My Stats", Data: cbMyStats}, {Text: "❓ Help", Data: cbHelp}},
	}
	return b.reply(ctx, req, startText(b.settings(ctx, req)), buttons)
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	var sb strings.Builder
	sb.WriteString("❓ Commands\n")
	for _, c := range b.router.Commands(b.router.IsAdmin(req.FromID)) {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&sb, "\n%s\n   %s", usage, c.Description)
	}
	return b.reply(ctx, req, sb.String(), nil)
}

func (b *Bot) verifyLink(userID int64) string {
	base := b.verificationURL()
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("id", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func (b *Bot) cbGenerateToken(ctx context.Context, req *Request) error {
	verified, err := b.users.IsVerified(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("verification lookup: %w", err)
	}
	valid, err := b.users.IsTokenValid(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("token lookup: %w", err)
	}
	if verified && valid {
		return b.answer(ctx, req, "✅ Your token is already active!")
	}

	var buttons [][]kit.Button
	if link := b.verifyLink(req.FromID); link != "" {
		buttons = append(buttons, []kit.Button{{Text: "🔗 Click Here to Verify", URL: link}})
	}
	buttons = append(buttons,
		[]kit.Button{{Text: "✅ I Verified", Data: cbCheckVerify}},
		[]kit.Button{{Text: "🔙 Back", Data: cbBackToStart}},
	)
	return b.reply(ctx, req, verifyText(b.settings(ctx, req)), buttons)
}

func (b *Bot) cbCheckVerification(ctx context.Context, req *Request) error {
	verified, err := b.users.IsVerified(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("verification lookup: %w", err)
	}
	if !verified {
		return b.answer(ctx, req, "❌ Verification not completed! Please complete the verification first.")
	}
	if _, err := b.users.SaveToken(ctx, req.FromID); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	set := b.settings(ctx, req)
	req.Log.Info("token issued", logx.Duration("duration", set.TokenDuration))

	buttons := [][]kit.Button{
		{{Text: "🎬 How to use", Data: cbHowToUse}},
		{{Text: "📊 My Stats", Data: cbMyStats}},
	}
	return b.reply(ctx, req, tokenActiveText(set, b.now().Add(set.Validity)), buttons)
}

func (b *Bot) cbTokenStatus(ctx context.Context, req *Request) error {
	tok, err := b.users.GetToken(ctx, req.FromID)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		return b.answer(ctx, req, "🔑 No active token. Tap Generate Token.")
	case err != nil:
		return fmt.Errorf("token lookup: %w", err)
	}
	left := tok.ExpiresAt.Sub(b.now())
	if left <= 0 {
		return b.answer(ctx, req, "⌛ Your token has expired.")
	}
	return b.answer(ctx, req, "✅ Token active, "+humanDuration(left)+" left.")
}

func (b *Bot) cbMyStats(ctx context.Context, req *Request) error {
	u, err := b.users.GetUser(ctx, req.FromID)
	if errors.Is(err, userstore.ErrNotFound) {
		u = userstore.User{ID: req.FromID}
	} else if err != nil {
		return fmt.Errorf("user lookup: %w", err)
	}
	tok, err := b.users.GetToken(ctx, req.FromID)
	if err != nil && !errors.Is(err, userstore.ErrNotFound) {
		return fmt.Errorf("token lookup: %w", err)
	}
	return b.reply(ctx, req, userStatsText(u, tok, err == nil, b.now()), nil)
}

func (b *Bot) cbHowToUse(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, howToUseText, nil)
}

// onLink gates a link request on ban status, a valid token and the per-user cooldown.
func (b *Bot) onLink(ctx context.Context, req *Request) error {
	banned, err := b.users.IsBanned(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("ban lookup: %w", err)
	}
	if banned {
		return nil
	}
	valid, err := b.users.IsTokenValid(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("token lookup: %w", err)
	}
	if !valid {
		return b.reply(ctx, req, "⚠️ Token Expired or Invalid!\n\nPlease generate a new token to use the bot.",
			[][]kit.Button{{{Text: "🔐 Generate Token", Data: cbGenerateToken}}})
	}
	if wait, ok := b.cooldown.Allow(req.FromID); !ok {
		return b.reply(ctx, req, fmt.Sprintf("⏳ Wait %d seconds", int(wait.Seconds()+0.999)), nil)
	}

	link := req.Text
	if len(link) > 50 {
		link = link[:50] + "..."
	}
	req.Log.Info("link accepted", logx.String("link", link))
	return b.reply(ctx, req, "🔍 Processing link...\n\n"+link, nil)
}
