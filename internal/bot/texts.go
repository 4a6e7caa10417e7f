package bot

import (
	"fmt"
	"strings"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/storage"
	"gatebot/internal/userstore"
)

// Callback actions.
const (
	cbGenerateToken = "generate_token"
	cbCheckVerify   = "check_verification"
	cbTokenStatus   = "token_status"
	cbMyStats       = "my_stats"
	cbHelp          = "help"
	cbBackToStart   = "back_to_start"
	cbHowToUse      = "how_to_use"
)

func startText(set userstore.Settings) string {
	return fmt.Sprintf(`👋 Welcome!

🎬 Features:
✅ Direct video playback in Telegram
✅ Token-based access system
✅ Anti-spam protection

📝 How to use:
1. Tap the button below to generate a token
2. Complete verification (once per %s)
3. Send a link
4. Enjoy your video!

💡 Token valid for: %s
⏰ Verification needed: once per %s`,
		humanDuration(set.Validity), humanDuration(set.TokenDuration), humanDuration(set.Validity))
}

func verifyText(set userstore.Settings) string {
	return fmt.Sprintf(`🔐 Token Verification Required!

Your token has expired or you need to verify.

⏰ Token duration: %s
🔄 Re-verification: every %s

Steps:
1. Tap the button below
2. Complete the verification
3. Come back and tap "✅ I Verified"`,
		humanDuration(set.TokenDuration), humanDuration(set.Validity))
}

func tokenActiveText(set userstore.Settings, nextVerify time.Time) string {
	return fmt.Sprintf(`✅ Token Activated Successfully!

⏰ Valid for: %s
🔄 Next verification: %s

💡 Send a link to start!`,
		humanDuration(set.TokenDuration), nextVerify.Format("2006-01-02 15:04:05"))
}

const howToUseText = "🎬 Send a supported link in this chat and the bot will fetch it for you while your token is active."

func userStatsText(u userstore.User, tok userstore.Token, hasToken bool, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 Your Stats\n\n")
	fmt.Fprintf(&b, "🆔 ID: %d\n", u.ID)
	if u.Username != "" {
		fmt.Fprintf(&b, "👤 Username: @%s\n", u.Username)
	}
	if !u.JoinedAt.IsZero() {
		fmt.Fprintf(&b, "📅 Joined: %s\n", u.JoinedAt.Format("2006-01-02"))
	}
	switch {
	case hasToken && now.Before(tok.ExpiresAt):
		fmt.Fprintf(&b, "🔑 Token: active, %s left", humanDuration(tok.ExpiresAt.Sub(now)))
	default:
		b.WriteString("🔑 Token: none")
	}
	return b.String()
}

func botStatsText(st userstore.Stats, running int) string {
	var b strings.Builder
	b.WriteString("⚙️ Bot Statistics\n\n")
	fmt.Fprintf(&b, "👥 Total users: %d\n", st.TotalUsers)
	fmt.Fprintf(&b, "🔑 Active tokens: %d\n", st.ActiveTokens)
	fmt.Fprintf(&b, "🚫 Banned: %d\n", st.Banned)
	fmt.Fprintf(&b, "📢 Running broadcasts: %d\n\n", running)
	fmt.Fprintf(&b, "• Token duration: %s\n", humanDuration(st.TokenDuration))
	fmt.Fprintf(&b, "• Validity period: %s", humanDuration(st.Validity))
	return b.String()
}

func runStatusText(snap broadcast.RunSnapshot) string {
	if snap.Status == broadcast.StatusCompleted {
		return broadcast.FormatSummary(snap)
	}
	st := snap.Stats
	return fmt.Sprintf("🆔 Run: %s (running since %s)\n\n%s",
		snap.ID, snap.StartedAt.Format("15:04:05"), broadcast.FormatProgress(st, st.Attempted(), st.Total))
}

func runListText(runs []broadcast.RunSnapshot) string {
	if len(runs) == 0 {
		return "No broadcasts recorded since the last restart."
	}
	var b strings.Builder
	b.WriteString("📢 Recent broadcasts\n")
	for i, r := range runs {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "\n• %s  %s  %d/%d ok", r.ID, r.Status, r.Stats.Success, r.Stats.Total)
	}
	b.WriteString("\n\nUse /bstatus <run_id> for details.")
	return b.String()
}

func activeSummaryText(st broadcast.Stats, took time.Duration) string {
	return fmt.Sprintf("📢 Broadcast to active users completed\n\n👥 Total: %d\n✅ Success: %d\n❌ Failed: %d\n⏱ Took: %s",
		st.Total, st.Success, st.Failed, took.Round(time.Second))
}

func historyText(entries []storage.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries yet."
	}
	var b strings.Builder
	b.WriteString("🗂 Audit history\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n• %s  %s by %d", e.At.Local().Format("01-02 15:04"), e.Action, e.ActorID)
		if e.Target != "" {
			fmt.Fprintf(&b, "  [%s]", e.Target)
		}
		if e.OK+e.Fail > 0 {
			fmt.Fprintf(&b, "  ok=%d fail=%d", e.OK, e.Fail)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, "  err=%s", e.Error)
		}
	}
	return b.String()
}

// humanDuration renders 90m as "1h 30m" and 24h as "24h".
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
