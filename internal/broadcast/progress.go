package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// Notifier sends plain text to the operator.
type Notifier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ProgressReporter tells the operator how far a run got. Reports are best
// effort: a failed report is logged and the run continues. Repeated failures
// open a circuit breaker so a dead operator chat stops costing API calls.
type ProgressReporter struct {
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker[kit.MessageRef]
	log      logx.Logger
}

func NewProgressReporter(n Notifier, log logx.Logger) *ProgressReporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	st := gobreaker.Settings{
		Name:    "broadcast-progress",
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("progress breaker state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	}
	return &ProgressReporter{
		notifier: n,
		breaker:  gobreaker.NewCircuitBreaker[kit.MessageRef](st),
		log:      log,
	}
}

// Report sends the progress line for current/total to operator.
func (p *ProgressReporter) Report(ctx context.Context, operator int64, st Stats, current, total int) {
	if p == nil || p.notifier == nil || operator == 0 {
		return
	}
	text := FormatProgress(st, current, total)
	_, err := p.breaker.Execute(func() (kit.MessageRef, error) {
		return p.notifier.SendText(ctx, kit.ChatTarget{ChatID: operator}, text, &kit.SendOptions{DisablePreview: true})
	})
	if err != nil {
		p.log.Warn("progress report failed", logx.Int64("operator", operator), logx.Int("current", current), logx.Err(err))
	}
}

// FormatProgress renders the operator-facing progress message.
func FormatProgress(st Stats, current, total int) string {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	var b strings.Builder
	b.WriteString("📢 Broadcast Progress\n\n")
	fmt.Fprintf(&b, "📊 Progress: %.1f%% (%d/%d)\n\n", pct, current, total)
	fmt.Fprintf(&b, "✅ Success: %d\n", st.Success)
	fmt.Fprintf(&b, "❌ Failed: %d\n", st.Failed)
	fmt.Fprintf(&b, "🚫 Blocked: %d\n", st.Blocked)
	fmt.Fprintf(&b, "👻 Deleted: %d", st.Deleted)
	return b.String()
}

// FormatSummary renders the final report for a run.
func FormatSummary(snap RunSnapshot) string {
	st := snap.Stats
	var b strings.Builder
	b.WriteString("📢 Broadcast Completed\n\n")
	fmt.Fprintf(&b, "🆔 Run: %s\n", snap.ID)
	fmt.Fprintf(&b, "👥 Total: %d\n", st.Total)
	fmt.Fprintf(&b, "✅ Success: %d\n", st.Success)
	fmt.Fprintf(&b, "❌ Failed: %d\n", st.Failed)
	fmt.Fprintf(&b, "🚫 Blocked: %d\n", st.Blocked)
	fmt.Fprintf(&b, "👻 Deleted: %d", st.Deleted)
	if !snap.DoneAt.IsZero() && !snap.StartedAt.IsZero() {
		fmt.Fprintf(&b, "\n⏱ Took: %s", snap.DoneAt.Sub(snap.StartedAt).Round(time.Second))
	}
	if n := len(st.Errors); n > 0 {
		fmt.Fprintf(&b, "\n\nLast errors (%d", n)
		if st.Dropped > 0 {
			fmt.Fprintf(&b, ", %d older dropped", st.Dropped)
		}
		b.WriteString("):")
		from := 0
		if n > 5 {
			from = n - 5
		}
		for _, e := range st.Errors[from:] {
			b.WriteString("\n• " + e)
		}
	}
	return b.String()
}
