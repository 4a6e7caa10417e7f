package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatebot/pkg/logx"
)

func TestFormatProgress(t *testing.T) {
	t.Parallel()

	got := FormatProgress(Stats{Success: 40, Failed: 10, Blocked: 6, Deleted: 3}, 50, 120)
	want := "📢 Broadcast Progress\n\n" +
		"📊 Progress: 41.7% (50/120)\n\n" +
		"✅ Success: 40\n" +
		"❌ Failed: 10\n" +
		"🚫 Blocked: 6\n" +
		"👻 Deleted: 3"
	assert.Equal(t, want, got)
	assert.Contains(t, FormatProgress(Stats{}, 0, 0), "0.0% (0/0)")
}

func TestFormatSummary(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_700_000_000, 0)
	snap := RunSnapshot{
		ID:        "1_1700000000",
		Status:    StatusCompleted,
		StartedAt: start,
		DoneAt:    start.Add(90 * time.Second),
		Stats: Stats{
			Total: 8, Success: 1, Failed: 7,
			Errors:  []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7"},
			Dropped: 4,
		},
	}
	got := FormatSummary(snap)
	assert.Contains(t, got, "🆔 Run: 1_1700000000")
	assert.Contains(t, got, "⏱ Took: 1m30s")
	assert.Contains(t, got, "Last errors (7, 4 older dropped):")
	assert.NotContains(t, got, "• e2")
	assert.Contains(t, got, "• e3")
	assert.Contains(t, got, "• e7")
}

func TestProgressReporter_BreakerStopsAfterFailures(t *testing.T) {
	t.Parallel()

	client := newFakeClient().failWith(operatorID, errBoom, errBoom, errBoom, errBoom, errBoom)
	p := NewProgressReporter(client, logx.Nop())

	for i := 1; i <= 5; i++ {
		p.Report(context.Background(), operatorID, Stats{}, i*50, 500)
	}
	require.Len(t, client.sendsTo(operatorID), 3)
}

func TestProgressReporter_NoOperator(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	NewProgressReporter(client, logx.Nop()).Report(context.Background(), 0, Stats{}, 50, 100)
	var nilReporter *ProgressReporter
	nilReporter.Report(context.Background(), operatorID, Stats{}, 50, 100)
	assert.Empty(t, client.sends)
}
