package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

const operatorID int64 = 9000

func newTestEngine(t *testing.T, client *fakeClient, src *fakeSource, cfg Config) (*Engine, *fakeSleeper) {
	t.Helper()
	sl := &fakeSleeper{}
	return New(cfg, client, src, logx.Nop(), WithSleeper(sl)), sl
}

func TestDispatchToAll_BlockedRecipient(t *testing.T) {
	t.Parallel()

	client := newFakeClient().failWith(2, kit.ErrBlocked)
	eng, sl := newTestEngine(t, client, &fakeSource{users: []int64{1, 2, 3}}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Success)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Blocked)
	assert.Equal(t, 0, st.Deleted)
	assert.Empty(t, st.Errors)
	assert.Equal(t, 3, client.deliveries(operatorID))
	// Pacing follows every attempt but the last.
	assert.Equal(t, []time.Duration{defaultPacingDelay, defaultPacingDelay}, sl.durations())
}

func TestDispatchToAll_ClassifiesFailures(t *testing.T) {
	t.Parallel()

	client := newFakeClient().
		failWith(1, kit.ErrDeactivated).
		failWith(2, fmt.Errorf("send: %w", kit.ErrInvalidRecipient)).
		failWith(3, errBoom)
	eng, _ := newTestEngine(t, client, &fakeSource{users: []int64{1, 2, 3, 4}}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, Stats{
		Total:   4,
		Success: 1,
		Failed:  3,
		Deleted: 1,
		Errors:  []string{"User 3: boom"},
	}, st)
	assert.Equal(t, st.Total, st.Attempted())
}

func TestDispatchToAll_FloodWaitThenSuccess(t *testing.T) {
	t.Parallel()

	client := newFakeClient().failWith(7, &kit.FloodWaitError{RetryAfter: 5 * time.Second})
	eng, sl := newTestEngine(t, client, &fakeSource{users: []int64{7}}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 0, st.Failed)
	assert.GreaterOrEqual(t, sl.total(), 5*time.Second)
	assert.Len(t, client.sendsTo(7), 2)
}

func TestDispatchToAll_FloodRetryIsSingle(t *testing.T) {
	t.Parallel()

	flood := &kit.FloodWaitError{RetryAfter: 3 * time.Second}
	client := newFakeClient().failWith(1, flood, flood, flood)
	eng, sl := newTestEngine(t, client, &fakeSource{users: []int64{1, 2}}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi", Pin: true})
	require.NoError(t, err)

	assert.Len(t, client.sendsTo(1), 2, "at most one retry after a flood wait")
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.Errors, 1)
	assert.True(t, strings.HasPrefix(st.Errors[0], "User 1: "))
	// Only the flood wait; no pacing after a retry and none after the last recipient.
	assert.Equal(t, []time.Duration{3 * time.Second}, sl.durations())
	// Recipient 2 succeeded and was pinned; the flood retry never pins.
	require.Len(t, client.pins, 1)
	assert.Equal(t, int64(2), client.pins[0].ChatID)
}

func TestDispatchToAll_BannedRecipientSkipped(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	src := &fakeSource{users: []int64{1, 2, 3}, banned: map[int64]bool{2: true}}
	eng, sl := newTestEngine(t, client, src, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Empty(t, client.sendsTo(2))
	assert.Equal(t, 2, st.Success)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 0, st.Blocked)
	// Pacing after 1 only: 2 is skipped, 3 is last.
	assert.Len(t, sl.durations(), 1)
}

func TestDispatchToAll_BanLookupErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	src := &fakeSource{users: []int64{1, 2}, banErr: map[int64]error{1: errBoom}}
	eng, _ := newTestEngine(t, client, src, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Empty(t, client.sendsTo(1))
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "ban lookup")
}

func TestDispatchToAll_ProgressEveryFifty(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	eng, _ := newTestEngine(t, client, &fakeSource{users: usersRange(120)}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 120, st.Success)

	reports := client.sendsTo(operatorID)
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0].Text, "41.7% (50/120)")
	assert.Contains(t, reports[1].Text, "83.3% (100/120)")
}

func TestDispatchToAll_PayloadShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  Payload
		wantFile kit.FileRef
		wantPins int
	}{
		{name: "text", payload: Payload{Text: "hello", Pin: true}, wantPins: 1},
		{name: "file with caption", payload: Payload{Text: "cap", File: "file-id", Pin: true}, wantFile: "file-id", wantPins: 1},
		{name: "silent no pin", payload: Payload{Text: "hello", Silent: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newFakeClient()
			eng, _ := newTestEngine(t, client, &fakeSource{users: []int64{5}}, Config{})

			_, err := eng.DispatchToAll(context.Background(), operatorID, tt.payload)
			require.NoError(t, err)

			sends := client.sendsTo(5)
			require.Len(t, sends, 1)
			assert.Equal(t, tt.wantFile, sends[0].File)
			assert.Equal(t, tt.payload.Text, sends[0].Text)
			assert.Equal(t, tt.payload.Silent, sends[0].Options.Silent)
			assert.Len(t, client.pins, tt.wantPins)
		})
	}
}

func TestDispatchToAll_PinFailureIgnored(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.pinErr = errBoom
	eng, _ := newTestEngine(t, client, &fakeSource{users: []int64{1, 2}}, Config{})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi", Pin: true})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Success)
	assert.Len(t, client.pins, 2)
}

func TestDispatchToAll_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		eng, _ := newTestEngine(t, newFakeClient(), &fakeSource{users: []int64{1}}, Config{})
		_, err := eng.DispatchToAll(context.Background(), operatorID, Payload{})
		require.ErrorIs(t, err, ErrEmptyPayload)
		assert.Zero(t, eng.Registry().Len())
	})

	t.Run("source unavailable", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		eng, _ := newTestEngine(t, client, &fakeSource{listErr: errBoom}, Config{})
		_, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
		require.ErrorIs(t, err, errBoom)
		assert.Zero(t, client.deliveries(operatorID))
		assert.Zero(t, eng.Registry().Len())
	})
}

func TestDispatchToAll_ErrorsAreCapped(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	for id := int64(1); id <= 5; id++ {
		client.failWith(id, errBoom)
	}
	eng, _ := newTestEngine(t, client, &fakeSource{users: usersRange(5)}, Config{MaxErrors: 3})

	st, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 5, st.Failed)
	assert.Equal(t, []string{"User 3: boom", "User 4: boom", "User 5: boom"}, st.Errors)
	assert.Equal(t, 2, st.Dropped)
}

func TestRunStatus_Lifecycle(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	eng, _ := newTestEngine(t, client, &fakeSource{users: []int64{1, 2, 3}}, Config{})

	id, exec, err := eng.Start(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, fmt.Sprintf("%d_", operatorID)))

	snap, ok := eng.RunStatus(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, Stats{Total: 3}, snap.Stats)

	var mid RunSnapshot
	client.onSend = func(to int64) {
		if to == 3 {
			mid, _ = eng.RunStatus(id)
		}
	}
	_, err = exec(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, mid.Status)
	assert.Equal(t, 2, mid.Stats.Success)

	first, ok := eng.RunStatus(id)
	require.True(t, ok)
	second, ok := eng.RunStatus(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, first, second)
	assert.False(t, first.DoneAt.IsZero())

	_, ok = eng.RunStatus("nope")
	assert.False(t, ok)
}

func TestDispatchToAll_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	client.onSend = func(to int64) {
		if to == 2 {
			cancel()
		}
	}
	eng, _ := newTestEngine(t, client, &fakeSource{users: usersRange(5)}, Config{})

	id, exec, err := eng.Start(ctx, operatorID, Payload{Text: "hi"})
	require.NoError(t, err)
	st, err := exec(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, st.Attempted())

	snap, ok := eng.RunStatus(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestDispatchToRecipients_Reduced(t *testing.T) {
	t.Parallel()

	client := newFakeClient().
		failWith(2, &kit.FloodWaitError{RetryAfter: time.Minute}).
		failWith(3, kit.ErrBlocked)
	src := &fakeSource{banned: map[int64]bool{1: true}}
	eng, sl := newTestEngine(t, client, src, Config{})

	st := eng.DispatchToRecipients(context.Background(), []int64{1, 2, 3, 4}, Payload{Text: "hi", Pin: true})

	assert.Equal(t, Stats{Total: 4, Success: 2, Failed: 2}, st)
	assert.Empty(t, client.pins)
	assert.Len(t, client.sendsTo(2), 1, "no flood retry")
	assert.Len(t, client.sendsTo(1), 1, "no ban check")
	assert.Empty(t, client.sendsTo(operatorID))
	assert.Len(t, sl.durations(), 3)
	assert.Zero(t, eng.Registry().Len())
}

func TestDispatchToActiveRecipients(t *testing.T) {
	t.Parallel()

	valid := map[int64]bool{2: true, 4: true, 6: true, 8: true}
	client := newFakeClient()
	eng, _ := newTestEngine(t, client, &fakeSource{users: usersRange(10), valid: valid}, Config{})

	st, err := eng.DispatchToActiveRecipients(context.Background(), Payload{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 4, client.deliveries(operatorID))
	assert.Equal(t, Stats{Total: 4, Success: 4}, st)
	for id := range valid {
		assert.Len(t, client.sendsTo(id), 1)
	}
}

func TestEngineApply_ChangesPacing(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	eng, sl := newTestEngine(t, client, &fakeSource{users: []int64{1, 2}}, Config{})
	eng.Apply(Config{PacingDelay: 250 * time.Millisecond})

	_, err := eng.DispatchToAll(context.Background(), operatorID, Payload{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, sl.durations())
}
