package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	kit "gatebot/internal/transport"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"blocked", kit.ErrBlocked, OutcomeBlocked},
		{"wrapped blocked", fmt.Errorf("telegram: %w", kit.ErrBlocked), OutcomeBlocked},
		{"deactivated", kit.ErrDeactivated, OutcomeDeleted},
		{"invalid", kit.ErrInvalidRecipient, OutcomeInvalid},
		{"flood", &kit.FloodWaitError{RetryAfter: time.Second}, OutcomeFloodWait},
		{"wrapped flood", fmt.Errorf("send: %w", &kit.FloodWaitError{RetryAfter: time.Second}), OutcomeFloodWait},
		// Blocked wins over flood when both are present in the chain.
		{"flood caused by blocked", &kit.FloodWaitError{RetryAfter: time.Second, Cause: kit.ErrBlocked}, OutcomeBlocked},
		{"other", errBoom, OutcomeOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStatsRecord(t *testing.T) {
	t.Parallel()

	var st Stats
	st.record(OutcomeSuccess, 1, nil, 10)
	st.record(OutcomeBlocked, 2, kit.ErrBlocked, 10)
	st.record(OutcomeDeleted, 3, kit.ErrDeactivated, 10)
	st.record(OutcomeInvalid, 4, kit.ErrInvalidRecipient, 10)
	st.record(OutcomeBanned, 5, nil, 10)
	st.record(OutcomeOther, 6, errBoom, 10)

	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 5, st.Failed)
	assert.Equal(t, 1, st.Blocked)
	assert.Equal(t, 1, st.Deleted)
	assert.Equal(t, []string{"User 6: boom"}, st.Errors)
	assert.Equal(t, 6, st.Attempted())
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "flood_wait", OutcomeFloodWait.String())
	assert.Equal(t, "banned", OutcomeBanned.String())
	assert.Equal(t, "other", Outcome(99).String())
}
