package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatebot/pkg/logx"
)

func TestOpen_Disabled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestStores_AuditRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "gatebot.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			ctx := context.Background()
			at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
			for i, action := range []string{"broadcast", "ban", "broadcast"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:      at.Add(time.Duration(i) * time.Minute),
					ActorID: 1,
					Action:  action,
					Target:  action + "-target",
					OK:      i,
					Fail:    1,
					TookMS:  1500,
				}))
			}

			got, err := st.RecentAudit(ctx, "broadcast", 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, 2, got[0].OK, "newest first")
			assert.Equal(t, 0, got[1].OK)
			assert.True(t, got[0].At.Equal(at.Add(2*time.Minute)))
			assert.Equal(t, "broadcast-target", got[0].Target)

			all, err := st.RecentAudit(ctx, "", 2)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}
