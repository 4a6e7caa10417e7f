package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose", zerolog.InfoLevel))
}

func TestRenderLine(t *testing.T) {
	t.Parallel()

	got := renderLine([]byte(`{"level":"warn","time":"x","message":"flood wait","user":42,"run":"1_2"}`))
	assert.Equal(t, "[WARN] flood wait\n- run=1_2\n- user=42", got)

	raw := renderLine([]byte("not json"))
	assert.Equal(t, "not json", raw)

	long := renderLine([]byte(strings.Repeat("x", 4000)))
	assert.Len(t, long, 3500)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestLogger_ZeroAndWith(t *testing.T) {
	t.Parallel()

	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Info("dropped", String("k", "v")) })

	l := Nop().With(String("comp", "test"))
	assert.False(t, l.IsZero())
	assert.False(t, l.Enabled(LevelDebug))
}
