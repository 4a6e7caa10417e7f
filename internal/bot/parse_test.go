package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, word, rest string
		ok             bool
	}{
		{"/start", "start", "", true},
		{"/Broadcast@gatebot --pin hi\nthere", "broadcast", "--pin hi\nthere", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		word, rest, ok := splitCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.word, word, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestTokenizeAndFlags(t *testing.T) {
	t.Parallel()

	args := tokenize(`5 --action=ban "two words" --verbose it\'s`)
	assert.Equal(t, []string{"5", "--action=ban", "two words", "--verbose", "it's"}, args)

	pos, flags, bools := parseFlags(args)
	assert.Equal(t, []string{"5", "two words", "it's"}, pos)
	assert.Equal(t, "ban", flags["action"])
	assert.True(t, bools["verbose"])
}

func TestLeadingFlags(t *testing.T) {
	t.Parallel()

	flags, body := leadingFlags("--pin --SILENT  Line one\n  indented --not-a-flag")
	assert.True(t, flags["pin"])
	assert.True(t, flags["silent"])
	assert.Equal(t, "Line one\n  indented --not-a-flag", body)

	flags, body = leadingFlags("--pin")
	assert.True(t, flags["pin"])
	assert.Empty(t, body)
}

func TestParseHours(t *testing.T) {
	t.Parallel()

	d, ok := parseHours("2")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, d)

	d, ok = parseHours("1.5")
	assert.True(t, ok)
	assert.Equal(t, 90*time.Minute, d)

	d, ok = parseHours("45m")
	assert.True(t, ok)
	assert.Equal(t, 45*time.Minute, d)

	for _, bad := range []string{"", "0", "-1", "soon"} {
		_, ok := parseHours(bad)
		assert.False(t, ok, bad)
	}
}

func TestHumanDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1h 30m", humanDuration(90*time.Minute))
	assert.Equal(t, "24h", humanDuration(24*time.Hour))
	assert.Equal(t, "5m", humanDuration(5*time.Minute))
	assert.Equal(t, "0m", humanDuration(0))
}
