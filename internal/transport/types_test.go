package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileRefSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref      FileRef
		wantKind MediaKind
		wantSrc  string
	}{
		{"AgACAgQAAxkBAAIB", MediaDocument, "AgACAgQAAxkBAAIB"},
		{NewFileRef(MediaPhoto, "AgAC"), MediaPhoto, "AgAC"},
		{NewFileRef(MediaDocument, "doc-id"), MediaDocument, "doc-id"},
		{"https://example.com/a.mp4", MediaDocument, "https://example.com/a.mp4"},
		{"video:https://example.com/a.mp4", MediaVideo, "https://example.com/a.mp4"},
	}
	for _, tt := range tests {
		kind, src := tt.ref.Split()
		assert.Equal(t, tt.wantKind, kind, string(tt.ref))
		assert.Equal(t, tt.wantSrc, src, string(tt.ref))
	}
}

func TestAsFloodWait(t *testing.T) {
	t.Parallel()

	d, ok := AsFloodWait(&FloodWaitError{RetryAfter: 7})
	assert.True(t, ok)
	assert.EqualValues(t, 7, d)

	_, ok = AsFloodWait(ErrBlocked)
	assert.False(t, ok)
}
