package service

import (
	"testing"

	"github.com/publome/publishing-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello world", "hello world"},
		{"br to newline", "line one<br>line two", "line one\nline two"},
		{"self closing br", "a<br/>b<br />c", "a\nb\nc"},
		{"strips tags", "<p>hello <b>bold</b></p>", "hello bold"},
		{"double encoded entity", "Tom &amp;amp; Jerry", "Tom & Jerry"},
		{"single encoded entity", "Tom &amp; Jerry", "Tom & Jerry"},
		{"collapses spaces", "too    many\tspaces", "too many spaces"},
		{"caps blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContent(tt.in))
		})
	}
}

func TestMediaKindOf(t *testing.T) {
	assert.Equal(t, models.MediaKindVideo, MediaKindOf("video/mp4"))
	assert.Equal(t, models.MediaKindImage, MediaKindOf("image/png"))
	assert.Equal(t, models.MediaKindNone, MediaKindOf("application/pdf"))
	assert.Equal(t, models.MediaKindNone, MediaKindOf(""))
}
