package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short stays untouched", "a short title", "a short title"},
		{"exactly at the limit", strings.Repeat("a", 100), strings.Repeat("a", 100)},
		{"over the limit", strings.Repeat("a", 150), strings.Repeat("a", 97) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateTitle(tt.in))
		})
	}
}

func TestTruncateTitleKeepsRunesIntact(t *testing.T) {
	// 120 multibyte runes; a byte-index cut would split one in half.
	in := strings.Repeat("é", 120)

	got := truncateTitle(in)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 97)+"...", got)
	assert.Equal(t, 100, utf8.RuneCountInString(got))
}
