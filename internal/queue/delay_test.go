package queue

import (
	"testing"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNextStepDelay(t *testing.T) {
	tests := []struct {
		name            string
		currentHasMedia bool
		nextKind        models.MediaKind
		want            time.Duration
	}{
		{"text after text", false, models.MediaKindNone, 30 * time.Second},
		{"text after media", true, models.MediaKindNone, 45 * time.Second},
		{"image after text", false, models.MediaKindImage, 60 * time.Second},
		{"image after media", true, models.MediaKindImage, 60 * time.Second},
		{"video after text", false, models.MediaKindVideo, 300 * time.Second},
		{"video after image", true, models.MediaKindVideo, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStepDelay(tt.currentHasMedia, tt.nextKind))
		})
	}
}

func TestNextStepDelayUnknownKindFallsBack(t *testing.T) {
	assert.Equal(t, 30*time.Second, NextStepDelay(false, models.MediaKind("gif")))
	assert.Equal(t, 45*time.Second, NextStepDelay(true, models.MediaKind("gif")))
}
