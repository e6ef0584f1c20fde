package queue

import (
	"time"

	"github.com/publome/publishing-api/internal/models"
)

// The platform requires a parent post to have existed for a minimum maturity
// age before it can be cited as a reply target, and that age depends on what
// the NEXT step will publish (a video reply needs a much older parent than an
// image or text reply). The delay before enqueuing step i+1 is therefore a
// function of the current step's media presence and the next step's kind, kept
// as an explicit table so it stays testable on its own.

type delayKey struct {
	currentHasMedia bool
	nextKind        models.MediaKind
}

var stepDelays = map[delayKey]time.Duration{
	{false, models.MediaKindNone}:  30 * time.Second,
	{true, models.MediaKindNone}:   45 * time.Second,
	{false, models.MediaKindImage}: 60 * time.Second,
	{true, models.MediaKindImage}:  60 * time.Second,
	{false, models.MediaKindVideo}: 300 * time.Second,
	{true, models.MediaKindVideo}:  300 * time.Second,
}

// NextStepDelay returns how long to wait before the next step may run.
func NextStepDelay(currentHasMedia bool, nextKind models.MediaKind) time.Duration {
	if delay, ok := stepDelays[delayKey{currentHasMedia, nextKind}]; ok {
		return delay
	}
	return stepDelays[delayKey{currentHasMedia, models.MediaKindNone}]
}
