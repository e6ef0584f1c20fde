package models

import "time"

// MediaKind classifies a thread step's attachment. The container backend
// transcodes videos asynchronously, so kind drives both the poll ceiling and
// the maturity delay before the next step may reply to this one.
type MediaKind string

const (
	MediaKindNone  MediaKind = ""
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

type ThreadStepMedia struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// ThreadJob is the durable state for one chained multi-step publish. Step i's
// published id is the reply target for step i+1. Invariant after every step:
// len(PublishedPostIDs) == CurrentIndex.
type ThreadJob struct {
	ID               int64             `db:"id" json:"id"`
	PostID           *int64            `db:"post_id" json:"post_id"`
	AccountID        int64             `db:"account_id" json:"account_id"`
	Posts            []string          `db:"posts" json:"posts"`
	Media            []ThreadStepMedia `db:"media" json:"media"`
	Status           string            `db:"status" json:"status"`
	CurrentIndex     int               `db:"current_index" json:"current_index"`
	PublishedPostIDs []string          `db:"published_post_ids" json:"published_post_ids"`
	RetryCount       int               `db:"retry_count" json:"retry_count"`
	LastRetryAt      *time.Time        `db:"last_retry_at" json:"last_retry_at"`
	ErrorMessage     string            `db:"error_message" json:"error_message"`
	CompletedAt      *time.Time        `db:"completed_at" json:"completed_at"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

const (
	ThreadJobStatusPending    = "pending"
	ThreadJobStatusProcessing = "processing"
	ThreadJobStatusCompleted  = "completed"
	ThreadJobStatusFailed     = "failed"
)

// MediaAt returns the attachment for a step, or none for steps past the media
// list (trailing steps of a thread are commonly text-only).
func (j *ThreadJob) MediaAt(index int) ThreadStepMedia {
	if index < 0 || index >= len(j.Media) {
		return ThreadStepMedia{Kind: MediaKindNone}
	}
	return j.Media[index]
}
