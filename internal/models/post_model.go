package models

import "time"

type Post struct {
	ID               int64             `db:"id" json:"id"`
	UserID           int64             `db:"user_id" json:"user_id"`
	Caption          string            `db:"caption" json:"caption"`
	PlatformCaptions map[string]string `db:"platform_captions" json:"platform_captions"`
	ThreadParts      []string          `db:"thread_parts" json:"thread_parts"`
	Platforms        []string          `db:"platforms" json:"platforms"`
	ScheduledTime    time.Time         `db:"scheduled_time" json:"scheduled_time"`
	Status           string            `db:"status" json:"status"`
	PostResults      []PostResult      `db:"post_results" json:"post_results"`
	ErrorMessage     string            `db:"error_message" json:"error_message"`
	PostedAt         *time.Time        `db:"posted_at" json:"posted_at"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// PostResult records the outcome of one platform's publish attempt. Successful
// entries are kept even when the post as a whole is marked failed.
type PostResult struct {
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type MediaAsset struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	FileName  string    `db:"file_name"`
	FileType  string    `db:"file_type"`
	FileSize  int64     `db:"file_size"`
	FileURL   string    `db:"file_url"`
	CreatedAt time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusPending   = "pending"
	PostStatusPosting   = "posting"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
	PostStatusCancelled = "cancelled"
	PostStatusDraft     = "draft"
)

// Caption for a platform, falling back to the shared caption when no
// per-platform override was written.
func (p *Post) CaptionFor(platform string) string {
	if override, ok := p.PlatformCaptions[platform]; ok && override != "" {
		return override
	}
	return p.Caption
}

func (p *Post) Targets(platform string) bool {
	for _, pf := range p.Platforms {
		if pf == platform {
			return true
		}
	}
	return false
}
