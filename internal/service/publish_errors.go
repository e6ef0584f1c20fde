package service

import "fmt"

// Error codes attached to PublishError. Retry logic branches on Retryable,
// never on message text.
const (
	ErrCodeNoAccount        = "no_account"
	ErrCodeContainerCreate  = "container_create"
	ErrCodeReplyRejected    = "reply_rejected"
	ErrCodeContainerError   = "container_error"
	ErrCodeContainerExpired = "container_expired"
	ErrCodePollTimeout      = "poll_timeout"
	ErrCodePublish          = "publish"
	ErrCodePlatformCall     = "platform_call"
	ErrCodeBadInput         = "bad_input"
)

// PublishError is the typed failure a platform publisher returns. Retryable
// means the job may attempt the same step again within its retry budget;
// non-retryable errors are terminal for the step immediately.
type PublishError struct {
	Platform  string
	Code      string
	Retryable bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Code)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func NewPublishError(platform, code string, retryable bool, err error) *PublishError {
	return &PublishError{Platform: platform, Code: code, Retryable: retryable, Err: err}
}
