package queue

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/internal/service"
)

const TaskTypeThreadStep = "thread:step"

// ThreadStepPayload drives one orchestrator invocation: process exactly one
// step of one job.
type ThreadStepPayload struct {
	JobID     int64 `json:"job_id"`
	PostIndex int   `json:"post_index"`
}

// threadStepMaxRetries is the redelivery budget for a single step task and
// the job-level retry ceiling.
const threadStepMaxRetries = 3

// textSettleWait is how long a text-only step waits before publishing; the
// container backend needs a minimum settle time even without media.
const textSettleWait = 15 * time.Second

type Queue struct {
	tj         repository.ThreadJobRepository
	pr         repository.PostRepository
	ac         repository.SocialAccountRepository
	ts         service.ThreadsService
	client     *asynq.Client
	settleWait time.Duration

	// enqueue overrides the asynq client when set; used by tests.
	enqueue func(payload ThreadStepPayload, delay time.Duration) error
}

func NewQueue(
	tj repository.ThreadJobRepository,
	pr repository.PostRepository,
	ac repository.SocialAccountRepository,
	ts service.ThreadsService,
	client *asynq.Client) *Queue {
	return &Queue{
		tj:         tj,
		pr:         pr,
		ac:         ac,
		ts:         ts,
		client:     client,
		settleWait: textSettleWait,
	}
}
