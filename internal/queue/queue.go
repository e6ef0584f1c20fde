package queue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueueThreadStep schedules one orchestrator invocation. The delay is how
// the pipeline waits between steps: no in-process timer survives a restart,
// but a delayed message does.
func EnqueueThreadStep(asynqClient *asynq.Client, payload ThreadStepPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeThreadStep, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay), asynq.MaxRetry(threadStepMaxRetries))
	if err != nil {
		return err
	}

	log.Printf("Thread step scheduled: %+v (in %s)", payload, delay)
	return nil
}
