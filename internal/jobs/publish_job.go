package job

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/queue"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/internal/service"
)

// dispatchBatchSize bounds one run so the every-minute cadence cannot pile up
// unbounded work.
const dispatchBatchSize = 10

// Publisher performs one platform-specific publish call.
type Publisher interface {
	Publish(ctx context.Context, text string, mediaURLs []string, acc *models.SocialAccount) (string, error)
}

type PublishJob struct {
	pr         repository.PostRepository
	ac         repository.SocialAccountRepository
	tj         repository.ThreadJobRepository
	ur         repository.UserRepository
	ps         service.PostService
	publishers map[string]Publisher
	client     *asynq.Client

	// enqueue overrides the asynq client when set; used by tests.
	enqueue func(payload queue.ThreadStepPayload, delay time.Duration) error
}

func NewPublishJob(
	pr repository.PostRepository,
	ac repository.SocialAccountRepository,
	tj repository.ThreadJobRepository,
	ur repository.UserRepository,
	ps service.PostService,
	publishers map[string]Publisher,
	client *asynq.Client) *PublishJob {
	return &PublishJob{
		pr:         pr,
		ac:         ac,
		tj:         tj,
		ur:         ur,
		ps:         ps,
		publishers: publishers,
		client:     client,
	}
}

// Run is one dispatcher invocation: claim due posts and publish each. Posts
// are processed sequentially; the platforms of a single post run concurrently.
func (j *PublishJob) Run() {
	ctx := context.Background()

	posts, err := j.pr.ListDue(ctx, time.Now(), dispatchBatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, post := range posts {
		if err := j.DispatchPost(ctx, post); err != nil {
			// A failure on one post never blocks the rest of the batch.
			log.Printf("Error dispatching post %d: %v", post.ID, err)
		}
	}
}

func (j *PublishJob) DispatchPost(ctx context.Context, post *models.Post) error {
	claimed, err := j.pr.ClaimPending(ctx, post.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker already owns it.
		return nil
	}

	media, err := j.ps.MediaForPost(ctx, post.ID)
	if err != nil {
		if updateErr := j.pr.SetOutcome(ctx, post.ID, models.PostStatusFailed, nil, err.Error()); updateErr != nil {
			slog.Info(updateErr.Error())
		}
		return err
	}

	if post.Targets(models.PlatformThreads) {
		return j.seedThreadJob(ctx, post, media)
	}

	results := j.fanOut(ctx, post, media)
	return j.recordOutcome(ctx, post, results)
}

// fanOut publishes to every requested platform concurrently and collects one
// result per platform. A publisher failure, or even a panic, becomes that
// platform's failure entry and never touches its siblings.
func (j *PublishJob) fanOut(ctx context.Context, post *models.Post, media []models.ThreadStepMedia) []models.PostResult {
	mediaURLs := make([]string, 0, len(media))
	for _, m := range media {
		mediaURLs = append(mediaURLs, m.URL)
	}

	results := make([]models.PostResult, len(post.Platforms))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)

	for idx, platform := range post.Platforms {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int, platform string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = models.PostResult{
						Platform: platform,
						Success:  false,
						Error:    fmt.Sprintf("publisher panic: %v", r),
					}
				}
			}()

			results[idx] = j.publishToPlatform(ctx, post, platform, mediaURLs)
		}(idx, platform)
	}

	wg.Wait()
	return results
}

func (j *PublishJob) publishToPlatform(ctx context.Context, post *models.Post, platform string, mediaURLs []string) models.PostResult {
	publisher, ok := j.publishers[platform]
	if !ok {
		return models.PostResult{Platform: platform, Success: false, Error: "unsupported platform"}
	}

	acc, err := j.ac.GetByUserAndPlatform(ctx, post.UserID, platform)
	if err != nil {
		return models.PostResult{Platform: platform, Success: false, Error: err.Error()}
	}
	if acc == nil {
		return models.PostResult{Platform: platform, Success: false, Error: "no active account for platform"}
	}

	text := service.NormalizeContent(post.CaptionFor(platform))

	remoteID, err := publisher.Publish(ctx, text, mediaURLs, acc)
	if err != nil {
		log.Printf("Error posting to %s for PostID %d: %v", platform, post.ID, err)
		return models.PostResult{Platform: platform, Success: false, Error: err.Error()}
	}

	return models.PostResult{Platform: platform, Success: true, PostID: remoteID}
}

// recordOutcome decides the final post status. Any failure marks the post
// failed, but successful platform results are kept so no publish is lost.
func (j *PublishJob) recordOutcome(ctx context.Context, post *models.Post, results []models.PostResult) error {
	allOK := true
	var errParts []string
	for _, r := range results {
		if !r.Success {
			allOK = false
			errParts = append(errParts, fmt.Sprintf("%s: %s", r.Platform, r.Error))
		}
	}

	if !allOK {
		errMsg := strings.Join(errParts, "; ")
		if err := j.pr.SetOutcome(ctx, post.ID, models.PostStatusFailed, results, errMsg); err != nil {
			slog.Info(err.Error())
			return err
		}
		return nil
	}

	if err := j.pr.SetOutcome(ctx, post.ID, models.PostStatusPosted, results, ""); err != nil {
		slog.Info(err.Error())
		return err
	}

	if err := j.ur.IncrementPostsPublished(ctx, post.UserID); err != nil {
		slog.Info(err.Error())
	}

	// TikTok pulls the file from our bucket after the publish call returns,
	// so its originals must stay put; the reconciler picks them up later.
	if !post.Targets(models.PlatformTiktok) {
		if err := j.ps.RemovePostMedia(ctx, post.ID); err != nil {
			slog.Info(err.Error())
		}
	}

	return nil
}

// seedThreadJob hands a chained-platform post to the orchestrator: create the
// durable job and enqueue its first step. From here on the delayed queue owns
// the post's lifecycle.
func (j *PublishJob) seedThreadJob(ctx context.Context, post *models.Post, media []models.ThreadStepMedia) error {
	acc, err := j.ac.GetByUserAndPlatform(ctx, post.UserID, models.PlatformThreads)
	if err != nil {
		return err
	}
	if acc == nil {
		noAccErr := "no active account for platform"
		results := []models.PostResult{{Platform: models.PlatformThreads, Success: false, Error: noAccErr}}
		if updateErr := j.pr.SetOutcome(ctx, post.ID, models.PostStatusFailed, results, noAccErr); updateErr != nil {
			slog.Info(updateErr.Error())
		}
		return nil
	}

	texts := post.ThreadParts
	if len(texts) == 0 {
		texts = []string{post.CaptionFor(models.PlatformThreads)}
	}

	threadJob := &models.ThreadJob{
		PostID:    &post.ID,
		AccountID: acc.ID,
		Posts:     texts,
		Media:     media,
	}

	jobID, err := j.tj.Create(ctx, nil, threadJob)
	if err != nil {
		if updateErr := j.pr.SetOutcome(ctx, post.ID, models.PostStatusFailed, nil, err.Error()); updateErr != nil {
			slog.Info(updateErr.Error())
		}
		return err
	}

	payload := queue.ThreadStepPayload{JobID: jobID, PostIndex: 0}
	if j.enqueue != nil {
		err = j.enqueue(payload, 0)
	} else {
		err = queue.EnqueueThreadStep(j.client, payload, 0)
	}
	if err != nil {
		slog.Error(fmt.Sprintf("failed to enqueue thread job %d for post %d: %v", jobID, post.ID, err))
		return err
	}

	log.Printf("Seeded thread job %d for post %d (%d steps)", jobID, post.ID, len(texts))
	return nil
}
