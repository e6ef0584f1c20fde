package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeThreadJobRepo struct {
	jobs   map[int64]*models.ThreadJob
	nextID int64
}

func newFakeThreadJobRepo() *fakeThreadJobRepo {
	return &fakeThreadJobRepo{jobs: make(map[int64]*models.ThreadJob), nextID: 1}
}

func (f *fakeThreadJobRepo) Create(ctx context.Context, tx *sql.Tx, job *models.ThreadJob) (int64, error) {
	id := f.nextID
	f.nextID++
	stored := *job
	stored.ID = id
	stored.Status = models.ThreadJobStatusPending
	f.jobs[id] = &stored
	return id, nil
}

func (f *fakeThreadJobRepo) GetByID(ctx context.Context, id int64) (*models.ThreadJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	copied.PublishedPostIDs = append([]string(nil), job.PublishedPostIDs...)
	return &copied, nil
}

func (f *fakeThreadJobRepo) MarkProcessing(ctx context.Context, id int64) error {
	if job, ok := f.jobs[id]; ok && job.Status == models.ThreadJobStatusPending {
		job.Status = models.ThreadJobStatusProcessing
	}
	return nil
}

func (f *fakeThreadJobRepo) AdvanceStep(ctx context.Context, id int64, stepIndex int, publishedID string) (bool, error) {
	job, ok := f.jobs[id]
	if !ok || job.CurrentIndex != stepIndex {
		return false, nil
	}
	job.PublishedPostIDs = append(job.PublishedPostIDs, publishedID)
	job.CurrentIndex++
	return true, nil
}

func (f *fakeThreadJobRepo) MarkCompleted(ctx context.Context, id int64) error {
	f.jobs[id].Status = models.ThreadJobStatusCompleted
	return nil
}

func (f *fakeThreadJobRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	f.jobs[id].Status = models.ThreadJobStatusFailed
	f.jobs[id].ErrorMessage = errorMessage
	return nil
}

func (f *fakeThreadJobRepo) RecordRetry(ctx context.Context, id int64, retryCount int, errorMessage string) error {
	f.jobs[id].RetryCount = retryCount
	f.jobs[id].ErrorMessage = errorMessage
	return nil
}

type outcome struct {
	status  string
	results []models.PostResult
	errMsg  string
}

type fakePostRepo struct {
	outcomes map[int64]outcome
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{outcomes: make(map[int64]outcome)}
}

func (f *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return nil, nil
}

func (f *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (f *fakePostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	return nil, nil
}

func (f *fakePostRepo) ClaimPending(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (f *fakePostRepo) SetOutcome(ctx context.Context, id int64, status string, results []models.PostResult, errorMessage string) error {
	f.outcomes[id] = outcome{status: status, results: results, errMsg: errorMessage}
	return nil
}

func (f *fakePostRepo) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	return nil
}

func (f *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return false, nil
}

func (f *fakePostRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.SocialAccount
}

func (f *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return false, nil
}

func (f *fakeAccountRepo) SetToken(ctx context.Context, userID int64, oldAccessToken string, sa *models.SocialAccount) error {
	return nil
}

func (f *fakeAccountRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

type createCall struct {
	text      string
	media     models.ThreadStepMedia
	replyToID string
}

type fakeThreads struct {
	createCalls  []createCall
	publishCalls int
	createErr    error
	publishErr   error
	waitErr      error
}

func (f *fakeThreads) ThreadsCallback(ctx context.Context, code string, userID int64) error {
	return nil
}

func (f *fakeThreads) RefreshThreadsToken(ctx context.Context, userID int64, refreshToken string) error {
	return nil
}

func (f *fakeThreads) CreateContainer(ctx context.Context, acc *models.SocialAccount, text string, media models.ThreadStepMedia, replyToID string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createCalls = append(f.createCalls, createCall{text: text, media: media, replyToID: replyToID})
	return fmt.Sprintf("container-%d", len(f.createCalls)), nil
}

func (f *fakeThreads) WaitForContainer(ctx context.Context, acc *models.SocialAccount, containerID string, kind models.MediaKind) error {
	return f.waitErr
}

func (f *fakeThreads) PublishContainer(ctx context.Context, acc *models.SocialAccount, containerID string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.publishCalls++
	return fmt.Sprintf("post-%d", f.publishCalls), nil
}

type enqueued struct {
	payload ThreadStepPayload
	delay   time.Duration
}

type testQueue struct {
	*Queue
	tj       *fakeThreadJobRepo
	pr       *fakePostRepo
	ts       *fakeThreads
	enqueued *[]enqueued
}

func newTestQueue(job *models.ThreadJob) (*testQueue, int64) {
	tj := newFakeThreadJobRepo()
	pr := newFakePostRepo()
	ts := &fakeThreads{}
	ac := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		job.AccountID: {ID: job.AccountID, Platform: models.PlatformThreads},
	}}

	jobID, _ := tj.Create(context.Background(), nil, job)

	var calls []enqueued
	q := &Queue{
		tj:         tj,
		pr:         pr,
		ac:         ac,
		ts:         ts,
		settleWait: time.Millisecond,
		enqueue: func(payload ThreadStepPayload, delay time.Duration) error {
			calls = append(calls, enqueued{payload: payload, delay: delay})
			return nil
		},
	}

	return &testQueue{Queue: q, tj: tj, pr: pr, ts: ts, enqueued: &calls}, jobID
}

func TestProcessStepSingleStepCompletesJob(t *testing.T) {
	postID := int64(42)
	tq, jobID := newTestQueue(&models.ThreadJob{
		PostID:    &postID,
		AccountID: 7,
		Posts:     []string{"only step"},
	})

	err := tq.ProcessStep(context.Background(), jobID, 0)
	require.NoError(t, err)

	job := tq.tj.jobs[jobID]
	assert.Equal(t, models.ThreadJobStatusCompleted, job.Status)
	assert.Equal(t, []string{"post-1"}, job.PublishedPostIDs)
	assert.Equal(t, 1, job.CurrentIndex)
	assert.Empty(t, *tq.enqueued)

	out := tq.pr.outcomes[postID]
	assert.Equal(t, models.PostStatusPosted, out.status)
	require.Len(t, out.results, 1)
	assert.Equal(t, models.PlatformThreads, out.results[0].Platform)
	assert.Equal(t, "post-1", out.results[0].PostID)
	assert.True(t, out.results[0].Success)
}

func TestProcessStepChainsReplyAndSchedulesNext(t *testing.T) {
	tq, jobID := newTestQueue(&models.ThreadJob{
		AccountID: 7,
		Posts:     []string{"first", "second", "third"},
		Media: []models.ThreadStepMedia{
			{Kind: models.MediaKindNone},
			{URL: "https://cdn.example.com/a.png", Kind: models.MediaKindImage},
			{URL: "https://cdn.example.com/b.mp4", Kind: models.MediaKindVideo},
		},
	})
	ctx := context.Background()

	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))
	require.NoError(t, tq.ProcessStep(ctx, jobID, 1))

	job := tq.tj.jobs[jobID]
	assert.Equal(t, models.ThreadJobStatusProcessing, job.Status)
	assert.Equal(t, 2, job.CurrentIndex)
	assert.Len(t, job.PublishedPostIDs, job.CurrentIndex)

	require.Len(t, tq.ts.createCalls, 2)
	assert.Empty(t, tq.ts.createCalls[0].replyToID)
	assert.Equal(t, "post-1", tq.ts.createCalls[1].replyToID)

	calls := *tq.enqueued
	require.Len(t, calls, 2)
	// text step -> image step
	assert.Equal(t, ThreadStepPayload{JobID: jobID, PostIndex: 1}, calls[0].payload)
	assert.Equal(t, 60*time.Second, calls[0].delay)
	// image step -> video step
	assert.Equal(t, ThreadStepPayload{JobID: jobID, PostIndex: 2}, calls[1].payload)
	assert.Equal(t, 300*time.Second, calls[1].delay)
}

func TestProcessStepReplayDoesNotRepublish(t *testing.T) {
	tq, jobID := newTestQueue(&models.ThreadJob{
		AccountID: 7,
		Posts:     []string{"first", "second"},
	})
	ctx := context.Background()

	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))
	publishesAfterFirst := tq.ts.publishCalls

	// Redelivery of the already-recorded step.
	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))

	assert.Equal(t, publishesAfterFirst, tq.ts.publishCalls)
	job := tq.tj.jobs[jobID]
	assert.Equal(t, 1, job.CurrentIndex)
	assert.Equal(t, []string{"post-1"}, job.PublishedPostIDs)

	// The replay reschedules the in-flight continuation rather than stalling.
	calls := *tq.enqueued
	require.NotEmpty(t, calls)
	assert.Equal(t, ThreadStepPayload{JobID: jobID, PostIndex: 1}, calls[len(calls)-1].payload)
}

func TestProcessStepRetryCeiling(t *testing.T) {
	tq, jobID := newTestQueue(&models.ThreadJob{
		AccountID: 7,
		Posts:     []string{"first"},
	})
	tq.ts.createErr = service.NewPublishError(models.PlatformThreads, service.ErrCodeContainerCreate, true,
		errors.New("upstream 500"))
	ctx := context.Background()

	// First two attempts surface the error so the queue redelivers.
	require.Error(t, tq.ProcessStep(ctx, jobID, 0))
	assert.Equal(t, 1, tq.tj.jobs[jobID].RetryCount)
	require.Error(t, tq.ProcessStep(ctx, jobID, 0))
	assert.Equal(t, 2, tq.tj.jobs[jobID].RetryCount)

	// Third failure exhausts the budget and the job goes terminal.
	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))
	job := tq.tj.jobs[jobID]
	assert.Equal(t, models.ThreadJobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Contains(t, job.ErrorMessage, "upstream 500")

	// Terminal jobs ignore any further deliveries.
	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))
	assert.Equal(t, models.ThreadJobStatusFailed, tq.tj.jobs[jobID].Status)
}

func TestProcessStepNonRetryableFailsImmediately(t *testing.T) {
	tq, jobID := newTestQueue(&models.ThreadJob{
		AccountID: 7,
		Posts:     []string{"first"},
	})
	tq.ts.createErr = service.NewPublishError(models.PlatformThreads, service.ErrCodeBadInput, false,
		errors.New("text too long"))

	require.NoError(t, tq.ProcessStep(context.Background(), jobID, 0))

	job := tq.tj.jobs[jobID]
	assert.Equal(t, models.ThreadJobStatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestProcessStepMidThreadFailureKeepsProgress(t *testing.T) {
	tq, jobID := newTestQueue(&models.ThreadJob{
		AccountID: 7,
		Posts:     []string{"first", "second", "third"},
	})
	ctx := context.Background()

	require.NoError(t, tq.ProcessStep(ctx, jobID, 0))

	tq.ts.createErr = service.NewPublishError(models.PlatformThreads, service.ErrCodeContainerError, true,
		errors.New("processing failed"))
	require.Error(t, tq.ProcessStep(ctx, jobID, 1))
	require.Error(t, tq.ProcessStep(ctx, jobID, 1))
	require.NoError(t, tq.ProcessStep(ctx, jobID, 1))

	job := tq.tj.jobs[jobID]
	assert.Equal(t, models.ThreadJobStatusFailed, job.Status)
	assert.Equal(t, 1, job.CurrentIndex)
	assert.Equal(t, []string{"post-1"}, job.PublishedPostIDs)
}

func TestProcessStepUnknownJobDropsTask(t *testing.T) {
	tq, _ := newTestQueue(&models.ThreadJob{AccountID: 7, Posts: []string{"x"}})
	require.NoError(t, tq.ProcessStep(context.Background(), 999, 0))
	assert.Empty(t, tq.ts.createCalls)
}
