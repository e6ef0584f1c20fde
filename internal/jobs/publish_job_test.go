package job

import (
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"testing"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/queue"
	"github.com/publome/publishing-api/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	status  string
	results []models.PostResult
	errMsg  string
}

type fakePostRepo struct {
	due       []*models.Post
	claimable map[int64]bool
	outcomes  map[int64]outcome
}

func newFakePostRepo(due ...*models.Post) *fakePostRepo {
	claimable := make(map[int64]bool, len(due))
	for _, p := range due {
		claimable[p.ID] = true
	}
	return &fakePostRepo{due: due, claimable: claimable, outcomes: make(map[int64]outcome)}
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
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakePostRepo) ClaimPending(ctx context.Context, id int64) (bool, error) {
	if f.claimable[id] {
		f.claimable[id] = false
		return true, nil
	}
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
	byPlatform map[string]*models.SocialAccount
}

func (f *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.SocialAccount, error) {
	return f.byPlatform[platform], nil
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

type fakeThreadJobRepo struct {
	created []*models.ThreadJob
	nextID  int64
}

func (f *fakeThreadJobRepo) Create(ctx context.Context, tx *sql.Tx, job *models.ThreadJob) (int64, error) {
	f.nextID++
	job.ID = f.nextID
	f.created = append(f.created, job)
	return f.nextID, nil
}

func (f *fakeThreadJobRepo) GetByID(ctx context.Context, id int64) (*models.ThreadJob, error) {
	return nil, nil
}

func (f *fakeThreadJobRepo) MarkProcessing(ctx context.Context, id int64) error { return nil }

func (f *fakeThreadJobRepo) AdvanceStep(ctx context.Context, id int64, stepIndex int, publishedID string) (bool, error) {
	return false, nil
}

func (f *fakeThreadJobRepo) MarkCompleted(ctx context.Context, id int64) error { return nil }

func (f *fakeThreadJobRepo) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return nil
}

func (f *fakeThreadJobRepo) RecordRetry(ctx context.Context, id int64, retryCount int, errorMessage string) error {
	return nil
}

type fakeUserRepo struct {
	incremented []int64
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) IncrementPostsPublished(ctx context.Context, id int64) error {
	f.incremented = append(f.incremented, id)
	return nil
}

type fakePostService struct {
	media        map[int64][]models.ThreadStepMedia
	mediaRemoved []int64
}

func (f *fakePostService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakePostService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (f *fakePostService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	return nil, nil
}

func (f *fakePostService) MediaForPost(ctx context.Context, postID int64) ([]models.ThreadStepMedia, error) {
	return f.media[postID], nil
}

func (f *fakePostService) RemovePostMedia(ctx context.Context, postID int64) error {
	f.mediaRemoved = append(f.mediaRemoved, postID)
	return nil
}

func (f *fakePostService) Remove(ctx context.Context, userID, postID int64) error {
	return nil
}

type fakePublisher struct {
	id    string
	err   error
	calls int
}

func (f *fakePublisher) Publish(ctx context.Context, text string, mediaURLs []string, acc *models.SocialAccount) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type dispatcherFixture struct {
	job      *PublishJob
	pr       *fakePostRepo
	tj       *fakeThreadJobRepo
	ur       *fakeUserRepo
	ps       *fakePostService
	enqueued []queue.ThreadStepPayload
}

func newDispatcher(publishers map[string]Publisher, accounts map[string]*models.SocialAccount, due ...*models.Post) *dispatcherFixture {
	f := &dispatcherFixture{
		pr: newFakePostRepo(due...),
		tj: &fakeThreadJobRepo{},
		ur: &fakeUserRepo{},
		ps: &fakePostService{media: make(map[int64][]models.ThreadStepMedia)},
	}
	f.job = NewPublishJob(f.pr, &fakeAccountRepo{byPlatform: accounts}, f.tj, f.ur, f.ps, publishers, nil)
	f.job.enqueue = func(payload queue.ThreadStepPayload, delay time.Duration) error {
		f.enqueued = append(f.enqueued, payload)
		return nil
	}
	return f
}

func TestDispatchMixedOutcomeMarksFailedKeepingResults(t *testing.T) {
	good := &fakePublisher{id: "abc"}
	bad := &fakePublisher{err: errors.New("upload timed out")}
	accounts := map[string]*models.SocialAccount{
		models.PlatformInstagram: {ID: 1},
		models.PlatformYoutube:   {ID: 2},
	}
	post := &models.Post{ID: 10, UserID: 5, Caption: "hello",
		Platforms: []string{models.PlatformInstagram, models.PlatformYoutube}}

	f := newDispatcher(map[string]Publisher{
		models.PlatformInstagram: good,
		models.PlatformYoutube:   bad,
	}, accounts, post)

	f.job.Run()

	out, ok := f.pr.outcomes[10]
	require.True(t, ok)
	assert.Equal(t, models.PostStatusFailed, out.status)
	assert.Contains(t, out.errMsg, "youtube")
	assert.Contains(t, out.errMsg, "upload timed out")

	require.Len(t, out.results, 2)
	byPlatform := map[string]models.PostResult{}
	for _, r := range out.results {
		byPlatform[r.Platform] = r
	}
	assert.True(t, byPlatform[models.PlatformInstagram].Success)
	assert.Equal(t, "abc", byPlatform[models.PlatformInstagram].PostID)
	assert.False(t, byPlatform[models.PlatformYoutube].Success)

	// Failure means no usage counted and no media cleanup.
	assert.Empty(t, f.ur.incremented)
	assert.Empty(t, f.ps.mediaRemoved)
}

func TestDispatchFullSuccess(t *testing.T) {
	accounts := map[string]*models.SocialAccount{models.PlatformInstagram: {ID: 1}}
	post := &models.Post{ID: 11, UserID: 5, Caption: "hi",
		Platforms: []string{models.PlatformInstagram}}

	f := newDispatcher(map[string]Publisher{
		models.PlatformInstagram: &fakePublisher{id: "ig-1"},
	}, accounts, post)

	f.job.Run()

	out := f.pr.outcomes[11]
	assert.Equal(t, models.PostStatusPosted, out.status)
	assert.Equal(t, []int64{5}, f.ur.incremented)
	assert.Equal(t, []int64{11}, f.ps.mediaRemoved)
}

func TestDispatchTiktokKeepsMedia(t *testing.T) {
	accounts := map[string]*models.SocialAccount{models.PlatformTiktok: {ID: 1}}
	post := &models.Post{ID: 12, UserID: 5, Caption: "hi",
		Platforms: []string{models.PlatformTiktok}}

	f := newDispatcher(map[string]Publisher{
		models.PlatformTiktok: &fakePublisher{id: "tt-1"},
	}, accounts, post)

	f.job.Run()

	assert.Equal(t, models.PostStatusPosted, f.pr.outcomes[12].status)
	// TikTok pulls the file later, so the originals stay in the bucket.
	assert.Empty(t, f.ps.mediaRemoved)
}

func TestDispatchMissingAccountIsPerPlatformFailure(t *testing.T) {
	post := &models.Post{ID: 13, UserID: 5, Caption: "hi",
		Platforms: []string{models.PlatformInstagram}}

	f := newDispatcher(map[string]Publisher{
		models.PlatformInstagram: &fakePublisher{id: "ig-1"},
	}, map[string]*models.SocialAccount{}, post)

	f.job.Run()

	out := f.pr.outcomes[13]
	assert.Equal(t, models.PostStatusFailed, out.status)
	require.Len(t, out.results, 1)
	assert.False(t, out.results[0].Success)
	assert.Contains(t, out.results[0].Error, "no active account")
}

func TestDispatchSkipsUnclaimablePosts(t *testing.T) {
	post := &models.Post{ID: 14, UserID: 5, Platforms: []string{models.PlatformInstagram}}
	pub := &fakePublisher{id: "ig-1"}

	f := newDispatcher(map[string]Publisher{models.PlatformInstagram: pub},
		map[string]*models.SocialAccount{models.PlatformInstagram: {ID: 1}}, post)
	f.pr.claimable[14] = false

	f.job.Run()

	assert.Zero(t, pub.calls)
	assert.Empty(t, f.pr.outcomes)
}

func TestDispatchSeedsThreadJob(t *testing.T) {
	accounts := map[string]*models.SocialAccount{models.PlatformThreads: {ID: 9}}
	post := &models.Post{ID: 15, UserID: 5, Caption: "fallback",
		ThreadParts: []string{"part one", "part two"},
		Platforms:   []string{models.PlatformThreads}}

	f := newDispatcher(map[string]Publisher{}, accounts, post)
	f.ps.media[15] = []models.ThreadStepMedia{{URL: "https://cdn.example.com/a.png", Kind: models.MediaKindImage}}

	f.job.Run()

	require.Len(t, f.tj.created, 1)
	created := f.tj.created[0]
	require.NotNil(t, created.PostID)
	assert.Equal(t, int64(15), *created.PostID)
	assert.Equal(t, int64(9), created.AccountID)
	assert.Equal(t, []string{"part one", "part two"}, created.Posts)
	assert.Len(t, created.Media, 1)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, queue.ThreadStepPayload{JobID: created.ID, PostIndex: 0}, f.enqueued[0])

	// The orchestrator owns the post from here; no outcome is written yet.
	assert.Empty(t, f.pr.outcomes)
}

func TestDispatchThreadsWithoutAccountFailsPost(t *testing.T) {
	post := &models.Post{ID: 16, UserID: 5, Caption: "hello",
		Platforms: []string{models.PlatformThreads}}

	f := newDispatcher(map[string]Publisher{}, map[string]*models.SocialAccount{}, post)

	f.job.Run()

	out := f.pr.outcomes[16]
	assert.Equal(t, models.PostStatusFailed, out.status)
	assert.Empty(t, f.tj.created)
	assert.Empty(t, f.enqueued)
}
