package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"testing"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccountRepo struct {
	byPlatform map[string]*models.SocialAccount
}

func (s *stubAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return nil, nil
}

func (s *stubAccountRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.SocialAccount, error) {
	return s.byPlatform[platform], nil
}

func (s *stubAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (s *stubAccountRepo) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (s *stubAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return false, nil
}

func (s *stubAccountRepo) SetToken(ctx context.Context, userID int64, oldAccessToken string, sa *models.SocialAccount) error {
	return nil
}

func (s *stubAccountRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

func TestCreatePostRejectsThreadsMixedWithSimplePlatforms(t *testing.T) {
	s := &postService{ac: &stubAccountRepo{}}

	_, err := s.CreatePost(context.Background(), 1, &transfer.PostCreation{
		Caption:       "hello",
		ScheduledTime: "2026-09-10T10:00",
		Platforms:     `["threads","instagram"]`,
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads cannot be combined")
}

func TestCreatePostThreadsAlonePassesPlatformValidation(t *testing.T) {
	// No connected account, so creation stops at the account check; reaching
	// it proves a threads-only platform set is accepted.
	s := &postService{ac: &stubAccountRepo{}}

	_, err := s.CreatePost(context.Background(), 1, &transfer.PostCreation{
		Caption:       "hello",
		ScheduledTime: "2026-09-10T10:00",
		Platforms:     `["threads"]`,
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connected account for platform threads")
}

func makeFileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["files"][0]
}

func TestProcessFilesRejectsUnknownFileType(t *testing.T) {
	s := &postService{}
	fh := makeFileHeader(t, "notes.txt", []byte("just some text, no magic bytes"))

	err := s.processFiles(context.Background(), nil, 1, 1, []*multipart.FileHeader{fh})

	require.Error(t, err)
	assert.Equal(t, "unsupported file type", err.Error())
}

func TestProcessFilesRejectsDisallowedExtension(t *testing.T) {
	s := &postService{}
	// A valid GIF header: recognized by sniffing but not on the allow-list.
	gif := []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
	fh := makeFileHeader(t, "anim.gif", gif)

	err := s.processFiles(context.Background(), nil, 1, 1, []*multipart.FileHeader{fh})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gif is not allowed")
}
