package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects   []StoredObject
	deleted   []string
	deleteErr map[string]error
	baseURL   string
}

func (f *fakeObjectStore) ListObjects(ctx context.Context) ([]StoredObject, error) {
	return f.objects, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, key string) error {
	if err, ok := f.deleteErr[key]; ok {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return f.baseURL + "/" + key
}

type fakeAssetRepo struct {
	postURLs     []string
	draftURLs    []string
	platformURLs map[string][]string
}

func (f *fakeAssetRepo) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	return nil, nil
}

func (f *fakeAssetRepo) ListPostMediaURLs(ctx context.Context) ([]string, error) {
	return f.postURLs, nil
}

func (f *fakeAssetRepo) ListDraftMediaURLs(ctx context.Context) ([]string, error) {
	return f.draftURLs, nil
}

func (f *fakeAssetRepo) ListURLsByPlatform(ctx context.Context, platform string) ([]string, error) {
	return f.platformURLs[platform], nil
}

func (f *fakeAssetRepo) Remove(ctx context.Context, id int64) error {
	return nil
}

func TestNormalizeMediaURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already canonical", "https://cdn.example.com/media/a.png", "https://cdn.example.com/media/a.png"},
		{"uppercase", "HTTPS://CDN.EXAMPLE.COM/Media/A.PNG", "https://cdn.example.com/media/a.png"},
		{"duplicate separators", "https://cdn.example.com//media///a.png", "https://cdn.example.com/media/a.png"},
		{"trailing slash", "https://cdn.example.com/media/a.png/", "https://cdn.example.com/media/a.png"},
		{"padding", "  https://cdn.example.com/media/a.png ", "https://cdn.example.com/media/a.png"},
		{"no scheme", "cdn.example.com//media/a.png", "cdn.example.com/media/a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMediaURL(tt.in))
		})
	}
}

func TestReconcileDeletesOnlyAgedOrphans(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-1 * time.Hour)

	store := &fakeObjectStore{
		baseURL: "https://cdn.example.com",
		objects: []StoredObject{
			{Key: "static-assets/logo.png", LastModified: old},
			{Key: "media/orphan.png", LastModified: old},
			{Key: "media/recent.png", LastModified: fresh},
			{Key: "media/referenced.png", LastModified: old},
			{Key: "media/draft.png", LastModified: old},
			{Key: "media/pulled.mp4", LastModified: old},
		},
	}
	assets := &fakeAssetRepo{
		postURLs:  []string{"https://cdn.example.com//media/referenced.png/"},
		draftURLs: []string{"HTTPS://cdn.example.com/media/draft.png"},
		platformURLs: map[string][]string{
			models.PlatformTiktok: {"https://cdn.example.com/media/pulled.mp4"},
		},
	}

	s := NewMediaCleanupService(store, assets)
	report, err := s.Reconcile(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Scanned)
	assert.Equal(t, 1, report.Protected)
	assert.Equal(t, 4, report.Eligible)
	assert.Equal(t, 2, report.Referenced)
	assert.Equal(t, 1, report.Exempted)
	assert.Equal(t, 1, report.Orphaned)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, report.DeleteFailures)
	assert.Equal(t, []string{"media/orphan.png"}, store.deleted)
}

func TestReconcileDryRunDeletesNothing(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)

	store := &fakeObjectStore{
		baseURL: "https://cdn.example.com",
		objects: []StoredObject{
			{Key: "media/orphan-1.png", LastModified: old},
			{Key: "media/orphan-2.png", LastModified: old},
		},
	}
	s := NewMediaCleanupService(store, &fakeAssetRepo{})

	report, err := s.Reconcile(context.Background(), 24*time.Hour, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Orphaned)
	assert.Equal(t, 0, report.Deleted)
	assert.Empty(t, store.deleted)
	assert.ElementsMatch(t, []string{"media/orphan-1.png", "media/orphan-2.png"}, report.OrphanKeys)
}

func TestReconcileContinuesPastDeleteFailures(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)

	store := &fakeObjectStore{
		baseURL: "https://cdn.example.com",
		objects: []StoredObject{
			{Key: "media/bad.png", LastModified: old},
			{Key: "media/good.png", LastModified: old},
		},
		deleteErr: map[string]error{"media/bad.png": errors.New("access denied")},
	}
	s := NewMediaCleanupService(store, &fakeAssetRepo{})

	report, err := s.Reconcile(context.Background(), 24*time.Hour, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Orphaned)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.DeleteFailures)
	assert.Equal(t, []string{"media/good.png"}, store.deleted)
}
