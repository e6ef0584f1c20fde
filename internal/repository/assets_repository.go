package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/publome/publishing-api/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.MediaAsset, error)
	ListPostMediaURLs(ctx context.Context) ([]string, error)
	ListDraftMediaURLs(ctx context.Context) ([]string, error)
	ListURLsByPlatform(ctx context.Context, platform string) ([]string, error)
	Remove(ctx context.Context, id int64) error
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	var id int64
	var err error

	query := `
		INSERT INTO media_assets (user_id, file_name, file_type, file_size, file_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, ma.UserID, ma.FileName, ma.FileType, ma.FileSize, ma.FileURL).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, ma.UserID, ma.FileName, ma.FileType, ma.FileSize, ma.FileURL).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *mediaAssetRepository) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	query := `
		SELECT id, user_id, file_name, file_type, file_url, created_at
		FROM media_assets
		WHERE id = $1
	`

	var ma models.MediaAsset
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ma.ID,
		&ma.UserID,
		&ma.FileName,
		&ma.FileType,
		&ma.FileURL,
		&ma.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &ma, nil
}

func (r *mediaAssetRepository) listURLs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// ListPostMediaURLs returns every file URL referenced by a non-draft post,
// whatever its status. The reconciler must never treat these as orphans.
func (r *mediaAssetRepository) ListPostMediaURLs(ctx context.Context) ([]string, error) {
	query := `
		SELECT ma.file_url
		FROM media_assets ma
		JOIN post_media pm ON pm.asset_id = ma.id
		JOIN posts p ON p.id = pm.post_id
		WHERE p.status <> $1
	`
	return r.listURLs(ctx, query, models.PostStatusDraft)
}

func (r *mediaAssetRepository) ListDraftMediaURLs(ctx context.Context) ([]string, error) {
	query := `
		SELECT ma.file_url
		FROM media_assets ma
		JOIN post_media pm ON pm.asset_id = ma.id
		JOIN posts p ON p.id = pm.post_id
		WHERE p.status = $1
	`
	return r.listURLs(ctx, query, models.PostStatusDraft)
}

// ListURLsByPlatform returns file URLs belonging to posts that target the
// given platform. Used to exempt pull-based platforms from deletion.
func (r *mediaAssetRepository) ListURLsByPlatform(ctx context.Context, platform string) ([]string, error) {
	query := `
		SELECT ma.file_url
		FROM media_assets ma
		JOIN post_media pm ON pm.asset_id = ma.id
		JOIN posts p ON p.id = pm.post_id
		WHERE $1 = ANY(p.platforms)
	`
	return r.listURLs(ctx, query, platform)
}

func (r *mediaAssetRepository) Remove(ctx context.Context, id int64) error {
	query := `
		DELETE FROM media_assets
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
