package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/publome/publishing-api/internal/models"
)

type ThreadJobRepository interface {
	Create(ctx context.Context, tx *sql.Tx, job *models.ThreadJob) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ThreadJob, error)
	MarkProcessing(ctx context.Context, id int64) error
	AdvanceStep(ctx context.Context, id int64, stepIndex int, publishedID string) (bool, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	RecordRetry(ctx context.Context, id int64, retryCount int, errorMessage string) error
}

type threadJobRepository struct {
	db *sql.DB
}

func NewThreadJobRepository(db *sql.DB) ThreadJobRepository {
	return &threadJobRepository{db: db}
}

const threadJobColumns = `id, post_id, account_id, posts, media, status, current_index, published_post_ids, retry_count, last_retry_at, error_message, completed_at, created_at, updated_at`

func (r *threadJobRepository) Create(ctx context.Context, tx *sql.Tx, job *models.ThreadJob) (int64, error) {
	posts, err := json.Marshal(job.Posts)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	media, err := json.Marshal(job.Media)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	query := `
		INSERT INTO thread_jobs (post_id, account_id, posts, media, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	args := []interface{}{job.PostID, job.AccountID, posts, media, models.ThreadJobStatusPending}

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *threadJobRepository) GetByID(ctx context.Context, id int64) (*models.ThreadJob, error) {
	query := `SELECT ` + threadJobColumns + ` FROM thread_jobs WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var job models.ThreadJob
	var posts, media []byte
	var published pq.StringArray

	err := row.Scan(&job.ID, &job.PostID, &job.AccountID, &posts, &media, &job.Status,
		&job.CurrentIndex, &published, &job.RetryCount, &job.LastRetryAt,
		&job.ErrorMessage, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	job.PublishedPostIDs = published
	if len(posts) > 0 {
		if err := json.Unmarshal(posts, &job.Posts); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}
	if len(media) > 0 {
		if err := json.Unmarshal(media, &job.Media); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}

	return &job, nil
}

func (r *threadJobRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE thread_jobs
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.ThreadJobStatusProcessing, id, models.ThreadJobStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// AdvanceStep appends the published id and advances current_index in one
// conditional update. The current_index predicate is the replay guard: a
// redelivered step whose result was already recorded affects zero rows, and
// the caller treats that as already handled.
func (r *threadJobRepository) AdvanceStep(ctx context.Context, id int64, stepIndex int, publishedID string) (bool, error) {
	query := `
		UPDATE thread_jobs
		SET published_post_ids = array_append(published_post_ids, $1),
			current_index = current_index + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND current_index = $3
	`
	result, err := r.db.ExecContext(ctx, query, publishedID, id, stepIndex)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *threadJobRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE thread_jobs
		SET status = $1, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, models.ThreadJobStatusCompleted, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *threadJobRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE thread_jobs
		SET status = $1, error_message = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.ThreadJobStatusFailed, errorMessage, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *threadJobRepository) RecordRetry(ctx context.Context, id int64, retryCount int, errorMessage string) error {
	query := `
		UPDATE thread_jobs
		SET retry_count = $1, last_retry_at = $2, error_message = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, retryCount, time.Now(), errorMessage, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
