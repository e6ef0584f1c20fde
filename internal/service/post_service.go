package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	MediaForPost(ctx context.Context, postID int64) ([]models.ThreadStepMedia, error)
	RemovePostMedia(ctx context.Context, postID int64) error
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db *sql.DB
	pr repository.PostRepository
	ac repository.SocialAccountRepository
	ma repository.MediaAssetRepository
	pm repository.PostMediaRepository
	r2 *R2Service
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	ma repository.MediaAssetRepository,
	ac repository.SocialAccountRepository,
	pm repository.PostMediaRepository,
	r2 *R2Service) PostService {
	return &postService{
		db: db,
		pr: pr,
		ac: ac,
		ma: ma,
		pm: pm,
		r2: r2,
	}
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, err
	}
	if pc.Caption == "" {
		err := errors.New("caption cannot be empty")
		slog.Info(err.Error())
		return 0, err
	}

	scheduledTime, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("invalid scheduled time format: %w", err)
		slog.Error(err.Error())
		return 0, err
	}

	var platforms []string
	if err := json.Unmarshal([]byte(pc.Platforms), &platforms); err != nil {
		err = fmt.Errorf("invalid platforms format: %w", err)
		slog.Error(err.Error())
		return 0, err
	}
	if len(platforms) == 0 && !pc.IsDraft {
		err := errors.New("no platforms selected")
		slog.Error(err.Error())
		return 0, err
	}

	// A threads post is handed to the chained-thread orchestrator, which owns
	// the post's whole lifecycle; it cannot share a post with platforms the
	// dispatcher publishes directly.
	if len(platforms) > 1 {
		for _, platform := range platforms {
			if platform == models.PlatformThreads {
				err := errors.New("threads cannot be combined with other platforms")
				slog.Info(err.Error())
				return 0, err
			}
		}
	}

	// Every requested platform must have a connected account up front;
	// failures at publish time are still handled per-platform.
	for _, platform := range platforms {
		acc, err := s.ac.GetByUserAndPlatform(ctx, userID, platform)
		if err != nil {
			return 0, err
		}
		if acc == nil {
			return 0, fmt.Errorf("no connected account for platform %s", platform)
		}
	}

	var platformCaptions map[string]string
	if pc.PlatformCaptions != "" {
		if err := json.Unmarshal([]byte(pc.PlatformCaptions), &platformCaptions); err != nil {
			err = fmt.Errorf("invalid platform captions format: %w", err)
			slog.Error(err.Error())
			return 0, err
		}
	}

	var threadParts []string
	if pc.ThreadParts != "" {
		if err := json.Unmarshal([]byte(pc.ThreadParts), &threadParts); err != nil {
			err = fmt.Errorf("invalid thread parts format: %w", err)
			slog.Error(err.Error())
			return 0, err
		}
	}

	status := models.PostStatusPending
	if pc.IsDraft {
		status = models.PostStatusDraft
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:           userID,
		Caption:          pc.Caption,
		PlatformCaptions: platformCaptions,
		ThreadParts:      threadParts,
		Platforms:        platforms,
		ScheduledTime:    scheduledTime,
		Status:           status,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}

		fileBytes, err := io.ReadAll(fileContent)
		fileContent.Close()
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if fileType == types.Unknown {
			return errors.New("unsupported file type")
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	err = s.r2.UploadToR2(ctx, id, file, fileType)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

// MediaForPost resolves a post's media references in display order, with the
// kind each asset maps to.
func (s *postService) MediaForPost(ctx context.Context, postID int64) ([]models.ThreadStepMedia, error) {
	postMedias, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error fetching post media for PostID %d: %w", postID, err)
	}

	var media []models.ThreadStepMedia
	for _, pm := range postMedias {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, fmt.Errorf("error retrieving media asset for AssetID %d: %w", pm.AssetID, err)
		}
		if asset == nil || asset.FileURL == "" {
			return nil, fmt.Errorf("media asset is missing or incomplete for AssetID %d", pm.AssetID)
		}
		media = append(media, models.ThreadStepMedia{
			URL:  asset.FileURL,
			Kind: MediaKindOf(asset.FileType),
		})
	}
	return media, nil
}

// RemovePostMedia deletes a published post's objects from storage and drops
// the asset rows. Callers skip this for platforms that still pull the file.
func (s *postService) RemovePostMedia(ctx context.Context, postID int64) error {
	postMedias, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}

	for _, pm := range postMedias {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil || asset == nil {
			continue
		}
		if err := s.r2.DeleteObject(ctx, asset.FileName); err != nil {
			slog.Info(err.Error())
			continue
		}
		if err := s.ma.Remove(ctx, asset.ID); err != nil {
			slog.Info(err.Error())
		}
	}

	return s.pm.Remove(ctx, postID)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info")
	}

	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts")
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	err = s.pr.Remove(ctx, postID)
	if err != nil {
		return fmt.Errorf("error removing post")
	}

	return nil
}
