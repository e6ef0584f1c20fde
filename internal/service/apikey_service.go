package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/pkg/utils"
)

type ApiKeyService interface {
	Create(ctx context.Context, userID int64, keyName string) (string, error)
	GetUserID(ctx context.Context, apiKey string) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	Remove(ctx context.Context, id, userID int64) error
}

type apiKeyService struct {
	repo repository.ApiKeyRepository
}

func NewApiKeyService(repo repository.ApiKeyRepository) ApiKeyService {
	return &apiKeyService{repo: repo}
}

func (s *apiKeyService) Create(ctx context.Context, userID int64, keyName string) (string, error) {
	key, err := utils.GenerateRandomKey(32)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	apiKey := models.ApiKey{
		UserID:  userID,
		KeyName: keyName,
		ApiKey:  key,
	}

	if _, err := s.repo.Create(ctx, &apiKey); err != nil {
		return "", err
	}

	return key, nil
}

func (s *apiKeyService) GetUserID(ctx context.Context, apiKey string) (int64, error) {
	userID, err := s.repo.GetUserID(ctx, apiKey)
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, errors.New("invalid API key")
	}
	return userID, nil
}

func (s *apiKeyService) List(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	return s.repo.ListByUserID(ctx, userID)
}

func (s *apiKeyService) Remove(ctx context.Context, id, userID int64) error {
	return s.repo.Remove(ctx, id, userID)
}
