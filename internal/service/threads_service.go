package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/publome/publishing-api/configs"
	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/internal/transfer"
	"github.com/publome/publishing-api/pkg/utils"
)

const threadsGraphURL = "https://graph.threads.net/v1.0"

// Container status values reported by the Threads graph. ERROR and EXPIRED are
// terminal; IN_PROGRESS keeps the poll loop going.
const (
	ContainerStatusInProgress = "IN_PROGRESS"
	ContainerStatusFinished   = "FINISHED"
	ContainerStatusError      = "ERROR"
	ContainerStatusExpired    = "EXPIRED"
	ContainerStatusPublished  = "PUBLISHED"
)

const (
	containerPollInterval = 10 * time.Second
	maxPollAttemptsImage  = 10
	// Server-side transcoding makes video containers much slower to settle.
	maxPollAttemptsVideo = 3 * maxPollAttemptsImage
)

type ThreadsService interface {
	ThreadsCallback(ctx context.Context, code string, userID int64) error
	RefreshThreadsToken(ctx context.Context, userID int64, refreshToken string) error
	CreateContainer(ctx context.Context, acc *models.SocialAccount, text string, media models.ThreadStepMedia, replyToID string) (string, error)
	WaitForContainer(ctx context.Context, acc *models.SocialAccount, containerID string, kind models.MediaKind) error
	PublishContainer(ctx context.Context, acc *models.SocialAccount, containerID string) (string, error)
}

type threadsService struct {
	cfg          config.Config
	sa           repository.SocialAccountRepository
	graphURL     string
	pollInterval time.Duration
}

func NewThreadsService(cfg config.Config, sa repository.SocialAccountRepository) ThreadsService {
	return &threadsService{
		cfg:          cfg,
		sa:           sa,
		graphURL:     threadsGraphURL,
		pollInterval: containerPollInterval,
	}
}

func (s *threadsService) ThreadsCallback(ctx context.Context, code string, userID int64) error {
	if code == "" {
		err := errors.New("code or state is empty")
		slog.Info(err.Error())
		return err
	}

	if userID == 0 {
		err := errors.New("user not found")
		slog.Info(err.Error())
		return err
	}

	token, err := s.exchangeCodeForToken(ctx, code)
	if err != nil {
		return err
	}

	userInfo, err := s.getThreadsUserInfo(token.AccessToken)
	if err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	accountInfo := &models.SocialAccount{
		UserID:          userID,
		Platform:        models.PlatformThreads,
		AccountID:       userInfo.ID,
		AccountName:     userInfo.Name,
		AccountUsername: userInfo.Username,
		ProfilePicture:  userInfo.ProfilePicture,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedAccessToken,
		TokenExpiresAt:  token.ExpiresAt,
	}

	_, err = s.sa.Create(ctx, nil, accountInfo)
	if err != nil {
		return err
	}

	return nil
}

func (s *threadsService) exchangeCodeForToken(ctx context.Context, code string) (*transfer.ThreadsToken, error) {
	data := url.Values{}
	data.Set("client_id", s.cfg.ThreadsClientID)
	data.Set("client_secret", s.cfg.ThreadsClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", s.cfg.ThreadsRedirectURI)
	data.Set("code", code)

	resp, err := http.Post(
		"https://graph.threads.net/oauth/access_token",
		"application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to exchange code: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("error response from Threads: %s (status code: %d)", body, resp.StatusCode)
	}

	var shortLived struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&shortLived); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %v", err)
	}

	// Exchange for a long-lived token right away; the short-lived one only
	// survives an hour.
	longLivedURL := fmt.Sprintf(
		"https://graph.threads.net/access_token?grant_type=th_exchange_token&client_secret=%s&access_token=%s",
		s.cfg.ThreadsClientSecret,
		shortLived.AccessToken,
	)

	longResp, err := http.Get(longLivedURL)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get long-lived token: %v", err)
	}
	defer longResp.Body.Close()

	var longLived struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(longResp.Body).Decode(&longLived); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode long-lived token response: %v", err)
	}

	return &transfer.ThreadsToken{
		AccessToken: longLived.AccessToken,
		ExpiresAt:   GetExpiresAt(longLived.ExpiresIn),
	}, nil
}

func (s *threadsService) getThreadsUserInfo(accessToken string) (*transfer.ThreadsUserInfo, error) {
	reqURL := fmt.Sprintf(
		"%s/me?fields=id,username,name,threads_profile_picture_url&access_token=%s",
		s.graphURL,
		accessToken,
	)

	resp, err := http.Get(reqURL)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var userInfo transfer.ThreadsUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &userInfo, nil
}

func (s *threadsService) RefreshThreadsToken(ctx context.Context, userID int64, refreshToken string) error {
	decryptedToken, err := utils.Decrypt(refreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf(
		"https://graph.threads.net/refresh_access_token?grant_type=th_refresh_token&access_token=%s",
		decryptedToken,
	)

	resp, err := http.Get(reqURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(result.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	socialAccount := models.SocialAccount{
		AccessToken:    encryptedAccessToken,
		RefreshToken:   encryptedAccessToken,
		TokenExpiresAt: GetExpiresAt(result.ExpiresIn),
	}

	return s.sa.SetToken(ctx, userID, refreshToken, &socialAccount)
}

// CreateContainer stages one thread step on the platform side. When replyToID
// is set the container is created as a reply; a rejection there is usually a
// permission problem or a parent that has not matured yet, so it carries its
// own error code.
func (s *threadsService) CreateContainer(ctx context.Context, acc *models.SocialAccount, text string, media models.ThreadStepMedia, replyToID string) (string, error) {
	accessToken, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", NewPublishError(models.PlatformThreads, ErrCodeBadInput, false, err)
	}

	payload := map[string]interface{}{
		"text":         text,
		"access_token": accessToken,
	}
	switch media.Kind {
	case models.MediaKindImage:
		payload["media_type"] = "IMAGE"
		payload["image_url"] = media.URL
	case models.MediaKindVideo:
		payload["media_type"] = "VIDEO"
		payload["video_url"] = media.URL
	default:
		payload["media_type"] = "TEXT"
	}
	if replyToID != "" {
		payload["reply_to_id"] = replyToID
	}

	reqURL := fmt.Sprintf("%s/%s/threads", s.graphURL, acc.AccountID)
	result, err := s.graphPost(ctx, reqURL, payload)
	if err != nil {
		if replyToID != "" {
			return "", NewPublishError(models.PlatformThreads, ErrCodeReplyRejected, true,
				fmt.Errorf("reply container for parent %s: %w", replyToID, err))
		}
		return "", NewPublishError(models.PlatformThreads, ErrCodeContainerCreate, true, err)
	}

	if result.ID == "" {
		return "", NewPublishError(models.PlatformThreads, ErrCodeContainerCreate, true,
			errors.New("no container ID returned from Threads"))
	}

	return result.ID, nil
}

// WaitForContainer polls until the container is ready to publish. Video gets a
// higher attempt ceiling than image because transcoding dominates the wait.
func (s *threadsService) WaitForContainer(ctx context.Context, acc *models.SocialAccount, containerID string, kind models.MediaKind) error {
	accessToken, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return NewPublishError(models.PlatformThreads, ErrCodeBadInput, false, err)
	}

	maxAttempts := maxPollAttemptsImage
	if kind == models.MediaKindVideo {
		maxAttempts = maxPollAttemptsVideo
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewPublishError(models.PlatformThreads, ErrCodePollTimeout, true, ctx.Err())
			case <-time.After(s.pollInterval):
			}
		}

		status, statusErr := s.getContainerStatus(ctx, containerID, accessToken)
		if statusErr != nil {
			slog.Info(statusErr.Error())
			continue
		}

		switch status.Status {
		case ContainerStatusFinished, ContainerStatusPublished:
			return nil
		case ContainerStatusError:
			return NewPublishError(models.PlatformThreads, ErrCodeContainerError, true,
				fmt.Errorf("container %s reported error: %s", containerID, status.ErrorMessage))
		case ContainerStatusExpired:
			return NewPublishError(models.PlatformThreads, ErrCodeContainerExpired, true,
				fmt.Errorf("container %s expired before publish", containerID))
		}
	}

	return NewPublishError(models.PlatformThreads, ErrCodePollTimeout, true,
		fmt.Errorf("container %s not ready after %d attempts", containerID, maxAttempts))
}

func (s *threadsService) getContainerStatus(ctx context.Context, containerID, accessToken string) (*transfer.ThreadsContainerStatus, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=status,error_message&access_token=%s", s.graphURL, containerID, accessToken)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from Threads: %d", resp.StatusCode)
	}

	var status transfer.ThreadsContainerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("error parsing status response: %w", err)
	}
	return &status, nil
}

// PublishContainer promotes a ready container to a public post and returns the
// remote post id used as the reply target of the next step.
func (s *threadsService) PublishContainer(ctx context.Context, acc *models.SocialAccount, containerID string) (string, error) {
	accessToken, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", NewPublishError(models.PlatformThreads, ErrCodeBadInput, false, err)
	}

	reqURL := fmt.Sprintf("%s/%s/threads_publish", s.graphURL, acc.AccountID)
	payload := map[string]interface{}{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	result, err := s.graphPost(ctx, reqURL, payload)
	if err != nil {
		return "", NewPublishError(models.PlatformThreads, ErrCodePublish, true, err)
	}
	if result.ID == "" {
		return "", NewPublishError(models.PlatformThreads, ErrCodePublish, true,
			errors.New("no post ID returned from Threads"))
	}

	return result.ID, nil
}

func (s *threadsService) graphPost(ctx context.Context, reqURL string, payload map[string]interface{}) (*transfer.ThreadsObjectID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from Threads: %d (%s)", resp.StatusCode, respBody)
	}

	var result transfer.ThreadsObjectID
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &result, nil
}
