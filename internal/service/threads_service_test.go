package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	config "github.com/publome/publishing-api/configs"
	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/transfer"
	"github.com/publome/publishing-api/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

// pollFixture serves container status responses in order, repeating the last
// one once the sequence is exhausted, and counts how often it was asked.
type pollFixture struct {
	statuses []string
	requests int
}

func (f *pollFixture) handler(w http.ResponseWriter, r *http.Request) {
	i := f.requests
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.requests++

	json.NewEncoder(w).Encode(transfer.ThreadsContainerStatus{
		ID:           "container-1",
		Status:       f.statuses[i],
		ErrorMessage: "upstream rejected media",
	})
}

func newPollService(t *testing.T, f *pollFixture) (*threadsService, *models.SocialAccount) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	encrypted, err := utils.Encrypt([]byte("access-token"), []byte(testSecretKey))
	require.NoError(t, err)

	s := &threadsService{
		cfg:          config.Config{SecretKey: testSecretKey},
		graphURL:     srv.URL,
		pollInterval: time.Millisecond,
	}
	acc := &models.SocialAccount{ID: 1, AccountID: "acct-1", AccessToken: encrypted}
	return s, acc
}

func TestWaitForContainerOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		kind     models.MediaKind
		wantCode string
	}{
		{"finished after processing", []string{ContainerStatusInProgress, ContainerStatusInProgress, ContainerStatusFinished}, models.MediaKindImage, ""},
		{"already published", []string{ContainerStatusPublished}, models.MediaKindImage, ""},
		{"error is terminal", []string{ContainerStatusInProgress, ContainerStatusError}, models.MediaKindImage, ErrCodeContainerError},
		{"expired is terminal", []string{ContainerStatusExpired}, models.MediaKindVideo, ErrCodeContainerExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &pollFixture{statuses: tt.statuses}
			s, acc := newPollService(t, f)

			err := s.WaitForContainer(context.Background(), acc, "container-1", tt.kind)

			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, len(tt.statuses), f.requests)
				return
			}

			var pubErr *PublishError
			require.ErrorAs(t, err, &pubErr)
			assert.Equal(t, tt.wantCode, pubErr.Code)
			assert.True(t, pubErr.Retryable)
			// Terminal statuses stop the loop immediately.
			assert.Equal(t, len(tt.statuses), f.requests)
		})
	}
}

func TestWaitForContainerExhaustionIsTimeout(t *testing.T) {
	f := &pollFixture{statuses: []string{ContainerStatusInProgress}}
	s, acc := newPollService(t, f)

	err := s.WaitForContainer(context.Background(), acc, "container-1", models.MediaKindImage)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, ErrCodePollTimeout, pubErr.Code)
	assert.True(t, pubErr.Retryable)
	assert.Equal(t, maxPollAttemptsImage, f.requests)
}

func TestWaitForContainerVideoGetsHigherCeiling(t *testing.T) {
	f := &pollFixture{statuses: []string{ContainerStatusInProgress}}
	s, acc := newPollService(t, f)

	err := s.WaitForContainer(context.Background(), acc, "container-1", models.MediaKindVideo)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, ErrCodePollTimeout, pubErr.Code)
	assert.Equal(t, maxPollAttemptsVideo, f.requests)
	assert.Equal(t, 3*maxPollAttemptsImage, f.requests)
}

func TestWaitForContainerHonorsContextCancel(t *testing.T) {
	f := &pollFixture{statuses: []string{ContainerStatusInProgress}}
	s, acc := newPollService(t, f)
	s.pollInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.WaitForContainer(ctx, acc, "container-1", models.MediaKindImage)
	}()
	cancel()

	select {
	case err := <-done:
		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, ErrCodePollTimeout, pubErr.Code)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForContainer did not return after cancel")
	}
}
