package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutFile(ctx context.Context, localPath, key, contentType string) (string, error) {
	args := m.Called(localPath, key, contentType)
	return args.String(0), args.Error(1)
}

func scratchFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "c1-dQw4w9WgXcQ.mp4")
	require.NoError(t, os.WriteFile(p, []byte("mp4 bytes"), 0644))
	return p
}

func TestUploadDeletesScratchOnSuccess(t *testing.T) {
	p := scratchFile(t)
	store := &mockObjectStore{}
	store.On("PutFile", p, "videos/dQw4w9WgXcQ.mp4", "video/mp4").
		Return("http://minio:9000/media/videos/dQw4w9WgXcQ.mp4", nil)

	url, err := NewUploader(store).Upload(context.Background(), p, "videos/dQw4w9WgXcQ.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/media/videos/dQw4w9WgXcQ.mp4", url)
	assert.NoFileExists(t, p)
	store.AssertExpectations(t)
}

func TestUploadKeepsScratchOnFailure(t *testing.T) {
	p := scratchFile(t)
	store := &mockObjectStore{}
	store.On("PutFile", p, "videos/x.mp4", "video/mp4").Return("", errors.New("connection reset"))

	_, err := NewUploader(store).Upload(context.Background(), p, "videos/x.mp4", "video/mp4")
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.FileExists(t, p)
}

func TestUploadMissingFile(t *testing.T) {
	store := &mockObjectStore{}
	_, err := NewUploader(store).Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), "k", "video/mp4")
	assert.ErrorIs(t, err, ErrUploadFailed)
	store.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
}
