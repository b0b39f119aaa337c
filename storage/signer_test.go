package storage

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) KeyFromURL(u string) (string, error) {
	args := m.Called(u)
	return args.String(0), args.Error(1)
}

func (m *mockPresigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(key, ttl)
	return args.String(0), args.Error(1)
}

func TestSignedURLDefaultTTL(t *testing.T) {
	p := &mockPresigner{}
	p.On("KeyFromURL", "http://minio/b/videos/a.mp4").Return("videos/a.mp4", nil)
	p.On("PresignGet", "videos/a.mp4", DefaultSignedURLTTL).Return("http://minio/b/videos/a.mp4?X-Amz-Signature=1", nil)

	r := NewSigner(p, 0).SignedURL(context.Background(), "http://minio/b/videos/a.mp4", 0)
	assert.False(t, r.FellBack())
	assert.Equal(t, "http://minio/b/videos/a.mp4?X-Amz-Signature=1", r.Value)
	p.AssertExpectations(t)
}

func TestSignedURLFallsBack(t *testing.T) {
	p := &mockPresigner{}
	p.On("KeyFromURL", "https://cdn.example.com/x.mp4").Return("", ErrForeignURL)
	p.On("KeyFromURL", "http://minio/b/videos/a.mp4").Return("videos/a.mp4", nil)
	p.On("PresignGet", "videos/a.mp4", time.Minute).Return("", errors.New("no credentials"))

	s := NewSigner(p, time.Hour)
	r := s.SignedURL(context.Background(), "https://cdn.example.com/x.mp4", 0)
	assert.True(t, r.FellBack())
	assert.ErrorIs(t, r.Err, ErrForeignURL)
	assert.Equal(t, "https://cdn.example.com/x.mp4", r.Value)

	r = s.SignedURL(context.Background(), "http://minio/b/videos/a.mp4", time.Minute)
	assert.True(t, r.FellBack())
	assert.Equal(t, "http://minio/b/videos/a.mp4", r.Value)
}

func TestMinioStoreURLs(t *testing.T) {
	s, err := NewMinioStore(Options{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "vrschool-media",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	u := s.URL("videos/dQw4w9WgXcQ.mp4")
	assert.Equal(t, "http://localhost:9000/vrschool-media/videos/dQw4w9WgXcQ.mp4", u)

	key, err := s.KeyFromURL(u)
	require.NoError(t, err)
	assert.Equal(t, "videos/dQw4w9WgXcQ.mp4", key)

	_, err = s.KeyFromURL("http://localhost:9000/other-bucket/videos/a.mp4")
	assert.ErrorIs(t, err, ErrForeignURL)
	_, err = s.KeyFromURL("http://localhost:9000/vrschool-media/")
	assert.ErrorIs(t, err, ErrForeignURL)

	public, err := NewMinioStore(Options{Endpoint: "minio:9000", Bucket: "b", PublicBaseURL: "https://media.school.test/"})
	require.NoError(t, err)
	assert.Equal(t, "https://media.school.test/b/k.mp4", public.URL("k.mp4"))
}

func TestMinioStorePresignOffline(t *testing.T) {
	// with a fixed region no bucket-location request is made
	s, err := NewMinioStore(Options{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "vrschool-media",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	r := NewSigner(s, time.Hour).SignedURL(context.Background(), s.URL("videos/a.mp4"), 0)
	require.False(t, r.FellBack(), "%v", r.Err)

	u, err := url.Parse(r.Value)
	require.NoError(t, err)
	assert.Equal(t, "/vrschool-media/videos/a.mp4", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
