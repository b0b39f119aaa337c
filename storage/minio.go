package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrForeignURL = errors.New("url does not point into the media bucket")

// presigned URLs cannot outlive this
const maxPresignTTL = 7 * 24 * time.Hour

type Options struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// MinioStore keeps downloaded videos in an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	region  string
	baseURL string
}

// NewMinioStore does not touch the network; call EnsureBucket for that.
func NewMinioStore(opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	base := strings.TrimRight(opts.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + opts.Endpoint
	}
	return &MinioStore{
		client:  client,
		bucket:  opts.Bucket,
		region:  opts.Region,
		baseURL: base,
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	log.Infof("created bucket %s", s.bucket)
	return nil
}

// PutFile streams localPath to key and returns the object's URL.
func (s *MinioStore) PutFile(ctx context.Context, localPath, key, contentType string) (string, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	log.Infof("uploaded %s to %s/%s (%d bytes)", localPath, s.bucket, key, info.Size)
	return s.URL(key), nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// URL is <base>/<bucket>/<key>
func (s *MinioStore) URL(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + key
}

// KeyFromURL reverses URL.
func (s *MinioStore) KeyFromURL(u string) (string, error) {
	prefix := s.baseURL + "/" + s.bucket + "/"
	if !strings.HasPrefix(u, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, u)
	}
	key := strings.TrimPrefix(u, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, u)
	}
	return key, nil
}
