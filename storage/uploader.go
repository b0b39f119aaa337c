package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var ErrUploadFailed = errors.New("upload failed")

type ObjectStore interface {
	PutFile(ctx context.Context, localPath, key, contentType string) (string, error)
}

// Uploader moves finished scratch files into object storage.
type Uploader struct {
	store ObjectStore
}

func NewUploader(store ObjectStore) *Uploader {
	return &Uploader{store: store}
}

// Upload sends localPath to key and deletes it on success. On failure the
// file is left in place so a retry can reuse it.
func (u *Uploader) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	url, err := u.store.PutFile(ctx, localPath, key, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err)
	}
	if err := os.Remove(localPath); err != nil {
		log.Warnf("remove scratch file %s: %v", localPath, err)
	}
	return url, nil
}
