package content

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vrschool-media/media"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Content{})
}

func (s *GormStore) Create(ctx context.Context, c *Content) error {
	prepare(c)
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*Content, error) {
	var c Content
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, statuses ...media.Status) ([]Content, error) {
	var cs []Content
	err := s.db.WithContext(ctx).
		Where("media_status IN ?", statuses).
		Order("created_at").
		Find(&cs).Error
	return cs, err
}

func (s *GormStore) LinkIdentity(ctx context.Context, id, externalID string) error {
	return s.update(ctx, id, map[string]interface{}{
		"media_identity_ref": externalID,
	})
}

func (s *GormStore) SetProgress(ctx context.Context, id string, status media.Status, progress int) error {
	return s.update(ctx, id, map[string]interface{}{
		"media_status":   status,
		"media_progress": progress,
	})
}

func (s *GormStore) MarkCompleted(ctx context.Context, id, downloadedURL string) error {
	return s.update(ctx, id, map[string]interface{}{
		"media_status":         media.Completed,
		"media_downloaded_url": downloadedURL,
		"media_progress":       100,
		"media_error":          "",
	})
}

func (s *GormStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.update(ctx, id, map[string]interface{}{
		"media_status":   media.Failed,
		"media_progress": 0,
		"media_error":    message,
	})
}

func (s *GormStore) ResetForRetry(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]interface{}{
		"media_status":   media.Pending,
		"media_progress": 0,
		"media_error":    "",
	})
}

func (s *GormStore) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&Content{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
