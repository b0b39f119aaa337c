package identities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vrschool-media/media"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Identity{})
}

func (s *GormStore) FindOrCreate(ctx context.Context, sourceURL string) (*Identity, error) {
	externalID, err := ParseExternalID(sourceURL)
	if err != nil {
		return nil, err
	}

	ident := Identity{
		ExternalID: externalID,
		SourceURL:  strings.TrimSpace(sourceURL),
		Status:     media.Pending,
	}
	// a concurrent caller may have inserted the same id first; either way the
	// row that ends up in the table is the one returned
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ident).Error
	if err != nil {
		return nil, fmt.Errorf("create identity %s: %w", externalID, err)
	}
	return s.Get(ctx, externalID)
}

func (s *GormStore) Get(ctx context.Context, externalID string) (*Identity, error) {
	var ident Identity
	err := s.db.WithContext(ctx).First(&ident, "external_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, statuses ...media.Status) ([]Identity, error) {
	var idents []Identity
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at").
		Find(&idents).Error
	return idents, err
}

func (s *GormStore) MarkDownloading(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Downloading, map[string]interface{}{
		"progress":            0,
		"download_started_at": time.Now(),
	})
}

func (s *GormStore) MarkUploading(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Uploading, map[string]interface{}{})
}

func (s *GormStore) MarkCompleted(ctx context.Context, ident *Identity, storageURL, storageKey string, format media.Format) error {
	if storageURL == "" {
		return fmt.Errorf("%w: completed without storage url", ErrInvalidTransition)
	}
	updates := map[string]interface{}{
		"storage_url":           storageURL,
		"storage_key":           storageKey,
		"progress":              100,
		"error":                 "",
		"download_completed_at": time.Now(),
	}
	for k, v := range formatColumns(format) {
		updates[k] = v
	}
	return s.transition(ctx, ident, media.Completed, updates)
}

func (s *GormStore) MarkFailed(ctx context.Context, ident *Identity, cause error) error {
	return s.transition(ctx, ident, media.Failed, map[string]interface{}{
		"progress": 0,
		"error":    errorText(cause),
	})
}

func (s *GormStore) ResetForRetry(ctx context.Context, ident *Identity) error {
	return s.transition(ctx, ident, media.Pending, map[string]interface{}{
		"progress": 0,
	})
}

func (s *GormStore) SetProgress(ctx context.Context, ident *Identity, progress int) error {
	progress = clampProgress(progress)
	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("external_id = ? AND status IN ?", ident.ExternalID, []media.Status{media.Downloading, media.Uploading}).
		Update("progress", progress).Error
	if err != nil {
		return err
	}
	ident.Progress = progress
	return nil
}

func (s *GormStore) SetMetadata(ctx context.Context, ident *Identity, meta media.Metadata) error {
	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("external_id = ?", ident.ExternalID).
		Updates(map[string]interface{}{
			"meta_title":       meta.Title,
			"meta_description": meta.Description,
			"meta_duration":    meta.Duration,
			"meta_uploader":    meta.Uploader,
			"meta_channel":     meta.Channel,
			"meta_thumbnail":   meta.Thumbnail,
			"meta_upload_date": meta.UploadDate,
			"meta_view_count":  meta.ViewCount,
			"meta_fetched_at":  meta.FetchedAt,
		}).Error
	if err != nil {
		return err
	}
	ident.Metadata = meta
	return nil
}

func (s *GormStore) IncrementUsage(ctx context.Context, ident *Identity) error {
	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("external_id = ?", ident.ExternalID).
		Updates(map[string]interface{}{
			"usage_count":      gorm.Expr("usage_count + ?", 1),
			"last_accessed_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	return s.reload(ctx, ident)
}

// transition applies updates only if the row is currently in a status that
// may move to `to`, so two workers can never both claim the same identity.
func (s *GormStore) transition(ctx context.Context, ident *Identity, to media.Status, updates map[string]interface{}) error {
	updates["status"] = to
	res := s.db.WithContext(ctx).Model(&Identity{}).
		Where("external_id = ? AND status IN ?", ident.ExternalID, media.From(to)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		cur, err := s.Get(ctx, ident.ExternalID)
		if err != nil {
			return err
		}
		*ident = *cur
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	log.Debugln("identity", ident.ExternalID, "status ->", to)
	return s.reload(ctx, ident)
}

func (s *GormStore) reload(ctx context.Context, ident *Identity) error {
	cur, err := s.Get(ctx, ident.ExternalID)
	if err != nil {
		return err
	}
	*ident = *cur
	return nil
}

func formatColumns(f media.Format) map[string]interface{} {
	return map[string]interface{}{
		"format_width":       f.Width,
		"format_height":      f.Height,
		"format_resolution":  f.Resolution,
		"format_video_codec": f.VideoCodec,
		"format_audio_codec": f.AudioCodec,
		"format_container":   f.Container,
		"format_fps":         f.FPS,
		"format_length":      f.Length,
		"format_size":        f.Size,
	}
}
