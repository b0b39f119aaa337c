package identities

import (
	"context"
	"errors"
	"time"

	"vrschool-media/media"
)

var (
	ErrInvalidSourceURL  = errors.New("invalid source url")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("video identity not found")
)

// Identity is the one record kept per external video. Every content item
// that references the same video points at it.
type Identity struct {
	ExternalID string       `gorm:"primaryKey" bson:"_id" json:"externalId"`
	SourceURL  string       `gorm:"uniqueIndex" bson:"sourceUrl" json:"sourceUrl"`
	Status     media.Status `gorm:"index" bson:"downloadStatus" json:"downloadStatus"`
	StorageURL string       `bson:"storageUrl,omitempty" json:"storageUrl,omitempty"`
	StorageKey string       `bson:"storageKey,omitempty" json:"storageKey,omitempty"`
	Progress   int          `bson:"downloadProgress" json:"downloadProgress"`
	Error      string       `bson:"downloadError,omitempty" json:"downloadError,omitempty"`

	Metadata media.Metadata `gorm:"embedded;embeddedPrefix:meta_" bson:"metadata" json:"metadata"`
	Format   media.Format   `gorm:"embedded;embeddedPrefix:format_" bson:"downloadedFormat" json:"downloadedFormat"`

	UsageCount          int64      `bson:"usageCount" json:"usageCount"`
	LastAccessedAt      *time.Time `bson:"lastAccessedAt,omitempty" json:"lastAccessedAt,omitempty"`
	DownloadStartedAt   *time.Time `bson:"downloadStartedAt,omitempty" json:"downloadStartedAt,omitempty"`
	DownloadCompletedAt *time.Time `bson:"downloadCompletedAt,omitempty" json:"downloadCompletedAt,omitempty"`
	CreatedAt           time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time  `bson:"updatedAt" json:"updatedAt"`
}

func (Identity) TableName() string {
	return "video_identities"
}

// Store persists identities. Every method writes through immediately so that
// pollers see the current status.
type Store interface {
	FindOrCreate(ctx context.Context, sourceURL string) (*Identity, error)
	Get(ctx context.Context, externalID string) (*Identity, error)
	ListByStatus(ctx context.Context, statuses ...media.Status) ([]Identity, error)

	MarkDownloading(ctx context.Context, ident *Identity) error
	MarkUploading(ctx context.Context, ident *Identity) error
	MarkCompleted(ctx context.Context, ident *Identity, storageURL, storageKey string, format media.Format) error
	MarkFailed(ctx context.Context, ident *Identity, cause error) error
	ResetForRetry(ctx context.Context, ident *Identity) error

	SetProgress(ctx context.Context, ident *Identity, progress int) error
	SetMetadata(ctx context.Context, ident *Identity, meta media.Metadata) error
	IncrementUsage(ctx context.Context, ident *Identity) error
}

func errorText(cause error) string {
	if cause == nil || cause.Error() == "" {
		return "unknown error"
	}
	return cause.Error()
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
