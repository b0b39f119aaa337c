package content

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"vrschool-media/media"
)

var ErrNotFound = errors.New("content not found")

// Content is a VR video content item authored for a school.
type Content struct {
	ID          string         `gorm:"primaryKey" bson:"_id" json:"id"`
	Title       string         `bson:"title" json:"title"`
	Description string         `bson:"description,omitempty" json:"description,omitempty"`
	SchoolID    string         `gorm:"index" bson:"schoolId,omitempty" json:"schoolId,omitempty"`
	Media       MediaReference `gorm:"embedded;embeddedPrefix:media_" bson:"media" json:"media"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time      `bson:"updatedAt" json:"updatedAt"`
}

func (Content) TableName() string {
	return "contents"
}

// MediaReference mirrors the state of the linked video identity so clients
// can poll a single record.
type MediaReference struct {
	SourceURL     string       `bson:"sourceUrl" json:"sourceUrl"`
	StartTime     *float64     `bson:"startTime,omitempty" json:"startTime,omitempty"` // seconds
	EndTime       *float64     `bson:"endTime,omitempty" json:"endTime,omitempty"`     // seconds
	Status        media.Status `gorm:"index" bson:"downloadStatus" json:"downloadStatus"`
	DownloadedURL string       `bson:"downloadedUrl,omitempty" json:"downloadedUrl,omitempty"`
	Progress      int          `bson:"downloadProgress" json:"downloadProgress"`
	Error         string       `bson:"downloadError,omitempty" json:"downloadError,omitempty"`
	IdentityRef   string       `gorm:"index" bson:"identityRef,omitempty" json:"identityRef,omitempty"`
}

type Store interface {
	Create(ctx context.Context, c *Content) error
	Get(ctx context.Context, id string) (*Content, error)
	ListByStatus(ctx context.Context, statuses ...media.Status) ([]Content, error)

	LinkIdentity(ctx context.Context, id, externalID string) error
	SetProgress(ctx context.Context, id string, status media.Status, progress int) error
	MarkCompleted(ctx context.Context, id, downloadedURL string) error
	MarkFailed(ctx context.Context, id, message string) error
	ResetForRetry(ctx context.Context, id string) error
}

// prepare fills in the fields every new content item starts with.
func prepare(c *Content) {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	c.Media.Status = media.Pending
	c.Media.Progress = 0
	c.Media.Error = ""
	c.Media.DownloadedURL = ""
}
