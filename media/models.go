package media

import (
	"fmt"
	"time"
)

type Status string

const (
	Pending     Status = "pending"
	Downloading Status = "downloading"
	Uploading   Status = "uploading"
	Completed   Status = "completed"
	Failed      Status = "failed"
)

// allowed[to] lists the statuses a record may move to `to` from.
var allowed = map[Status][]Status{
	Downloading: {Pending},
	Uploading:   {Downloading},
	Completed:   {Uploading},
	Failed:      {Pending, Downloading, Uploading},
	Pending:     {Failed},
}

// From returns the statuses that may transition to s.
func From(s Status) []Status {
	return allowed[s]
}

func CanTransition(from, to Status) bool {
	for _, s := range allowed[to] {
		if s == from {
			return true
		}
	}
	return false
}

// InFlight reports whether a worker currently owns the record.
func (s Status) InFlight() bool {
	return s == Downloading || s == Uploading
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Downloading, Uploading, Completed, Failed:
		return true
	}
	return false
}

// Format describes the file that was actually produced.
type Format struct {
	Width      uint    `json:"width" bson:"width"`
	Height     uint    `json:"height" bson:"height"`
	Resolution string  `json:"resolution" bson:"resolution"`
	VideoCodec string  `json:"videoCodec" bson:"videoCodec"`
	AudioCodec string  `json:"audioCodec" bson:"audioCodec"`
	Container  string  `json:"container" bson:"container"`
	FPS        float64 `json:"fps" bson:"fps"`
	Length     float64 `json:"duration" bson:"duration"` // seconds
	Size       int64   `json:"fileSize" bson:"fileSize"`
}

// DefaultFormat is what gets recorded when the file could not be probed.
func DefaultFormat(size int64) Format {
	return Format{
		VideoCodec: "h264",
		AudioCodec: "aac",
		Container:  "mp4",
		Size:       size,
	}
}

// ResolutionLabel turns a frame height into the usual "1080p" label.
func ResolutionLabel(height uint) string {
	if height == 0 {
		return ""
	}
	return fmt.Sprintf("%dp", height)
}

type Metadata struct {
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	Duration    float64   `json:"duration" bson:"duration"`
	Uploader    string    `json:"uploader" bson:"uploader"`
	Channel     string    `json:"channel" bson:"channel"`
	Thumbnail   string    `json:"thumbnail" bson:"thumbnail"`
	UploadDate  string    `json:"uploadDate" bson:"uploadDate"`
	ViewCount   int64     `json:"viewCount" bson:"viewCount"`
	FetchedAt   time.Time `json:"fetchedAt" bson:"fetchedAt"`
}

// BestEffort carries the result of a step whose failure must not fail the
// caller. When Err is set, Value holds the default the caller falls back to.
type BestEffort[T any] struct {
	Value T
	Err   error
}

// Try runs fn and substitutes def when it fails.
func Try[T any](def T, fn func() (T, error)) BestEffort[T] {
	v, err := fn()
	if err != nil {
		return BestEffort[T]{Value: def, Err: err}
	}
	return BestEffort[T]{Value: v}
}

// FellBack reports whether Value is the default rather than a real result.
func (b BestEffort[T]) FellBack() bool {
	return b.Err != nil
}
