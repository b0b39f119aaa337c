package ytdlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vrschool-media/media"
)

var ErrNoFormats = errors.New("no usable formats")

// Format is one entry of the "formats" list in yt-dlp -J output.
type Format struct {
	ID       string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Width    uint    `json:"width"`
	Height   uint    `json:"height"`
	FPS      float64 `json:"fps"`
	TBR      float64 `json:"tbr"`
	ABR      float64 `json:"abr"`
	Protocol string  `json:"protocol"`
}

func (f Format) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

func (f Format) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// Info is the subset of yt-dlp -J output this service reads.
type Info struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Thumbnail   string   `json:"thumbnail"`
	UploadDate  string   `json:"upload_date"`
	ViewCount   int64    `json:"view_count"`
	Formats     []Format `json:"formats"`
}

func ParseInfo(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parse yt-dlp info: %w", err)
	}
	return info, nil
}

func (i Info) Metadata() media.Metadata {
	return media.Metadata{
		Title:       i.Title,
		Description: i.Description,
		Duration:    i.Duration,
		Uploader:    i.Uploader,
		Channel:     i.Channel,
		Thumbnail:   i.Thumbnail,
		UploadDate:  i.UploadDate,
		ViewCount:   i.ViewCount,
		FetchedAt:   time.Now(),
	}
}

// Selection is what will be downloaded for one attempt. Audio is nil when
// Video already carries sound.
type Selection struct {
	Video Format
	Audio *Format
}

func (s Selection) Muxed() bool {
	return s.Audio == nil
}

// SelectFormats picks the best download at or below maxHeight. A muxed format
// wins when it is at least as tall as the best video-only stream.
func SelectFormats(formats []Format, maxHeight uint) (Selection, error) {
	var muxed, video, audio *Format
	for i := range formats {
		f := &formats[i]
		if f.Protocol == "mhtml" {
			continue
		}
		switch {
		case f.HasVideo() && f.HasAudio():
			if f.Height <= maxHeight && betterVideo(f, muxed) {
				muxed = f
			}
		case f.HasVideo():
			if f.Height <= maxHeight && betterVideo(f, video) {
				video = f
			}
		case f.HasAudio():
			if betterAudio(f, audio) {
				audio = f
			}
		}
	}

	if muxed != nil && (video == nil || muxed.Height >= video.Height) {
		return Selection{Video: *muxed}, nil
	}
	if video != nil && audio != nil {
		a := *audio
		return Selection{Video: *video, Audio: &a}, nil
	}
	if muxed != nil {
		return Selection{Video: *muxed}, nil
	}
	return Selection{}, fmt.Errorf("%w at or below %dp", ErrNoFormats, maxHeight)
}

// betterVideo orders by height, fps, bitrate, then prefers mp4.
func betterVideo(f, than *Format) bool {
	if than == nil {
		return true
	}
	if f.Height != than.Height {
		return f.Height > than.Height
	}
	if f.FPS != than.FPS {
		return f.FPS > than.FPS
	}
	if f.TBR != than.TBR {
		return f.TBR > than.TBR
	}
	return f.Ext == "mp4" && than.Ext != "mp4"
}

func betterAudio(f, than *Format) bool {
	if than == nil {
		return true
	}
	fr, tr := audioRate(f), audioRate(than)
	if fr != tr {
		return fr > tr
	}
	return f.Ext == "m4a" && than.Ext != "m4a"
}

func audioRate(f *Format) float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}
