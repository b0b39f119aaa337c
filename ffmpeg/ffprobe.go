package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vrschool-media/media"
)

// runs ffprobe with the provided args and returns (stdout, stderr, error)
func Ffprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return run(ctx, "ffprobe", args...)
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        uint   `json:"width"`
		Height       uint   `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe describes the media file at path.
func Probe(ctx context.Context, path string) (media.Format, error) {
	stdout, stderr, err := Ffprobe(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path)
	if err != nil {
		return media.Format{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, LastLine(stderr))
	}
	return ParseProbe(stdout)
}

// ParseProbe converts ffprobe's JSON output into a Format.
func ParseProbe(data []byte) (media.Format, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return media.Format{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var f media.Format
	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			f.VideoCodec = s.CodecName
			f.Width = s.Width
			f.Height = s.Height
			f.FPS = parseRate(s.AvgFrameRate)
		case "audio":
			if f.AudioCodec == "" {
				f.AudioCodec = s.CodecName
			}
		}
	}
	if !foundVideo {
		return media.Format{}, fmt.Errorf("no video stream in ffprobe output")
	}

	f.Resolution = media.ResolutionLabel(f.Height)
	f.Container = containerName(out.Format.FormatName)
	f.Length, _ = strconv.ParseFloat(out.Format.Duration, 64)
	f.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	return f, nil
}

// parseRate turns "30000/1001" into 29.97
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// ffprobe reports a family like "mov,mp4,m4a,3gp,3g2,mj2"
func containerName(formatName string) string {
	names := strings.Split(formatName, ",")
	for _, n := range names {
		if n == "mp4" {
			return "mp4"
		}
	}
	return names[0]
}
