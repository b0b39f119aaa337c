package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"vrschool-media/ffmpeg"
	"vrschool-media/media"
)

// Extractor drives yt-dlp. It is the Attempter used in production.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func baseArgs(s Strategy, cookiePath string) []string {
	args := []string{
		"--no-playlist",
		"--socket-timeout", socketTimeout,
		"--retries", retries,
	}
	if s.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+s.PlayerClient)
	}
	if s.UserAgent != "" {
		args = append(args, "--user-agent", s.UserAgent)
	}
	if s.UseCookies && cookiePath != "" {
		if _, err := os.Stat(cookiePath); err == nil {
			args = append(args, "--cookies", cookiePath)
		} else {
			log.Warnf("strategy %s wants cookies but %s is missing", s.Name, cookiePath)
		}
	}
	return args
}

// Attempt lists the formats under s, picks the best ones and downloads them
// to req.OutputPath as mp4.
func (e *Extractor) Attempt(ctx context.Context, s Strategy, req Request) error {
	sel, err := e.selectFormats(ctx, s, req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warnf("%s: format listing with %s failed, using selector: %v", req.URL, s.Name, err)
		return e.downloadSelector(ctx, s, req)
	}

	if sel.Muxed() {
		log.Infof("%s: muxed format %s (%dp %s)", req.URL, sel.Video.ID, sel.Video.Height, sel.Video.Ext)
		if sel.Video.Ext == "mp4" {
			return e.downloadFormat(ctx, s, req, sel.Video.ID, req.OutputPath, newScaled(req.Progress, 0, 100))
		}
		src := req.OutputPath + ".src"
		defer os.Remove(src)
		if err := e.downloadFormat(ctx, s, req, sel.Video.ID, src, newScaled(req.Progress, 0, 95)); err != nil {
			return err
		}
		return ffmpeg.Remux(ctx, src, req.OutputPath)
	}

	log.Infof("%s: video %s (%dp) + audio %s", req.URL, sel.Video.ID, sel.Video.Height, sel.Audio.ID)
	videoPath := req.OutputPath + ".video"
	audioPath := req.OutputPath + ".audio"
	defer os.Remove(videoPath)
	defer os.Remove(audioPath)
	if err := e.downloadFormat(ctx, s, req, sel.Video.ID, videoPath, newScaled(req.Progress, 0, 80)); err != nil {
		return err
	}
	if err := e.downloadFormat(ctx, s, req, sel.Audio.ID, audioPath, newScaled(req.Progress, 80, 95)); err != nil {
		return err
	}
	return ffmpeg.Mux(ctx, videoPath, audioPath, req.OutputPath)
}

func (e *Extractor) selectFormats(ctx context.Context, s Strategy, req Request) (Selection, error) {
	info, err := e.info(ctx, s, req.URL, req.CookiePath)
	if err != nil {
		return Selection{}, err
	}
	return SelectFormats(info.Formats, s.MaxHeight)
}

func (e *Extractor) info(ctx context.Context, s Strategy, url, cookiePath string) (Info, error) {
	args := append(baseArgs(s, cookiePath), "-J", url)
	stdout, stderr, err := Run(ctx, args...)
	if err != nil {
		return Info{}, toolError(err, stderr)
	}
	return ParseInfo(stdout)
}

func (e *Extractor) downloadFormat(ctx context.Context, s Strategy, req Request, formatID, dst string, p *scaled) error {
	args := append(baseArgs(s, req.CookiePath),
		"--newline",
		"--no-part",
		"--force-overwrites",
		"-f", formatID,
		"-o", dst,
		req.URL)
	return runLines(ctx, p.line, args...)
}

// downloadSelector lets yt-dlp choose and merge the streams itself.
func (e *Extractor) downloadSelector(ctx context.Context, s Strategy, req Request) error {
	selector := fmt.Sprintf("bv*[height<=%d]+ba/b[height<=%d]", s.MaxHeight, s.MaxHeight)
	args := append(baseArgs(s, req.CookiePath),
		"--newline",
		"--no-part",
		"--force-overwrites",
		"-f", selector,
		"--merge-output-format", "mp4",
		"-o", req.OutputPath,
		req.URL)
	return runLines(ctx, newScaled(req.Progress, 0, 95).line, args...)
}

// Metadata fetches descriptive information without downloading.
func (e *Extractor) Metadata(ctx context.Context, url string) (media.Metadata, error) {
	info, err := e.info(ctx, Strategy{}, url, "")
	if err != nil {
		return media.Metadata{}, err
	}
	return info.Metadata(), nil
}

// Probe checks that url is reachable with the given cookie file.
func (e *Extractor) Probe(ctx context.Context, cookiePath, url string) error {
	if _, err := os.Stat(cookiePath); err != nil {
		return fmt.Errorf("cookie file: %w", err)
	}
	args := append(baseArgs(Strategy{UseCookies: true}, cookiePath),
		"--simulate",
		"--quiet",
		url)
	_, stderr, err := Run(ctx, args...)
	if err != nil {
		return toolError(err, stderr)
	}
	return nil
}

// ResolveDirectURL asks yt-dlp for a direct, progressive media URL.
func (e *Extractor) ResolveDirectURL(ctx context.Context, url string) (string, error) {
	args := append(baseArgs(Strategy{}, ""),
		"-g",
		"-f", "best[ext=mp4]/best",
		url)
	stdout, stderr, err := Run(ctx, args...)
	if err != nil {
		return "", toolError(err, stderr)
	}
	for _, l := range strings.Split(string(stdout), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l, nil
		}
	}
	return "", errors.New("yt-dlp returned no url")
}

func (e *Extractor) Version(ctx context.Context) (string, error) {
	stdout, _, err := Run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}
