package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// run executes name with args and returns (stdout, stderr, error)
func run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	log.Infoln(name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("%s error: %v", name, err)
		log.Errorln("stderr:", stderr.String())
	} else {
		log.Debugln("stderr:", stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// runs ffmpeg with the provided args and returns (stdout, stderr, error)
func Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return run(ctx, "ffmpeg", args...)
}

// Mux copies the first video stream of video and the first audio stream of
// audio into dst without re-encoding.
func Mux(ctx context.Context, video, audio, dst string) error {
	_, stderr, err := Ffmpeg(ctx,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-movflags", "+faststart",
		dst)
	if err != nil {
		return fmt.Errorf("mux %s: %w: %s", dst, err, LastLine(stderr))
	}
	return nil
}

// Remux rewrites src into the container implied by dst's extension.
func Remux(ctx context.Context, src, dst string) error {
	_, stderr, err := Ffmpeg(ctx,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-c", "copy",
		"-movflags", "+faststart",
		dst)
	if err != nil {
		return fmt.Errorf("remux %s: %w: %s", dst, err, LastLine(stderr))
	}
	return nil
}

func Version(ctx context.Context) (string, error) {
	stdout, _, err := Ffmpeg(ctx, "-version")
	if err != nil {
		return "", err
	}
	return firstLine(stdout), nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// LastLine returns the last non-empty line of tool output.
func LastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
