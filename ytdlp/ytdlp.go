package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Binary is the extraction tool executable.
var Binary = "yt-dlp"

const (
	socketTimeout = "30"
	retries       = "3"

	maxLine = 1 << 20 // bytes
)

// runs yt-dlp with the provided args and returns (stdout, stderr, error)
func Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	log.Infoln(Binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("yt-dlp error: %v", err)
		log.Errorln("stderr:", stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// runLines is Run for long downloads: every stdout line is handed to onLine
// as it arrives.
func runLines(ctx context.Context, onLine func(string), args ...string) error {
	log.Infoln(Binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		// line too long; drain the rest so the tool can exit
		log.Warnf("yt-dlp output: %v", err)
		io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		log.Errorf("yt-dlp error: %v", err)
		return toolError(err, stderr.Bytes())
	}
	return nil
}

// toolError keeps the tool's own diagnostic, which is what callers match on.
func toolError(err error, stderr []byte) error {
	msg := errorLines(stderr)
	if msg == "" {
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return fmt.Errorf("yt-dlp: %w: %s", err, msg)
}

// errorLines picks the ERROR: lines out of stderr, or the last line when
// there are none.
func errorLines(stderr []byte) string {
	var errs []string
	var last string
	for _, l := range strings.Split(string(stderr), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		last = l
		if strings.HasPrefix(l, "ERROR:") {
			errs = append(errs, l)
		}
	}
	if len(errs) > 0 {
		return strings.Join(errs, "; ")
	}
	return last
}
