package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"

	"vrschool-media/ffmpeg"
	"vrschool-media/jobs"
)

// GetFreeSpace returns the free space in bytes for the filesystem containing the given directory
func getFreeSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	err := unix.Statfs(dir, &stat)
	if err != nil {
		return 0, fmt.Errorf("error getting filesystem stats: %v", err)
	}

	// Calculate free space
	freeSpace := stat.Bavail * uint64(stat.Bsize)
	return freeSpace, nil
}

// GetDirectorySize calculates the total size of a directory in bytes
func getDirectorySize(dir string) (int64, error) {
	var size int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error walking directory: %v", err)
	}
	return size, nil
}

type proxyStatus struct {
	Active int `json:"active"`
	Max    int `json:"max"`
}

type statusResponse struct {
	Ytdlp      string        `json:"ytdlp"`
	Ffmpeg     string        `json:"ffmpeg"`
	ScratchDir string        `json:"scratchDir"`
	FreeMiB    string        `json:"freeMiB"`
	UsedMiB    string        `json:"usedMiB"`
	Queue      jobs.Snapshot `json:"queue"`
	Proxy      proxyStatus   `json:"proxy"`
	Build      Footer        `json:"build"`
}

func (h *Handlers) StatusGet(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ytdlpVersion, err := h.Resolver.Version(ctx)
	if err != nil {
		log.Errorln(err)
	}
	ffmpegVersion, err := ffmpeg.Version(ctx)
	if err != nil {
		log.Errorln(err)
	}

	free, err := getFreeSpace(h.ScratchDir)
	if err != nil {
		log.Errorln(err)
	}
	used, err := getDirectorySize(h.ScratchDir)
	if err != nil {
		log.Errorln(err)
	}

	freeMiB := float64(free) / 1024 / 1024
	usedMiB := float64(used) / 1024 / 1024

	return c.JSON(http.StatusOK, statusResponse{
		Ytdlp:      ytdlpVersion,
		Ffmpeg:     ffmpegVersion,
		ScratchDir: h.ScratchDir,
		FreeMiB:    fmt.Sprintf("%.2f", freeMiB),
		UsedMiB:    fmt.Sprintf("%.2f", usedMiB),
		Queue:      h.Queue.Status(),
		Proxy:      proxyStatus{Active: h.Proxy.Active(), Max: h.Proxy.Max()},
		Build:      MakeFooter(),
	})
}
