package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool points Binary at a shell script for the duration of the test.
func fakeTool(t *testing.T, script string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	old := Binary
	Binary = path
	t.Cleanup(func() { Binary = old })
}

func TestRunLinesLongLines(t *testing.T) {
	cases := map[string]int{
		"fits the buffer":    200 * 1024,
		"exceeds the buffer": 2 * maxLine,
	}
	for name, size := range cases {
		t.Run(name, func(t *testing.T) {
			fakeTool(t, "head -c "+strconv.Itoa(size)+" /dev/zero | tr '\\0' 'x'\necho\necho '[download]  50.0% of 10MiB'\nhead -c 262144 /dev/zero\n")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var progress []float64
			err := runLines(ctx, func(line string) {
				if p, ok := ParseProgress(line); ok {
					progress = append(progress, p)
				}
			}, "--newline")
			require.NoError(t, err)
			assert.NoError(t, ctx.Err(), "tool blocked until the timeout")
			if size < maxLine {
				assert.Equal(t, []float64{50}, progress)
			}
		})
	}
}

func TestRunLinesToolError(t *testing.T) {
	fakeTool(t, "echo 'ERROR: [youtube] dQw4w9WgXcQ: Sign in to confirm you are not a bot' >&2\nexit 1\n")

	err := runLines(context.Background(), nil, "--newline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Sign in to confirm")
}
