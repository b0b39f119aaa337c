package ytdlp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStrategies(t *testing.T) {
	ss := DefaultStrategies()
	require.Len(t, ss, 5)
	assert.Equal(t, "tv-cookies", ss[0].Name)
	assert.EqualValues(t, 2160, ss[0].MaxHeight)
	assert.True(t, ss[0].UseCookies)
	assert.False(t, ss[4].UseCookies)
}

func TestLoadStrategies(t *testing.T) {
	ss, err := LoadStrategies("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategies(), ss)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[
		{"name": "web", "maxHeight": 1440, "playerClient": "web", "useCookies": true},
		{"name": "android", "maxHeight": 720, "playerClient": "android", "userAgent": "com.google.android.youtube/19.09.37"}
	]`), 0644))
	ss, err = LoadStrategies(good)
	require.NoError(t, err)
	require.Len(t, ss, 2)
	assert.EqualValues(t, 1440, ss[0].MaxHeight)
	assert.Equal(t, "com.google.android.youtube/19.09.37", ss[1].UserAgent)

	for name, body := range map[string]string{
		"empty.json":    `[]`,
		"noname.json":   `[{"maxHeight": 720}]`,
		"noheight.json": `[{"name": "x"}]`,
		"broken.json":   `[{`,
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		_, err := LoadStrategies(p)
		assert.Error(t, err, name)
	}

	_, err = LoadStrategies(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestBaseArgs(t *testing.T) {
	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookieFile, []byte("# Netscape HTTP Cookie File\n"), 0644))

	args := baseArgs(Strategy{Name: "tv", PlayerClient: "tv", UseCookies: true}, cookieFile)
	assert.Contains(t, args, "youtube:player_client=tv")
	assert.Contains(t, args, cookieFile)
	assert.Contains(t, args, "--socket-timeout")

	args = baseArgs(Strategy{Name: "tv", UseCookies: true}, filepath.Join(t.TempDir(), "missing.txt"))
	assert.NotContains(t, args, "--cookies")

	args = baseArgs(Strategy{Name: "ios", PlayerClient: "ios"}, cookieFile)
	assert.NotContains(t, args, "--cookies")
}

func TestErrorLines(t *testing.T) {
	stderr := []byte("WARNING: something\nERROR: [youtube] dQw4w9WgXcQ: Sign in to confirm you're not a bot\n")
	assert.Equal(t, "ERROR: [youtube] dQw4w9WgXcQ: Sign in to confirm you're not a bot", errorLines(stderr))
	assert.Equal(t, "last", errorLines([]byte("first\nlast\n")))
}
