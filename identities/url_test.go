package identities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExternalID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":                 "dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s&list=PL123":    "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?feature=share&v=dQw4w9WgXcQ":     "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ":               "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abcdef":                      "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1":        "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":                  "dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ/":                   "dQw4w9WgXcQ",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ":          "dQw4w9WgXcQ",
		"  https://www.youtube.com/watch?v=dQw4w9WgXcQ  ":             "dQw4w9WgXcQ",
		"https://video.example/watch?id=abc123":                       "video.example:abc123",
		"https://www.video.example/watch?id=abc123&utm_source=school": "video.example:abc123",
	}
	for in, want := range cases {
		got, err := ParseExternalID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseExternalIDRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"not a url",
		"ftp://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/channel/UCxyz",
		"https://youtu.be/",
		"https://example.com/video.mp4",
		"https://example.com/watch?id=a",
	} {
		_, err := ParseExternalID(in)
		assert.ErrorIs(t, err, ErrInvalidSourceURL, in)
	}
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		CanonicalURL(&Identity{ExternalID: "dQw4w9WgXcQ", SourceURL: "https://youtu.be/dQw4w9WgXcQ"}))
	assert.Equal(t, "https://video.example/watch?id=abc123",
		CanonicalURL(&Identity{ExternalID: "video.example:abc123", SourceURL: "https://video.example/watch?id=abc123"}))
}
