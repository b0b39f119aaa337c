package identities

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
var genericID = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

// path prefixes that are followed by the video id
var youtubePaths = []string{"/embed/", "/shorts/", "/live/", "/v/", "/e/"}

// ParseExternalID returns the canonical id of the video a URL points at.
// YouTube URLs of every common shape map to the bare 11 character id; other
// hosts are accepted when they carry a v or id query parameter and map to
// "host:id".
func ParseExternalID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, rawURL)
	}
	host := strings.ToLower(u.Hostname())

	if host == "youtu.be" {
		id := strings.Trim(u.Path, "/")
		if youtubeID.MatchString(id) {
			return id, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, rawURL)
	}

	if youtubeHosts[host] {
		if id := u.Query().Get("v"); youtubeID.MatchString(id) {
			return id, nil
		}
		for _, p := range youtubePaths {
			if rest, ok := strings.CutPrefix(u.Path, p); ok {
				id, _, _ := strings.Cut(rest, "/")
				if youtubeID.MatchString(id) {
					return id, nil
				}
			}
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, rawURL)
	}

	q := u.Query()
	for _, key := range []string{"v", "id"} {
		if id := q.Get(key); genericID.MatchString(id) {
			return strings.TrimPrefix(host, "www.") + ":" + id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, rawURL)
}

// IsYouTubeID reports whether an external id came from a YouTube URL.
func IsYouTubeID(externalID string) bool {
	return youtubeID.MatchString(externalID)
}

// CanonicalURL is the URL handed to the extraction tool. For ids that are not
// YouTube ids the original source URL is used as is.
func CanonicalURL(ident *Identity) string {
	if IsYouTubeID(ident.ExternalID) {
		return "https://www.youtube.com/watch?v=" + ident.ExternalID
	}
	return ident.SourceURL
}
