package ytdlp

import (
	"regexp"
	"strconv"
)

var progressRe = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// ParseProgress extracts the percentage from a yt-dlp --newline progress line.
func ParseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// scaled maps a 0-100 percentage of one download into [lo, hi] of the
// overall progress and forwards only increases.
type scaled struct {
	report func(int)
	lo, hi int
	last   int
}

func newScaled(report func(int), lo, hi int) *scaled {
	return &scaled{report: report, lo: lo, hi: hi, last: -1}
}

func (s *scaled) line(l string) {
	if s.report == nil {
		return
	}
	p, ok := ParseProgress(l)
	if !ok {
		return
	}
	v := s.lo + int(p*float64(s.hi-s.lo)/100)
	if v > s.last {
		s.last = v
		s.report(v)
	}
}
