package ytdlp

import (
	"encoding/json"
	"fmt"
	"os"
)

// Strategy is one way of asking the video site for a stream.
type Strategy struct {
	Name         string `json:"name"`
	MaxHeight    uint   `json:"maxHeight"`
	PlayerClient string `json:"playerClient,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
	UseCookies   bool   `json:"useCookies,omitempty"`
}

func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "tv-cookies", MaxHeight: 2160, PlayerClient: "tv", UseCookies: true},
		{Name: "web-cookies", MaxHeight: 1080, PlayerClient: "web", UseCookies: true},
		{Name: "ios", MaxHeight: 1080, PlayerClient: "ios"},
		{Name: "android", MaxHeight: 720, PlayerClient: "android"},
		{Name: "mweb", MaxHeight: 720, PlayerClient: "mweb"},
	}
}

// LoadStrategies reads a JSON array of strategies from path. An empty path
// yields the defaults.
func LoadStrategies(path string) ([]Strategy, error) {
	if path == "" {
		return DefaultStrategies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies: %w", err)
	}
	var ss []Strategy
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("parse strategies %s: %w", path, err)
	}
	if len(ss) == 0 {
		return nil, fmt.Errorf("%s: no strategies", path)
	}
	for i, s := range ss {
		if s.Name == "" {
			return nil, fmt.Errorf("%s: strategy %d has no name", path, i)
		}
		if s.MaxHeight == 0 {
			return nil, fmt.Errorf("%s: strategy %q has no maxHeight", path, s.Name)
		}
	}
	return ss, nil
}
