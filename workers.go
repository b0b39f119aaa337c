package main

import (
	"context"
	"time"

	"vrschool-media/cookies"
	"vrschool-media/pipeline"
)

// scratchCleaner removes leftovers of downloads that never finished.
func scratchCleaner(ctx context.Context, dir string, maxAge time.Duration) {
	clean := func() {
		if _, err := pipeline.CleanScratch(dir, maxAge); err != nil {
			log.Errorf("scratch cleanup: %v", err)
		}
	}
	clean()
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clean()
		}
	}
}

// cookieWatcher refreshes the cookie file before downloads need it.
func cookieWatcher(ctx context.Context, m *cookies.Manager, interval time.Duration) {
	check := func() {
		if err := m.EnsureFresh(ctx, false); err != nil && ctx.Err() == nil {
			log.Errorf("cookie check: %v", err)
		}
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
