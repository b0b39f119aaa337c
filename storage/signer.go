package storage

import (
	"context"
	"time"

	"vrschool-media/media"
)

const DefaultSignedURLTTL = 6 * time.Hour

type Presigner interface {
	KeyFromURL(u string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Signer turns stored object URLs into time-limited playback URLs.
type Signer struct {
	presigner  Presigner
	defaultTTL time.Duration
}

func NewSigner(p Presigner, defaultTTL time.Duration) *Signer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultSignedURLTTL
	}
	return &Signer{presigner: p, defaultTTL: defaultTTL}
}

// SignedURL never fails: when signing is impossible the stored URL comes
// back with the error attached.
func (s *Signer) SignedURL(ctx context.Context, storageURL string, ttl time.Duration) media.BestEffort[string] {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	r := media.Try(storageURL, func() (string, error) {
		key, err := s.presigner.KeyFromURL(storageURL)
		if err != nil {
			return "", err
		}
		return s.presigner.PresignGet(ctx, key, ttl)
	})
	if r.FellBack() {
		log.Warnf("signing %s failed, serving it unsigned: %v", storageURL, r.Err)
	}
	return r
}
