package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrExtractionFailed = errors.New("all extraction strategies failed")

type Request struct {
	URL        string
	OutputPath string
	CookiePath string
	// Progress receives 0-100 while the download runs. May be nil.
	Progress func(int)
}

// Attempter runs a single strategy.
type Attempter interface {
	Attempt(ctx context.Context, s Strategy, req Request) error
}

// Chain tries strategies in order until one produces a non-empty file.
type Chain struct {
	attempter  Attempter
	strategies []Strategy
	timeout    time.Duration
}

func NewChain(a Attempter, strategies []Strategy, attemptTimeout time.Duration) *Chain {
	return &Chain{attempter: a, strategies: strategies, timeout: attemptTimeout}
}

func (c *Chain) Strategies() []Strategy {
	return c.strategies
}

// Download returns the strategy that succeeded.
func (c *Chain) Download(ctx context.Context, req Request) (Strategy, error) {
	var lastErr error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Strategy{}, err
		}
		err := c.attempt(ctx, s, req)
		if err == nil {
			log.Infof("%s: downloaded with strategy %s", req.URL, s.Name)
			return s, nil
		}
		log.Warnf("%s: strategy %s failed: %v", req.URL, s.Name, err)
		lastErr = err
		os.Remove(req.OutputPath)
	}
	if lastErr == nil {
		return Strategy{}, fmt.Errorf("%w: no strategies configured", ErrExtractionFailed)
	}
	return Strategy{}, fmt.Errorf("%w: %v", ErrExtractionFailed, lastErr)
}

func (c *Chain) attempt(ctx context.Context, s Strategy, req Request) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.attempter.Attempt(ctx, s, req); err != nil {
		return err
	}
	fi, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("no output file: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("output file %s is empty", req.OutputPath)
	}
	return nil
}
