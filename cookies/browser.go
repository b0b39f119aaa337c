package cookies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	signInURL = "https://accounts.google.com/ServiceLogin?service=youtube&continue=https%3A%2F%2Fwww.youtube.com%2F"
	siteURL   = "https://www.youtube.com/"

	chromeUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// ChromeLogin signs in with a headless Chrome and collects the site cookies.
type ChromeLogin struct {
	ExecPath string
	Timeout  time.Duration
}

func (c *ChromeLogin) Login(ctx context.Context, email, password string) ([]Cookie, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.UserAgent(chromeUserAgent),
		chromedp.WindowSize(1280, 900),
	)
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Debugf))
	defer cancelBrowser()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		browserCtx, cancel = context.WithTimeout(browserCtx, c.Timeout)
		defer cancel()
	}

	var location string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(signInURL),
		chromedp.WaitVisible(`input[type="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="email"]`, email, chromedp.ByQuery),
		chromedp.Click(`#identifierNext`, chromedp.ByQuery),
		chromedp.WaitVisible(`input[type="password"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`#passwordNext`, chromedp.ByQuery),
		chromedp.Sleep(5*time.Second),
		chromedp.Location(&location),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: sign-in: %v", ErrRefreshFailed, err)
	}
	if IsChallengeURL(location) {
		return nil, fmt.Errorf("%w: account verification required (%s)", ErrRefreshFailed, location)
	}

	var captured []*network.Cookie
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(siteURL),
		chromedp.Sleep(3*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			captured, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: capture cookies: %v", ErrRefreshFailed, err)
	}
	log.Infof("captured %d cookies", len(captured))
	return fromNetwork(captured), nil
}

// IsChallengeURL reports whether the sign-in flow stopped at a verification
// or rejection page.
func IsChallengeURL(u string) bool {
	for _, marker := range []string{"/challenge/", "/signin/rejected", "deniedsigninrejected", "/speedbump/"} {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}

func fromNetwork(in []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(in))
	for _, c := range in {
		var expires int64
		if !c.Session && c.Expires > 0 {
			expires = int64(c.Expires)
		}
		out = append(out, Cookie{
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
			Name:     c.Name,
			Value:    c.Value,
		})
	}
	return out
}
