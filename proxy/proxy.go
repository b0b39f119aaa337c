package proxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var ErrOverloaded = errors.New("too many active proxy connections")

const (
	spoofUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	spoofReferer   = "https://www.youtube.com/"
	spoofOrigin    = "https://www.youtube.com"
)

var copiedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
}

type Options struct {
	MaxConnections  int
	UpstreamTimeout time.Duration
	// host suffixes that may be proxied; empty allows any host
	AllowedHosts []string
}

// Proxy streams upstream media to clients that cannot fetch it directly,
// with a cap on simultaneous streams.
type Proxy struct {
	opts   Options
	client *http.Client
	active int64
}

func New(opts Options) *Proxy {
	if opts.MaxConnections < 1 {
		opts.MaxConnections = 1
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.UpstreamTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: opts.UpstreamTimeout,
		MaxIdleConnsPerHost:   opts.MaxConnections,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Proxy{
		opts:   opts,
		client: &http.Client{Transport: transport},
	}
}

// Active is the number of streams currently being served.
func (p *Proxy) Active() int {
	return int(atomic.LoadInt64(&p.active))
}

func (p *Proxy) Max() int {
	return p.opts.MaxConnections
}

// acquire reserves a slot; the returned func gives it back exactly once.
func (p *Proxy) acquire() (func(), error) {
	for {
		n := atomic.LoadInt64(&p.active)
		if n >= int64(p.opts.MaxConnections) {
			return nil, ErrOverloaded
		}
		if atomic.CompareAndSwapInt64(&p.active, n, n+1) {
			break
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() { atomic.AddInt64(&p.active, -1) })
	}, nil
}

func (p *Proxy) allowed(u *url.URL) bool {
	if len(p.opts.AllowedHosts) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.opts.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// validate returns a parsed target URL or a client-facing reason.
func (p *Proxy) validate(raw string) (*url.URL, string) {
	if raw == "" {
		return nil, "url query parameter is required"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, "url is not valid"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "url must be http or https"
	}
	if !p.allowed(u) {
		return nil, "host is not allowed"
	}
	return u, ""
}

// Stream handles GET /proxy/stream?url=...
func (p *Proxy) Stream(c echo.Context) error {
	raw := c.QueryParam("url")
	target, reason := p.validate(raw)
	if target == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": reason})
	}

	release, err := p.acquire()
	if err != nil {
		log.Warnf("rejecting stream, %d/%d active", p.Active(), p.opts.MaxConnections)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":     err.Error(),
			"hint":      "retry shortly or play the direct url",
			"directUrl": raw,
		})
	}
	defer release()

	req := c.Request()
	upReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if r := req.Header.Get("Range"); r != "" {
		upReq.Header.Set("Range", r)
	}
	upReq.Header.Set("User-Agent", spoofUserAgent)
	upReq.Header.Set("Referer", spoofReferer)
	upReq.Header.Set("Origin", spoofOrigin)

	resp, err := p.client.Do(upReq)
	if err != nil {
		log.Errorf("upstream %s: %v", target.Host, err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
	}
	defer resp.Body.Close()

	h := c.Response().Header()
	for _, k := range copiedHeaders {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	n, err := io.Copy(c.Response(), resp.Body)
	if err != nil && req.Context().Err() == nil {
		log.Warnf("stream from %s ended after %d bytes: %v", target.Host, n, err)
	} else {
		log.Debugf("streamed %d bytes from %s", n, target.Host)
	}
	return nil
}
