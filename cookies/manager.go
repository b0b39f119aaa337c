package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vrschool-media/notify"
)

var ErrRefreshFailed = errors.New("cookie refresh failed")

// Prober checks whether a cookie file still grants access to url.
type Prober interface {
	Probe(ctx context.Context, cookiePath, url string) error
}

// Browser performs an interactive sign-in and returns the session cookies.
type Browser interface {
	Login(ctx context.Context, email, password string) ([]Cookie, error)
}

type Options struct {
	Path          string
	RefreshAfter  time.Duration
	MaxAge        time.Duration
	LockTimeout   time.Duration
	StaleLockAge  time.Duration
	ProbeURL      string
	LoginEmail    string
	LoginPassword string
}

type meta struct {
	LastUpdated time.Time `json:"lastUpdated"`
	CookieCount int       `json:"cookieCount"`
}

type Status struct {
	Path         string     `json:"path"`
	Exists       bool       `json:"exists"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	CookieCount  int        `json:"cookieCount"`
	AgeHours     float64    `json:"ageHours"`
	NeedsRefresh bool       `json:"needsRefresh"`
	Expired      bool       `json:"expired"`
}

// Manager keeps the extraction tool's cookie file fresh.
type Manager struct {
	opts     Options
	prober   Prober
	browser  Browser
	notifier notify.Notifier
	now      func() time.Time
}

func NewManager(opts Options, prober Prober, browser Browser, notifier notify.Notifier) *Manager {
	return &Manager{
		opts:     opts,
		prober:   prober,
		browser:  browser,
		notifier: notifier,
		now:      time.Now,
	}
}

func (m *Manager) Path() string {
	return m.opts.Path
}

// cookies.txt -> cookies.meta.json
func (m *Manager) metaPath() string {
	base := strings.TrimSuffix(m.opts.Path, filepath.Ext(m.opts.Path))
	return base + ".meta.json"
}

func (m *Manager) lockPath() string {
	return m.opts.Path + ".lock"
}

func (m *Manager) readMeta() (meta, error) {
	var md meta
	data, err := os.ReadFile(m.metaPath())
	if err != nil {
		return md, err
	}
	err = json.Unmarshal(data, &md)
	return md, err
}

// NeedsRefresh is true when the meta file is missing or unreadable, or the
// cookies are older than RefreshAfter.
func (m *Manager) NeedsRefresh() bool {
	md, err := m.readMeta()
	if err != nil {
		return true
	}
	return m.now().Sub(md.LastUpdated) > m.opts.RefreshAfter
}

// TestCredential probes a known video with the current cookie file.
func (m *Manager) TestCredential(ctx context.Context) error {
	if _, err := os.Stat(m.opts.Path); err != nil {
		return fmt.Errorf("cookie file: %w", err)
	}
	return m.prober.Probe(ctx, m.opts.Path, m.opts.ProbeURL)
}

func (m *Manager) healthy(ctx context.Context) bool {
	if m.NeedsRefresh() {
		return false
	}
	if err := m.TestCredential(ctx); err != nil {
		log.Warnf("cookie probe failed: %v", err)
		return false
	}
	return true
}

// EnsureFresh refreshes the cookies through the browser when they are stale,
// fail the probe, or force is set.
func (m *Manager) EnsureFresh(ctx context.Context, force bool) error {
	if !force && m.healthy(ctx) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.opts.Path), 0755); err != nil {
		return err
	}
	started := m.now()
	lock := NewFileLock(m.lockPath(), m.opts.LockTimeout, m.opts.StaleLockAge)
	if err := lock.Acquire(ctx); err != nil {
		m.alert(ctx, err)
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Errorf("release cookie lock: %v", err)
		}
	}()

	if md, err := m.readMeta(); err == nil && md.LastUpdated.After(started) {
		log.Infoln("cookies were refreshed by another process")
		return nil
	}
	if !force && m.healthy(ctx) {
		return nil
	}

	if err := m.refresh(ctx); err != nil {
		m.alert(ctx, err)
		return err
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context) error {
	if m.opts.LoginEmail == "" || m.opts.LoginPassword == "" {
		return fmt.Errorf("%w: no login credentials configured", ErrRefreshFailed)
	}
	if m.browser == nil {
		return fmt.Errorf("%w: no browser available", ErrRefreshFailed)
	}

	log.Infoln("refreshing cookies through browser login")
	cookies, err := m.browser.Login(ctx, m.opts.LoginEmail, m.opts.LoginPassword)
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if len(cookies) == 0 {
		return fmt.Errorf("%w: login returned no cookies", ErrRefreshFailed)
	}
	if err := m.write(Serialize(cookies), len(cookies)); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	log.Infof("wrote %d cookies to %s", len(cookies), m.opts.Path)
	return nil
}

// Replace installs a cookie file supplied by an operator.
func (m *Manager) Replace(content []byte) (int, error) {
	cookies, err := Parse(content)
	if err != nil {
		return 0, fmt.Errorf("invalid cookie file: %w", err)
	}
	if err := m.write(content, len(cookies)); err != nil {
		return 0, err
	}
	log.Infof("cookie file replaced manually (%d cookies)", len(cookies))
	return len(cookies), nil
}

func (m *Manager) write(content []byte, count int) error {
	if err := os.MkdirAll(filepath.Dir(m.opts.Path), 0755); err != nil {
		return err
	}
	if err := writeAtomic(m.opts.Path, content, 0600); err != nil {
		return err
	}
	data, err := json.Marshal(meta{LastUpdated: m.now(), CookieCount: count})
	if err != nil {
		return err
	}
	return writeAtomic(m.metaPath(), data, 0644)
}

func (m *Manager) Status() Status {
	st := Status{Path: m.opts.Path, NeedsRefresh: m.NeedsRefresh()}
	if _, err := os.Stat(m.opts.Path); err == nil {
		st.Exists = true
	}
	if md, err := m.readMeta(); err == nil {
		updated := md.LastUpdated
		st.LastUpdated = &updated
		st.CookieCount = md.CookieCount
		age := m.now().Sub(updated)
		st.AgeHours = age.Hours()
		st.Expired = m.opts.MaxAge > 0 && age > m.opts.MaxAge
	}
	return st
}

func (m *Manager) alert(ctx context.Context, cause error) {
	if m.notifier == nil {
		return
	}
	err := m.notifier.Notify(ctx, notify.Alert{
		Kind:    notify.KindCookieRefresh,
		Subject: "cookie refresh failed",
		Body: fmt.Sprintf("Refreshing %s failed: %v\n\n"+
			"Downloads that need a signed-in session will fail until cookies are replaced. "+
			"Upload a fresh cookies.txt at /admin/cookies/form.", m.opts.Path, cause),
	})
	if err != nil {
		log.Errorf("notify: %v", err)
	}
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
