package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"vrschool-media/content"
	"vrschool-media/identities"
	"vrschool-media/media"
	"vrschool-media/notify"
	"vrschool-media/ytdlp"
)

type Downloader interface {
	Download(ctx context.Context, req ytdlp.Request) (ytdlp.Strategy, error)
}

type MetadataFetcher interface {
	Metadata(ctx context.Context, url string) (media.Metadata, error)
}

type CredentialKeeper interface {
	EnsureFresh(ctx context.Context, force bool) error
	Path() string
}

type Uploader interface {
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)
}

type FormatProber func(ctx context.Context, path string) (media.Format, error)

type Deps struct {
	Identities identities.Store
	Contents   content.Store
	Downloader Downloader
	Metadata   MetadataFetcher
	Cookies    CredentialKeeper // optional
	Uploader   Uploader
	Probe      FormatProber
	Notifier   notify.Notifier // optional
}

type Options struct {
	ScratchDir string
	// how long to wait on another worker's download before taking it over
	InFlightWait time.Duration
	// an in-flight download older than this is assumed dead
	InFlightStaleAfter time.Duration
	PollInterval       time.Duration
	AuthAlertThreshold int
}

// Service acquires the video behind a content item exactly once per external
// video and publishes it to object storage.
type Service struct {
	Deps
	opts Options

	authFailures int32
}

func New(deps Deps, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.AuthAlertThreshold <= 0 {
		opts.AuthAlertThreshold = 3
	}
	return &Service{Deps: deps, opts: opts}
}

// Process is the job handler for one content item.
func (s *Service) Process(ctx context.Context, contentID string) error {
	c, err := s.Contents.Get(ctx, contentID)
	if err != nil {
		return err
	}
	if c.Media.Status == media.Completed && c.Media.DownloadedURL != "" {
		log.Infof("%s already completed", contentID)
		return nil
	}

	ident, err := s.Identities.FindOrCreate(ctx, c.Media.SourceURL)
	if err != nil {
		if errors.Is(err, identities.ErrInvalidSourceURL) {
			s.markContentFailed(ctx, contentID, err.Error())
		}
		return err
	}
	if err := s.Contents.LinkIdentity(ctx, contentID, ident.ExternalID); err != nil {
		return err
	}

	ident, cached, err := s.acquire(ctx, contentID, ident)
	if err != nil {
		return err
	}
	if cached {
		return s.finishCached(ctx, contentID, ident)
	}
	return s.download(ctx, contentID, ident)
}

// acquire leaves ident either completed (cached=true) or claimed by this
// worker in downloading.
func (s *Service) acquire(ctx context.Context, contentID string, ident *identities.Identity) (*identities.Identity, bool, error) {
	deadline := time.Now().Add(s.opts.InFlightWait)
	for {
		switch ident.Status {
		case media.Completed:
			return ident, true, nil

		case media.Failed:
			log.Infof("%s: retrying failed download (%s)", ident.ExternalID, ident.Error)
			if err := s.Identities.ResetForRetry(ctx, ident); err != nil && !errors.Is(err, identities.ErrInvalidTransition) {
				return nil, false, err
			}

		case media.Pending:
			err := s.Identities.MarkDownloading(ctx, ident)
			if err == nil {
				return ident, false, nil
			}
			if !errors.Is(err, identities.ErrInvalidTransition) {
				return nil, false, err
			}
			log.Debugf("%s: lost claim race", ident.ExternalID)

		case media.Downloading, media.Uploading:
			if s.abandoned(ident) || !time.Now().Before(deadline) {
				log.Warnf("%s: taking over in-flight download started %v", ident.ExternalID, ident.DownloadStartedAt)
				err := s.Identities.MarkFailed(ctx, ident, errors.New("abandoned while in flight"))
				if err != nil && !errors.Is(err, identities.ErrInvalidTransition) {
					return nil, false, err
				}
				break
			}
			s.mirror(ctx, contentID, ident.Status, ident.Progress)
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(s.opts.PollInterval):
			}

		default:
			return nil, false, fmt.Errorf("%s: unknown status %q", ident.ExternalID, ident.Status)
		}

		fresh, err := s.Identities.Get(ctx, ident.ExternalID)
		if err != nil {
			return nil, false, err
		}
		ident = fresh
	}
}

func (s *Service) abandoned(ident *identities.Identity) bool {
	if s.opts.InFlightStaleAfter <= 0 {
		return false
	}
	started := ident.UpdatedAt
	if ident.DownloadStartedAt != nil {
		started = *ident.DownloadStartedAt
	}
	return time.Since(started) > s.opts.InFlightStaleAfter
}

func (s *Service) finishCached(ctx context.Context, contentID string, ident *identities.Identity) error {
	log.Infof("%s: cache hit for %s", contentID, ident.ExternalID)
	if err := s.Identities.IncrementUsage(ctx, ident); err != nil {
		log.Errorf("%s: increment usage: %v", ident.ExternalID, err)
	}
	return s.Contents.MarkCompleted(ctx, contentID, ident.StorageURL)
}

func (s *Service) download(ctx context.Context, contentID string, ident *identities.Identity) error {
	sourceURL := identities.CanonicalURL(ident)
	s.mirror(ctx, contentID, media.Downloading, 0)

	md := media.Try(media.Metadata{}, func() (media.Metadata, error) {
		return s.Metadata.Metadata(ctx, sourceURL)
	})
	if md.FellBack() {
		log.Warnf("%s: metadata unavailable: %v", ident.ExternalID, md.Err)
	} else if err := s.Identities.SetMetadata(ctx, ident, md.Value); err != nil {
		log.Errorf("%s: store metadata: %v", ident.ExternalID, err)
	}

	cookiePath := ""
	if s.Cookies != nil {
		if err := s.Cookies.EnsureFresh(ctx, false); err != nil {
			log.Warnf("cookies may be stale: %v", err)
		}
		cookiePath = s.Cookies.Path()
	}

	scratch := ScratchPath(s.opts.ScratchDir, contentID, ident.ExternalID)
	if err := os.MkdirAll(filepath.Dir(scratch), 0755); err != nil {
		s.fail(ctx, contentID, ident, err)
		return err
	}

	if reusable(scratch) {
		log.Infof("%s: reusing %s from an earlier attempt", ident.ExternalID, scratch)
	} else {
		report := s.progressReporter(ctx, contentID, ident)
		strategy, err := s.Downloader.Download(ctx, ytdlp.Request{
			URL:        sourceURL,
			OutputPath: scratch,
			CookiePath: cookiePath,
			Progress:   report,
		})
		if err != nil {
			removePartials(scratch)
			s.fail(ctx, contentID, ident, err)
			s.countAuthFailure(ctx, err)
			return err
		}
		atomic.StoreInt32(&s.authFailures, 0)
		log.Infof("%s: downloaded with %s", ident.ExternalID, strategy.Name)
	}

	format := s.probe(ctx, scratch)

	if err := s.Identities.MarkUploading(ctx, ident); err != nil {
		return s.lost(ctx, contentID, ident, err)
	}
	s.mirror(ctx, contentID, media.Uploading, ident.Progress)

	key := ObjectKey(ident.ExternalID)
	storageURL, err := s.Uploader.Upload(ctx, scratch, key, "video/mp4")
	if err != nil {
		s.fail(ctx, contentID, ident, err)
		return err
	}

	if err := s.Identities.MarkCompleted(ctx, ident, storageURL, key, format); err != nil {
		return s.lost(ctx, contentID, ident, err)
	}
	if err := s.Identities.IncrementUsage(ctx, ident); err != nil {
		log.Errorf("%s: increment usage: %v", ident.ExternalID, err)
	}
	if err := s.Contents.MarkCompleted(ctx, contentID, storageURL); err != nil {
		s.markContentFailed(ctx, contentID, err.Error())
		return err
	}
	log.Infof("%s: %s available at %s", contentID, ident.ExternalID, storageURL)
	return nil
}

// lost settles the content item after this worker could not move the
// identity forward. If another worker has since completed the identity the
// content takes its result, otherwise the content fails and can be retried.
func (s *Service) lost(ctx context.Context, contentID string, ident *identities.Identity, cause error) error {
	if errors.Is(cause, identities.ErrInvalidTransition) {
		fresh, err := s.Identities.Get(ctx, ident.ExternalID)
		if err == nil && fresh.Status == media.Completed {
			log.Infof("%s: %s was completed by another worker", contentID, ident.ExternalID)
			return s.finishCached(ctx, contentID, fresh)
		}
		if err == nil {
			log.Warnf("%s: %s was taken over (now %s)", contentID, ident.ExternalID, fresh.Status)
		}
	}
	log.Errorf("%s: %s failed: %v", contentID, ident.ExternalID, cause)
	s.markContentFailed(ctx, contentID, cause.Error())
	return cause
}

func (s *Service) probe(ctx context.Context, path string) media.Format {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	r := media.Try(media.DefaultFormat(size), func() (media.Format, error) {
		if s.Probe == nil {
			return media.Format{}, errors.New("no prober")
		}
		return s.Probe(ctx, path)
	})
	if r.FellBack() {
		log.Warnf("probe %s: %v", path, r.Err)
	}
	f := r.Value
	if f.Size == 0 {
		f.Size = size
	}
	return f
}

// progressReporter writes progress in steps of at least 5%. A value below
// the last one means a new strategy attempt started over, and is written
// straight away.
func (s *Service) progressReporter(ctx context.Context, contentID string, ident *identities.Identity) func(int) {
	last := 0
	return func(p int) {
		if p >= last && p < last+5 && p < 100 {
			return
		}
		last = p
		if err := s.Identities.SetProgress(ctx, ident, p); err != nil {
			log.Debugf("%s: progress: %v", ident.ExternalID, err)
		}
		s.mirror(ctx, contentID, media.Downloading, p)
	}
}

func (s *Service) mirror(ctx context.Context, contentID string, status media.Status, progress int) {
	if err := s.Contents.SetProgress(ctx, contentID, status, progress); err != nil {
		log.Errorf("%s: update content: %v", contentID, err)
	}
}

func (s *Service) fail(ctx context.Context, contentID string, ident *identities.Identity, cause error) {
	log.Errorf("%s: %s failed: %v", contentID, ident.ExternalID, cause)
	if err := s.Identities.MarkFailed(ctx, ident, cause); err != nil {
		log.Errorf("%s: mark failed: %v", ident.ExternalID, err)
	}
	s.markContentFailed(ctx, contentID, cause.Error())
}

func (s *Service) markContentFailed(ctx context.Context, contentID, msg string) {
	if err := s.Contents.MarkFailed(ctx, contentID, msg); err != nil {
		log.Errorf("%s: mark content failed: %v", contentID, err)
	}
}

var authMarkers = []string{
	"sign in to confirm",
	"not a bot",
	"login required",
	"use --cookies",
	"cookies are no longer valid",
	"http error 403",
}

// IsAuthError reports whether an extraction error looks like the site
// refusing an anonymous or expired session.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (s *Service) countAuthFailure(ctx context.Context, err error) {
	if !IsAuthError(err) {
		atomic.StoreInt32(&s.authFailures, 0)
		return
	}
	n := atomic.AddInt32(&s.authFailures, 1)
	log.Warnf("%d consecutive authentication failures", n)
	if int(n) < s.opts.AuthAlertThreshold || s.Notifier == nil {
		return
	}
	nerr := s.Notifier.Notify(ctx, notify.Alert{
		Kind:    notify.KindAuthFailures,
		Subject: "downloads are being refused",
		Body: fmt.Sprintf("%d downloads in a row failed with authentication errors.\n\nLast error: %v\n\n"+
			"Check the cookie status at /admin/cookies/status and upload fresh cookies if needed.", n, err),
	})
	if nerr != nil {
		log.Errorf("notify: %v", nerr)
	}
}

// Recover runs once at startup: downloads that were in flight when the
// process died are failed, and unfinished content is queued again.
func (s *Service) Recover(ctx context.Context, enqueue func(contentID string)) (int, error) {
	stuck, err := s.Identities.ListByStatus(ctx, media.Downloading, media.Uploading)
	if err != nil {
		return 0, err
	}
	for i := range stuck {
		ident := &stuck[i]
		log.Warnf("%s was %s at shutdown, marking failed", ident.ExternalID, ident.Status)
		if err := s.Identities.MarkFailed(ctx, ident, errors.New("interrupted by restart")); err != nil {
			log.Errorf("%s: %v", ident.ExternalID, err)
		}
	}

	unfinished, err := s.Contents.ListByStatus(ctx, media.Pending, media.Downloading, media.Uploading)
	if err != nil {
		return 0, err
	}
	for _, c := range unfinished {
		enqueue(c.ID)
	}
	log.Infof("recovery: %d interrupted downloads, %d content items requeued", len(stuck), len(unfinished))
	return len(unfinished), nil
}

// Retry puts a failed content item back to pending. Anything else is left
// alone.
func (s *Service) Retry(ctx context.Context, contentID string) (*content.Content, error) {
	c, err := s.Contents.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if c.Media.Status != media.Failed {
		return c, nil
	}
	if err := s.Contents.ResetForRetry(ctx, contentID); err != nil {
		return nil, err
	}
	return s.Contents.Get(ctx, contentID)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitize(externalID string) string {
	return unsafeChars.ReplaceAllString(externalID, "_")
}

// ScratchPath is where a content item's download is written before upload.
func ScratchPath(dir, contentID, externalID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.mp4", contentID, sanitize(externalID)))
}

func ObjectKey(externalID string) string {
	return "videos/" + sanitize(externalID) + ".mp4"
}

func reusable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// removePartials deletes path and anything the tool left next to it.
func removePartials(path string) {
	matches, _ := filepath.Glob(path + "*")
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("remove %s: %v", m, err)
		}
	}
}

// StaleAfter returns configured, raised when needed so that a download is
// not declared abandoned while its strategy chain can still be running.
func StaleAfter(configured time.Duration, strategies int, attemptTimeout time.Duration) time.Duration {
	// headroom for probing, muxing and uploading after the last attempt
	const margin = 30 * time.Minute
	worst := time.Duration(strategies)*attemptTimeout + margin
	if configured <= 0 || attemptTimeout <= 0 || configured >= worst {
		return configured
	}
	return worst
}

// CleanScratch removes scratch files older than maxAge.
func CleanScratch(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < maxAge {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			log.Warnf("remove %s: %v", p, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("removed %d stale scratch files from %s", removed, dir)
	}
	return removed, nil
}
