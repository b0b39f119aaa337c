package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrschool-media/content"
	"vrschool-media/cookies"
	"vrschool-media/database/dbtest"
	"vrschool-media/jobs"
	"vrschool-media/media"
	"vrschool-media/pipeline"
	"vrschool-media/proxy"
)

const adminSecret = "correct horse battery staple"

type fakeQueue struct {
	enqueued []string
}

func (q *fakeQueue) Enqueue(contentID string) (jobs.Job, bool) {
	q.enqueued = append(q.enqueued, contentID)
	return jobs.Job{ContentID: contentID, Status: jobs.Queued, QueuedAt: time.Now()}, true
}

func (q *fakeQueue) Status() jobs.Snapshot {
	return jobs.Snapshot{Queued: len(q.enqueued), MaxConcurrent: 2}
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(ctx context.Context, storageURL string, ttl time.Duration) media.BestEffort[string] {
	return media.BestEffort[string]{Value: storageURL + "?X-Amz-Signature=abc"}
}

type fakeResolver struct {
	direct string
	err    error
}

func (r fakeResolver) ResolveDirectURL(ctx context.Context, url string) (string, error) {
	return r.direct, r.err
}

func (r fakeResolver) Version(ctx context.Context) (string, error) {
	return "2024.08.06", nil
}

type fakeCookies struct {
	probeErr   error
	refreshErr error
	replaced   []byte
	refreshes  int
}

func (f *fakeCookies) Status() cookies.Status {
	return cookies.Status{Path: "/data/config/cookies.txt", Exists: true, CookieCount: 2}
}

func (f *fakeCookies) NeedsRefresh() bool { return false }

func (f *fakeCookies) TestCredential(ctx context.Context) error { return f.probeErr }

func (f *fakeCookies) EnsureFresh(ctx context.Context, force bool) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeCookies) Replace(data []byte) (int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, cookies.ErrNoCookies
	}
	f.replaced = data
	return 2, nil
}

type fixture struct {
	e        *echo.Echo
	contents *content.GormStore
	queue    *fakeQueue
	cookies  *fakeCookies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := content.NewGormStore(dbtest.SQLite(t))
	require.NoError(t, store.Migrate())

	admin, err := NewAdminAuth(adminSecret, "", []byte("0123456789abcdef0123456789abcdef"), false)
	require.NoError(t, err)

	f := &fixture{
		e:        echo.New(),
		contents: store,
		queue:    &fakeQueue{},
		cookies:  &fakeCookies{},
	}
	h := &Handlers{
		Contents:     store,
		Queue:        f.queue,
		Pipeline:     pipeline.New(pipeline.Deps{Contents: store}, pipeline.Options{}),
		Signer:       fakeSigner{},
		SignedURLTTL: time.Hour,
		Resolver:     fakeResolver{direct: "https://rr1.googlevideo.com/videoplayback?id=1"},
		Cookies:      f.cookies,
		Proxy:        proxy.New(proxy.Options{MaxConnections: 2}),
		Admin:        admin,
		BaseURL:      "https://media.example.org/",
		ScratchDir:   t.TempDir(),
	}
	f.e.Renderer = NewTemplate()
	f.e.Validator = NewValidator()
	h.Register(f.e)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return f.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	rec := f.postJSON("/contents", map[string]interface{}{
		"title":     "Great Barrier Reef",
		"sourceUrl": "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func TestContentCreate(t *testing.T) {
	f := newFixture(t)

	rec := f.postJSON("/contents", map[string]interface{}{
		"title":     "Great Barrier Reef",
		"schoolId":  "school-7",
		"sourceUrl": "https://youtu.be/dQw4w9WgXcQ",
		"startTime": 5,
		"endTime":   65,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	id := body["id"].(string)
	assert.Equal(t, []string{id}, f.queue.enqueued)

	got, err := f.contents.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, media.Pending, got.Media.Status)
	assert.Equal(t, "school-7", got.SchoolID)
	require.NotNil(t, got.Media.EndTime)
	assert.Equal(t, 65.0, *got.Media.EndTime)
}

func TestContentCreateRejects(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"missing title": {"sourceUrl": "https://youtu.be/dQw4w9WgXcQ"},
		"not a url":     {"title": "x", "sourceUrl": "reef video"},
		"no video id":   {"title": "x", "sourceUrl": "https://example.com/page"},
		"bad trim":      {"title": "x", "sourceUrl": "https://youtu.be/dQw4w9WgXcQ", "startTime": 30, "endTime": 10},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.postJSON("/contents", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
			assert.Empty(t, f.queue.enqueued)
		})
	}
}

func TestContentGetSignsCompleted(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/contents/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["playbackUrl"])

	stored := "http://minio:9000/vrschool-media/videos/dQw4w9WgXcQ.mp4"
	require.NoError(t, f.contents.MarkCompleted(context.Background(), id, stored))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/contents/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, stored+"?X-Amz-Signature=abc", body["playbackUrl"])
	assert.Equal(t, "completed", body["media"].(map[string]interface{})["downloadStatus"])
}

func TestContentNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/contents/nope", "/download-status/nope"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := f.do(httptest.NewRequest(http.MethodPost, "/contents/nope/retry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadStatus(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	require.NoError(t, f.contents.SetProgress(context.Background(), id, media.Downloading, 40))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/download-status/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, id, body["contentId"])
	assert.Equal(t, "downloading", body["downloadStatus"])
	assert.Equal(t, 40.0, body["progress"])
	assert.Nil(t, body["playbackUrl"])
}

func TestContentRetry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	require.NoError(t, f.contents.MarkFailed(context.Background(), id, "all strategies failed"))

	rec := f.do(httptest.NewRequest(http.MethodPost, "/contents/"+id+"/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{id, id}, f.queue.enqueued)

	got, err := f.contents.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, media.Pending, got.Media.Status)
	assert.Empty(t, got.Media.Error)
}

func TestQueueStatus(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/queue-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["queued"])
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/resolve", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/resolve?url="+url.QueryEscape("https://youtu.be/dQw4w9WgXcQ"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	direct := "https://rr1.googlevideo.com/videoplayback?id=1"
	assert.Equal(t, direct, body["directUrl"])
	assert.Equal(t, "https://media.example.org/proxy/stream?url="+url.QueryEscape(direct), body["proxyUrl"])
}

func TestCookieHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/cookie-health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	f.cookies.probeErr = errors.New("Sign in to confirm you're not a bot")
	rec = f.do(httptest.NewRequest(http.MethodGet, "/cookie-health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, false, body["cookiesWork"])
}

func withSecret(req *http.Request) *http.Request {
	req.Header.Set(adminHeader, adminSecret)
	return req
}

func TestAdminRequiresSecret(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/cookies/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/cookies/form", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec = f.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/admin/cookies/status", nil)
	req.Header.Set(adminHeader, "guess")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(withSecret(httptest.NewRequest(http.MethodGet, "/admin/cookies/status", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/data/config/cookies.txt", decode(t, rec)["path"])
}

func TestAdminLoginSession(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"secret": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid secret")

	form = url.Values{"secret": {adminSecret}}
	req = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec = f.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	session := rec.Result().Cookies()
	require.NotEmpty(t, session)

	req = httptest.NewRequest(http.MethodGet, "/admin/cookies/form", nil)
	for _, c := range session {
		req.AddCookie(c)
	}
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/data/config/cookies.txt")
}

func TestCookieRefresh(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/cookie-refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.cookies.refreshes)

	rec = f.do(withSecret(httptest.NewRequest(http.MethodPost, "/cookie-refresh", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, 1, f.cookies.refreshes)

	f.cookies.refreshErr = cookies.ErrRefreshFailed
	rec = f.do(withSecret(httptest.NewRequest(http.MethodPost, "/cookie-refresh", nil)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

const cookieFile = "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t1767225600\tSID\t1\n"

func TestCookiePut(t *testing.T) {
	f := newFixture(t)

	rec := f.do(withSecret(httptest.NewRequest(http.MethodPut, "/admin/cookies", strings.NewReader(cookieFile))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, decode(t, rec)["cookieCount"])
	assert.Equal(t, cookieFile, string(f.cookies.replaced))

	rec = f.do(withSecret(httptest.NewRequest(http.MethodPut, "/admin/cookies", strings.NewReader(" "))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCookieUpload(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("cookies", "cookies.txt")
	require.NoError(t, err)
	part.Write([]byte(cookieFile))
	require.NoError(t, w.Close())

	req := withSecret(httptest.NewRequest(http.MethodPost, "/admin/cookies/upload", &buf))
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, cookieFile, string(f.cookies.replaced))

	req = withSecret(httptest.NewRequest(http.MethodPost, "/admin/cookies/upload", nil))
	rec = f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCookieFormPost(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"cookies": {strings.ReplaceAll(cookieFile, "\n", "\r\n")}}
	req := withSecret(httptest.NewRequest(http.MethodPost, "/admin/cookies/form", strings.NewReader(form.Encode())))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Saved 2 cookies")
	assert.Equal(t, cookieFile, string(f.cookies.replaced))
}

func TestStatusGet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "2024.08.06", body["ytdlp"])
	assert.Equal(t, 2.0, body["proxy"].(map[string]interface{})["max"])
	assert.NotEmpty(t, body["build"])
}

func TestMakeFooterShortSHA(t *testing.T) {
	footer := MakeFooter()
	assert.LessOrEqual(t, len(footer.BuildIdShort), len(footer.BuildId))
}
