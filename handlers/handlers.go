package handlers

import (
	"context"
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"vrschool-media/content"
	"vrschool-media/cookies"
	"vrschool-media/jobs"
	"vrschool-media/media"
	"vrschool-media/proxy"
)

//go:embed templates/*.html
var templateFS embed.FS

type Queue interface {
	Enqueue(contentID string) (jobs.Job, bool)
	Status() jobs.Snapshot
}

type Retrier interface {
	Retry(ctx context.Context, contentID string) (*content.Content, error)
}

type Signer interface {
	SignedURL(ctx context.Context, storageURL string, ttl time.Duration) media.BestEffort[string]
}

type Resolver interface {
	ResolveDirectURL(ctx context.Context, url string) (string, error)
	Version(ctx context.Context) (string, error)
}

type CookieManager interface {
	Status() cookies.Status
	NeedsRefresh() bool
	TestCredential(ctx context.Context) error
	EnsureFresh(ctx context.Context, force bool) error
	Replace(content []byte) (int, error)
}

// Handlers holds what the HTTP surface needs. Optional parts may be nil.
type Handlers struct {
	Contents     content.Store
	Queue        Queue
	Pipeline     Retrier
	Signer       Signer
	SignedURLTTL time.Duration
	Resolver     Resolver
	Cookies      CookieManager
	Proxy        *proxy.Proxy
	Admin        *AdminAuth
	BaseURL      string
	ScratchDir   string
}

// Register mounts every route on e.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/queue-status", h.QueueStatus)
	e.GET("/download-status/:contentId", h.DownloadStatus)
	e.GET("/proxy/stream", h.Proxy.Stream)
	e.GET("/resolve", h.Resolve)
	e.GET("/cookie-health", h.CookieHealth) // 200 healthy, 503 unhealthy
	e.POST("/cookie-refresh", h.CookieRefresh, h.Admin.Middleware)
	e.GET("/status", h.StatusGet)

	e.POST("/contents", h.ContentCreate)
	e.GET("/contents/:id", h.ContentGet)
	e.POST("/contents/:id/retry", h.ContentRetry)

	e.GET("/admin/login", h.Admin.LoginGet)
	e.POST("/admin/login", h.Admin.LoginPost)
	e.GET("/admin/logout", h.Admin.Logout)

	admin := e.Group("/admin/cookies", h.Admin.Middleware)
	admin.GET("/status", h.CookieStatus)
	admin.POST("/test", h.CookieTest)
	admin.PUT("", h.CookiePut)
	admin.POST("/upload", h.CookieUpload)
	admin.GET("/form", h.CookieFormGet)
	admin.POST("/form", h.CookieFormPost)
}

// Template renderer
type Template struct {
	templates *template.Template
}

func NewTemplate() *Template {
	return &Template{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func errorJSON(msg string) map[string]string {
	return map[string]string{"error": msg}
}
