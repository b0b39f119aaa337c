package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"vrschool-media/content"
	"vrschool-media/identities"
	"vrschool-media/media"
)

type contentRequest struct {
	Title       string   `json:"title" form:"title" validate:"required,max=200"`
	Description string   `json:"description" form:"description" validate:"max=5000"`
	SchoolID    string   `json:"schoolId" form:"schoolId" validate:"max=64"`
	SourceURL   string   `json:"sourceUrl" form:"sourceUrl" validate:"required,url"`
	StartTime   *float64 `json:"startTime" form:"startTime" validate:"omitempty,gte=0"`
	EndTime     *float64 `json:"endTime" form:"endTime" validate:"omitempty,gt=0"`
}

type downloadStatus struct {
	ContentID     string       `json:"contentId"`
	SourceURL     string       `json:"sourceUrl"`
	Status        media.Status `json:"downloadStatus"`
	DownloadedURL string       `json:"downloadedUrl,omitempty"`
	Progress      int          `json:"progress"`
	Error         string       `json:"error,omitempty"`
	PlaybackURL   string       `json:"playbackUrl,omitempty"`
}

type contentResponse struct {
	*content.Content
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

// playbackURL signs the stored object when the content is ready. It is empty
// otherwise.
func (h *Handlers) playbackURL(c echo.Context, ct *content.Content) string {
	if ct.Media.Status != media.Completed || ct.Media.DownloadedURL == "" || h.Signer == nil {
		return ""
	}
	signed := h.Signer.SignedURL(c.Request().Context(), ct.Media.DownloadedURL, h.SignedURLTTL)
	if signed.FellBack() {
		log.Warnf("%s: unsigned playback url: %v", ct.ID, signed.Err)
	}
	return signed.Value
}

// getContent writes the error response itself and returns a nil content when
// the lookup fails.
func (h *Handlers) getContent(c echo.Context, id string) (*content.Content, error) {
	ct, err := h.Contents.Get(c.Request().Context(), id)
	if errors.Is(err, content.ErrNotFound) {
		return nil, c.JSON(http.StatusNotFound, errorJSON("content not found"))
	} else if err != nil {
		log.Errorf("get content %s: %v", id, err)
		return nil, c.JSON(http.StatusInternalServerError, errorJSON("unable to load content"))
	}
	return ct, nil
}

func (h *Handlers) ContentCreate(c echo.Context) error {
	var req contentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("malformed request"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}
	if req.StartTime != nil && req.EndTime != nil && *req.EndTime <= *req.StartTime {
		return c.JSON(http.StatusBadRequest, errorJSON("endTime must be after startTime"))
	}
	if _, err := identities.ParseExternalID(req.SourceURL); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}

	ct := &content.Content{
		Title:       req.Title,
		Description: req.Description,
		SchoolID:    req.SchoolID,
		Media: content.MediaReference{
			SourceURL: req.SourceURL,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		},
	}
	if err := h.Contents.Create(c.Request().Context(), ct); err != nil {
		log.Errorf("create content: %v", err)
		return c.JSON(http.StatusInternalServerError, errorJSON("unable to create content"))
	}
	if _, added := h.Queue.Enqueue(ct.ID); added {
		log.Infof("queued %s (%s)", ct.ID, ct.Media.SourceURL)
	}
	return c.JSON(http.StatusCreated, contentResponse{Content: ct})
}

func (h *Handlers) ContentGet(c echo.Context) error {
	ct, err := h.getContent(c, c.Param("id"))
	if ct == nil {
		return err
	}
	return c.JSON(http.StatusOK, contentResponse{Content: ct, PlaybackURL: h.playbackURL(c, ct)})
}

func (h *Handlers) ContentRetry(c echo.Context) error {
	id := c.Param("id")
	if ct, err := h.getContent(c, id); ct == nil {
		return err
	}
	ct, err := h.Pipeline.Retry(c.Request().Context(), id)
	if err != nil {
		log.Errorf("retry %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, errorJSON("unable to retry content"))
	}
	if ct.Media.Status == media.Pending {
		h.Queue.Enqueue(ct.ID)
	}
	return c.JSON(http.StatusAccepted, contentResponse{Content: ct, PlaybackURL: h.playbackURL(c, ct)})
}

func (h *Handlers) DownloadStatus(c echo.Context) error {
	ct, err := h.getContent(c, c.Param("contentId"))
	if ct == nil {
		return err
	}
	return c.JSON(http.StatusOK, downloadStatus{
		ContentID:     ct.ID,
		SourceURL:     ct.Media.SourceURL,
		Status:        ct.Media.Status,
		DownloadedURL: ct.Media.DownloadedURL,
		Progress:      ct.Media.Progress,
		Error:         ct.Media.Error,
		PlaybackURL:   h.playbackURL(c, ct),
	})
}

func (h *Handlers) QueueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Queue.Status())
}
