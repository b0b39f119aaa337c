package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	maxCookieFile = 1 << 20 // bytes
	probeTimeout  = 45 * time.Second
)

func (h *Handlers) probe(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()
	return h.Cookies.TestCredential(ctx)
}

// CookieHealth reports {status, needsRefresh, cookiesWork}. The body is the
// same either way, but the status code is 503 when the cookies no longer work
// so the route can back a container health check.
func (h *Handlers) CookieHealth(c echo.Context) error {
	works := h.probe(c) == nil
	status, code := "healthy", http.StatusOK
	if !works {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"status":       status,
		"needsRefresh": h.Cookies.NeedsRefresh(),
		"cookiesWork":  works,
	})
}

func (h *Handlers) CookieRefresh(c echo.Context) error {
	if err := h.Cookies.EnsureFresh(c.Request().Context(), true); err != nil {
		log.Errorf("forced cookie refresh: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) CookieStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Cookies.Status())
}

func (h *Handlers) CookieTest(c echo.Context) error {
	if err := h.probe(c); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
}

// replace installs content as the new cookie file and reports the result as
// JSON.
func (h *Handlers) replace(c echo.Context, content []byte) error {
	n, err := h.Cookies.Replace(content)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	}
	log.Infof("cookie file replaced by operator (%d cookies)", n)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"cookieCount": n,
	})
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxCookieFile+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxCookieFile {
		return nil, fmt.Errorf("cookie file larger than %d bytes", maxCookieFile)
	}
	return data, nil
}

func (h *Handlers) CookiePut(c echo.Context) error {
	data, err := readLimited(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}
	return h.replace(c, data)
}

func (h *Handlers) CookieUpload(c echo.Context) error {
	fh, err := c.FormFile("cookies")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("missing form file \"cookies\""))
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}
	defer f.Close()
	data, err := readLimited(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}
	return h.replace(c, data)
}

func (h *Handlers) cookieForm(c echo.Context, code int, message, errMsg string) error {
	return c.Render(code, "cookies.html", map[string]interface{}{
		"Status":  h.Cookies.Status(),
		"Message": message,
		"Error":   errMsg,
		"Footer":  MakeFooter(),
	})
}

func (h *Handlers) CookieFormGet(c echo.Context) error {
	return h.cookieForm(c, http.StatusOK, "", "")
}

func (h *Handlers) CookieFormPost(c echo.Context) error {
	text := c.FormValue("cookies")
	if len(text) > maxCookieFile {
		return h.cookieForm(c, http.StatusBadRequest, "", "cookie file too large")
	}
	n, err := h.Cookies.Replace([]byte(strings.ReplaceAll(text, "\r\n", "\n")))
	if err != nil {
		return h.cookieForm(c, http.StatusBadRequest, "", err.Error())
	}
	log.Infof("cookie file replaced from form (%d cookies)", n)
	return h.cookieForm(c, http.StatusOK, fmt.Sprintf("Saved %d cookies", n), "")
}
