package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"vrschool-media/identities"
)

const resolveTimeout = 60 * time.Second

// Resolve asks the extraction tool for a direct media URL and offers the
// proxied form of it alongside.
func (h *Handlers) Resolve(c echo.Context) error {
	src := c.QueryParam("url")
	if src == "" {
		return c.JSON(http.StatusBadRequest, errorJSON("missing url parameter"))
	}
	if _, err := identities.ParseExternalID(src); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON(err.Error()))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), resolveTimeout)
	defer cancel()
	direct, err := h.Resolver.ResolveDirectURL(ctx, src)
	if err != nil {
		log.Errorf("resolve %s: %v", src, err)
		return c.JSON(http.StatusBadGateway, errorJSON("unable to resolve media url"))
	}
	return c.JSON(http.StatusOK, map[string]string{
		"directUrl": direct,
		"proxyUrl":  strings.TrimSuffix(h.BaseURL, "/") + "/proxy/stream?url=" + url.QueryEscape(direct),
	})
}
