package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminHeader  = "X-Admin-Secret"
	sessionName  = "vrschool-admin"
	sessionAdmin = "admin"
)

// AdminAuth guards operator endpoints with a shared secret, sent either as a
// header or exchanged for a session cookie on the login form.
type AdminAuth struct {
	hash  []byte
	store sessions.Store
}

// NewAdminAuth uses secretHash (bcrypt) when given, otherwise hashes secret.
// With neither, every admin request is refused.
func NewAdminAuth(secret, secretHash string, sessionKey []byte, secure bool) (*AdminAuth, error) {
	a := &AdminAuth{}
	switch {
	case secretHash != "":
		if _, err := bcrypt.Cost([]byte(secretHash)); err != nil {
			return nil, err
		}
		a.hash = []byte(secretHash)
	case secret != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.hash = hash
	default:
		log.Warnln("no admin secret configured, admin endpoints are disabled")
	}

	store := sessions.NewCookieStore(sessionKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60, // seconds
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	a.store = store
	return a, nil
}

func (a *AdminAuth) Enabled() bool {
	return len(a.hash) > 0
}

func (a *AdminAuth) check(secret string) bool {
	if !a.Enabled() || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(secret)) == nil
}

func (a *AdminAuth) loggedIn(c echo.Context) bool {
	session, err := a.store.Get(c.Request(), sessionName)
	if err != nil {
		return false
	}
	ok, _ := session.Values[sessionAdmin].(bool)
	return ok
}

func wantsHTML(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get("Accept"), "text/html")
}

func (a *AdminAuth) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if secret := c.Request().Header.Get(adminHeader); secret != "" {
			if a.check(secret) {
				return next(c)
			}
			log.Warnf("bad admin secret from %s", c.RealIP())
			return c.JSON(http.StatusUnauthorized, errorJSON("invalid admin secret"))
		}
		if a.Enabled() && a.loggedIn(c) {
			return next(c)
		}
		if c.Request().Method == http.MethodGet && wantsHTML(c) {
			return c.Redirect(http.StatusSeeOther, "/admin/login")
		}
		return c.JSON(http.StatusUnauthorized, errorJSON("admin authentication required"))
	}
}

func (a *AdminAuth) LoginGet(c echo.Context) error {
	return c.Render(http.StatusOK, "login.html", map[string]interface{}{
		"Footer": MakeFooter(),
	})
}

func (a *AdminAuth) LoginPost(c echo.Context) error {
	if !a.check(c.FormValue("secret")) {
		return c.Render(http.StatusUnauthorized, "login.html", map[string]interface{}{
			"Error":  "Invalid secret",
			"Footer": MakeFooter(),
		})
	}

	session, err := a.store.Get(c.Request(), sessionName)
	if err != nil {
		// signed with a previous key; Get still returns a fresh session
		log.Debugf("discarding admin session: %v", err)
	}
	session.Values[sessionAdmin] = true
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return c.String(http.StatusInternalServerError, "Unable to save session")
	}
	return c.Redirect(http.StatusSeeOther, "/admin/cookies/form")
}

func (a *AdminAuth) Logout(c echo.Context) error {
	session, _ := a.store.Get(c.Request(), sessionName)
	delete(session.Values, sessionAdmin)
	session.Options.MaxAge = -1
	session.Save(c.Request(), c.Response().Writer)
	return c.Redirect(http.StatusSeeOther, "/admin/login")
}
