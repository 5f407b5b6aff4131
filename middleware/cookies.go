package middleware

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
)

// Cookies reads and writes the auth cookies with the configured attributes.
// Every cookie is HttpOnly. Only the remember cookie is persistent.
type Cookies struct {
	cfg authcore.CookieConfig
}

func NewCookies(cfg authcore.CookieConfig) Cookies {
	return Cookies{cfg: cfg}
}

func (c Cookies) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.cfg.Path,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSiteMode(),
	}
}

func (c Cookies) set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, c.cookie(name, value))
}

func (c Cookies) clear(w http.ResponseWriter, name string) {
	ck := c.cookie(name, "")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, ck)
}

func (c Cookies) SetSession(w http.ResponseWriter, id string) {
	c.set(w, c.cfg.SessionName, id)
}

func (c Cookies) SetCSRF(w http.ResponseWriter, token string) {
	c.set(w, c.cfg.CSRFName, token)
}

// SetRemember stores the "id:secret" value with the persistent max-age.
func (c Cookies) SetRemember(w http.ResponseWriter, value string) {
	ck := c.cookie(c.cfg.RememberName, value)
	ck.MaxAge = c.cfg.PersistentMaxAge
	http.SetCookie(w, ck)
}

func (c Cookies) ClearSession(w http.ResponseWriter)  { c.clear(w, c.cfg.SessionName) }
func (c Cookies) ClearCSRF(w http.ResponseWriter)     { c.clear(w, c.cfg.CSRFName) }
func (c Cookies) ClearRemember(w http.ResponseWriter) { c.clear(w, c.cfg.RememberName) }

// Apply performs the cookie mutation an error asks for.
func (c Cookies) Apply(w http.ResponseWriter, action authcore.CookieAction) {
	switch action {
	case authcore.ClearSessionCookie:
		c.ClearSession(w)
	case authcore.ClearAuthCookies:
		c.ClearSession(w)
		c.ClearRemember(w)
	}
}

func (c Cookies) Session(r *http.Request) string  { return value(r, c.cfg.SessionName) }
func (c Cookies) CSRF(r *http.Request) string     { return value(r, c.cfg.CSRFName) }
func (c Cookies) Remember(r *http.Request) string { return value(r, c.cfg.RememberName) }

// value returns the named cookie, or "" when it is absent.
func value(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
