package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/internal/logging"
)

// RequestIDHeader is read from trusted callers and echoed on every response.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// Chain holds what every middleware step needs: the engine, the cookie
// settings and whether proxy headers are trusted.
type Chain struct {
	engine     *authcore.Engine
	cookies    Cookies
	trustProxy bool
}

func New(engine *authcore.Engine) *Chain {
	cfg := engine.Config()
	return &Chain{
		engine:     engine,
		cookies:    NewCookies(cfg.Cookie),
		trustProxy: cfg.Server.TrustProxyHeaders,
	}
}

func (c *Chain) Cookies() Cookies { return c.cookies }

// RequestContext returns the request's authcore.RequestContext. It is never
// nil; a request that skipped RequestID gets an empty, detached one.
func RequestContext(r *http.Request) *authcore.RequestContext {
	if rc, ok := authcore.RequestContextFrom(r.Context()); ok {
		return rc
	}
	return &authcore.RequestContext{}
}

// RequestID creates the RequestContext. The id comes from X-Request-ID
// when present and sane, otherwise a random UUID.
func (c *Chain) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rc := &authcore.RequestContext{RequestID: id}
		ctx := logging.WithRequestID(r.Context(), id)
		ctx = authcore.WithRequestContext(ctx, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP records the caller's address, the key of every rate limit.
func (c *Chain) ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RequestContext(r).ClientIP = clientIP(r, c.trustProxy)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireAuth validates the session cookie and attaches the session to the
// RequestContext.
func (c *Chain) RequireAuth(next http.Handler) http.Handler {
	return c.guard(false)(next)
}

func (c *Chain) guard(withPermissions bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := RequestContext(r)
			ctx := r.Context()
			if err := c.engine.Authenticate(ctx, rc, c.cookies.Session(r)); err != nil {
				WriteError(w, c.cookies, err)
				return
			}
			if withPermissions {
				if _, err := c.engine.LoadPermissions(ctx, rc); err != nil {
					WriteError(w, c.cookies, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnauthenticatedOnly refuses callers holding a live session.
func (c *Chain) UnauthenticatedOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := c.engine.IsAuthenticated(r.Context(), c.cookies.Session(r))
		if err == nil && ok {
			err = authcore.ErrAlreadyAuthenticated
		}
		if err != nil {
			WriteError(w, c.cookies, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit counts the request against the budget of endpoint.
func (c *Chain) RateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := c.engine.AllowRequest(r.Context(), RequestContext(r), endpoint); err != nil {
				WriteError(w, c.cookies, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF runs the double-submit check on unsafe methods. A failed check
// (other than duplicate headers) answers with a usable token in the body
// and the CSRF cookie: the session's token for logged-in callers, a fresh
// one otherwise.
func (c *Chain) CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		rc := RequestContext(r)
		err := c.engine.CheckCSRF(r.Context(), rc, r.Header.Values(csrf.HeaderName), c.cookies.CSRF(r))
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if errors.Is(err, authcore.ErrMultipleCSRFHeaders) {
			WriteError(w, c.cookies, err)
			return
		}

		var token string
		if tok := rc.CSRFToken(); tok != nil {
			token = *tok
		} else {
			fresh, genErr := c.engine.NewCSRFToken()
			if genErr != nil {
				WriteError(w, c.cookies, genErr)
				return
			}
			token = fresh
		}
		c.cookies.SetCSRF(w, token)
		p := authcore.ProblemFor(err)
		WriteJSON(w, p.Status, ErrorBody{CSRFToken: token, Errors: p.Errors})
	})
}
