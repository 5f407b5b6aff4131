package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

// NewCSRFToken returns a fresh token for the anonymous CSRF cookie.
func (e *Engine) NewCSRFToken() (string, error) {
	tok, err := e.sessions.NewCSRFToken()
	if err != nil {
		return "", unexpected("generate csrf token", err)
	}
	return tok, nil
}

// Authenticate validates sessionID and attaches the session to rc.
func (e *Engine) Authenticate(ctx context.Context, rc *RequestContext, sessionID string) error {
	start := time.Now()
	sc, err := e.sessions.Validate(ctx, sessionID)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	switch {
	case err == nil:
		rc.Session = &sc
		return nil
	case errors.Is(err, session.ErrUnauthenticated):
		return ErrNotLoggedIn
	case errors.Is(err, session.ErrExpired):
		e.metricInc(MetricSessionExpired)
		return ErrSessionExpired
	case errors.Is(err, session.ErrDisabled):
		return ErrAccountDisabled
	default:
		return e.logUnexpected(ctx, "authenticate", unexpected("validate session", err))
	}
}

// IsAuthenticated reports whether sessionID names a live session of an
// enabled user. Routes reserved for anonymous callers use it; an expired
// or disabled session counts as anonymous.
func (e *Engine) IsAuthenticated(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	_, err := e.sessions.Validate(ctx, sessionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, session.ErrUnauthenticated),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrDisabled):
		return false, nil
	default:
		return false, e.logUnexpected(ctx, "is authenticated", unexpected("validate session", err))
	}
}

// LoadPermissions fetches the caller's permission set once and caches it
// on rc for the rest of the request.
func (e *Engine) LoadPermissions(ctx context.Context, rc *RequestContext) (permission.Set, error) {
	if set, ok := rc.Permissions(); ok {
		return set, nil
	}
	if !rc.Authenticated() {
		return 0, ErrNotLoggedIn
	}
	set, err := e.store.Permissions().ForUser(ctx, rc.UserID())
	if err != nil {
		return 0, e.logUnexpected(ctx, "load permissions", unexpected("load permissions", err))
	}
	rc.cachePermissions(set)
	return set, nil
}

// HasPermission consults the cached set when LoadPermissions ran,
// otherwise it asks the store directly.
func (e *Engine) HasPermission(ctx context.Context, rc *RequestContext, p permission.Permission) (bool, error) {
	if !rc.Authenticated() {
		return false, nil
	}
	if set, ok := rc.Permissions(); ok {
		return set.Has(p), nil
	}
	ok, err := e.store.Permissions().Has(ctx, rc.UserID(), p)
	if err != nil {
		return false, e.logUnexpected(ctx, "has permission", unexpected("check permission", err))
	}
	return ok, nil
}

// AllowRequest counts one request against the budget of endpoint. Callers
// holding ignore_rate_limits are never counted.
func (e *Engine) AllowRequest(ctx context.Context, rc *RequestContext, endpoint string) error {
	if !e.cfg.RateLimit.Enabled {
		return nil
	}
	rule, ok := e.cfg.RateLimit.Rules[endpoint]
	if !ok {
		return nil
	}
	exempt, err := e.HasPermission(ctx, rc, permission.IgnoreRateLimits)
	if err != nil {
		return err
	}
	if exempt {
		return nil
	}

	err = e.limiter.Allow(ctx, endpoint, rc.ClientIP, rule)
	var limited *rate.LimitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &limited):
		e.metricInc(MetricRateLimitHit)
		e.audit(ctx, AuditEvent{
			EventType: AuditRateLimited,
			UserID:    rc.UserID(),
			Error:     "general/too-many-requests",
			Metadata:  map[string]string{"endpoint": endpoint},
		})
		return RateLimitedError(limited.Limit, int(limited.Window/time.Second))
	default:
		return e.logUnexpected(ctx, "rate limit", unexpected("rate limit "+endpoint, err))
	}
}

// CheckCSRF runs the double-submit check for a mutating request. headers
// are all values of the X-CSRF-Token header, cookie the anonymous CSRF
// cookie ("" when absent).
func (e *Engine) CheckCSRF(ctx context.Context, rc *RequestContext, headers []string, cookie string) error {
	err := csrf.Check(headers, cookie, rc.CSRFToken())
	if err == nil {
		return nil
	}
	e.metricInc(MetricCSRFFailure)

	var out *Error
	switch {
	case errors.Is(err, csrf.ErrMissingHeader):
		out = ErrMissingCSRFHeader
	case errors.Is(err, csrf.ErrMultipleHeaders):
		out = ErrMultipleCSRFHeaders
	case errors.Is(err, csrf.ErrMissingCookie):
		out = ErrMissingCSRFCookie
	default:
		out = ErrInvalidCSRFToken
	}
	e.audit(ctx, AuditEvent{EventType: AuditCSRFRejected, UserID: rc.UserID(), Error: out.Error()})
	return out
}
