package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

type requestContextKey struct{}

// RequestContext is the per-request identity. The middleware chain creates
// it once, fills ClientIP and Session as the request moves through, and
// hands the same pointer to every Engine call of that request.
type RequestContext struct {
	RequestID string
	ClientIP  string
	// Session is nil for anonymous requests.
	Session *session.Context

	permissions *permission.Set
}

// Authenticated reports whether a valid session is attached.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Session != nil
}

// UserID returns the session owner, or "" when anonymous.
func (rc *RequestContext) UserID() string {
	if !rc.Authenticated() {
		return ""
	}
	return rc.Session.UserID()
}

// CSRFToken returns the token bound to the session, or nil when anonymous.
func (rc *RequestContext) CSRFToken() *string {
	if !rc.Authenticated() {
		return nil
	}
	tok := rc.Session.CSRFToken
	return &tok
}

// Permissions returns the cached permission set, if it was loaded.
func (rc *RequestContext) Permissions() (permission.Set, bool) {
	if rc == nil || rc.permissions == nil {
		return 0, false
	}
	return *rc.permissions, true
}

func (rc *RequestContext) cachePermissions(set permission.Set) {
	rc.permissions = &set
}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext attached by
// WithRequestContext.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
