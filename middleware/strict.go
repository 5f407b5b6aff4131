package middleware

import "net/http"

// RequireAuthWithPermissions is RequireAuth plus a single lookup of the
// caller's permission set, cached on the RequestContext for the handler.
func (c *Chain) RequireAuthWithPermissions(next http.Handler) http.Handler {
	return c.guard(true)(next)
}
