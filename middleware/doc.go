// Package middleware adapts authcore.Engine to net/http.
//
// # Chain
//
// Routes compose the handlers of a [Chain] in a fixed order:
//
//	RequestID -> ClientIP -> [RequireAuth] -> RateLimit(endpoint) -> [CSRF] -> handler
//
// Routes reserved for anonymous callers use [Chain.UnauthenticatedOnly]
// instead of RequireAuth. RequestID creates the per-request
// authcore.RequestContext; every later step reads and fills that same value
// through the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics (cookies, headers, status codes)
// into Engine calls. It does NOT implement authentication logic itself: all
// decisions are delegated to the Engine, and failures are rendered through
// authcore.ProblemFor by [WriteError].
package middleware
