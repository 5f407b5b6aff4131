// Package authcore is a session-based authentication core: opaque server-side
// sessions with a sudo window, rotating remember-me tokens, TOTP second
// factor, double-submit CSRF protection and sliding-window rate limits.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the transport-neutral surface. Every operation takes an
// explicit [RequestContext] built by the middleware chain instead of reading
// ambient request state. Expected failures are *Error values with a fixed
// source and id; anything else is reported as general/unexpected by
// [ProblemFor]. The HTTP binding lives in the httpapi package, the
// middleware chain in middleware.
//
// Persistence goes through internal/store (PostgreSQL in production, an
// in-memory store for tests). Redis holds rate-limit counters, websocket
// tokens and the pub/sub channel used for account notifications.
//
// # Background work
//
// Work the caller should not wait for (deleting expired sessions and pending
// TOTP keys, upgrading password hashes, notifications, audit events) runs on
// a bounded task runner. Tasks are never dropped; failures are logged with
// the task name.
package authcore
