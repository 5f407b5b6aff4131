// Package rate implements a Redis-backed sliding-window request limiter
// keyed by (endpoint, client identity).
//
// # Window semantics
//
// The window is split into buckets of max(1s, window/60). Each request
// increments the current bucket and sums the buckets covering the trailing
// window, all in one pipeline. Bucket keys expire on their own:
//
//	rate-limit:<endpoint>:<identity>:<bucket>
//
// The identity is the client IP sealed with the deterministic secret box,
// so keys stay opaque in Redis yet remain decryptable by operators.
package rate
