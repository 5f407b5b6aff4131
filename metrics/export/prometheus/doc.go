// Package prometheus renders authcore metrics in the Prometheus text
// exposition format.
//
// The exporter does not touch a global registry: callers mount Handler
// wherever they serve metrics. Counter names are authcore_*_total and the
// single histogram is authcore_validate_latency_seconds.
package prometheus
