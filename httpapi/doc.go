// Package httpapi serves the authcore engine over HTTP.
//
// NewRouter mounts every endpoint on a chi router. Each route runs through
// the middleware.Chain steps it needs; handlers only decode the body, call
// one Engine method and translate the result into JSON and cookies.
package httpapi
