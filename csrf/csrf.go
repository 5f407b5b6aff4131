// Package csrf implements the double-submit CSRF check.
//
// Authenticated requests must echo the CSRF token bound to their session in
// the X-CSRF-Token header. Anonymous requests (login, registration) must
// echo the value of the anonymous CSRF cookie instead.
package csrf

import (
	"crypto/subtle"
	"errors"
)

// HeaderName carries the token on mutating requests.
const HeaderName = "X-CSRF-Token"

var (
	ErrMissingHeader   = errors.New("csrf: missing header")
	ErrMultipleHeaders = errors.New("csrf: multiple headers")
	ErrMissingCookie   = errors.New("csrf: missing cookie")
	ErrInvalidToken    = errors.New("csrf: invalid token")
)

// Check validates the header values of one request. sessionToken is the
// token bound to the caller's session, or nil for anonymous requests, in
// which case cookie is the anonymous CSRF cookie ("" when absent).
// Empty header values count as missing.
func Check(headers []string, cookie string, sessionToken *string) error {
	switch {
	case len(headers) == 0 || (len(headers) == 1 && headers[0] == ""):
		return ErrMissingHeader
	case len(headers) > 1:
		return ErrMultipleHeaders
	}
	header := headers[0]

	if sessionToken == nil {
		if cookie == "" {
			return ErrMissingCookie
		}
		if !equal(cookie, header) {
			return ErrInvalidToken
		}
		return nil
	}
	if !equal(*sessionToken, header) {
		return ErrInvalidToken
	}
	return nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
