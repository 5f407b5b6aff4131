package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is one entry of the "errors" (or "warnings") array of a response.
type APIError struct {
	Source  string         `json:"source"`
	ID      string         `json:"id"`
	Details string         `json:"details,omitempty"`
	Values  map[string]int `json:"values,omitempty"`
}

// CookieAction tells the transport which auth cookies an error invalidates.
type CookieAction uint8

const (
	KeepCookies CookieAction = iota
	// ClearSessionCookie drops the session cookie only.
	ClearSessionCookie
	// ClearAuthCookies drops the session and remember cookies.
	ClearAuthCookies
)

// Error is an expected failure with a fixed wire identity. Two Errors match
// under errors.Is when source and id are equal.
type Error struct {
	APIError
	Status  int
	Cookies CookieAction
}

func (e *Error) Error() string { return e.Source + "/" + e.ID }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Source == e.Source && t.ID == e.ID
}

func newError(status int, cookies CookieAction, source, id string) *Error {
	return &Error{APIError: APIError{Source: source, ID: id}, Status: status, Cookies: cookies}
}

var (
	ErrNotLoggedIn          = newError(http.StatusBadRequest, ClearSessionCookie, "auth", "not-logged-in")
	ErrSessionExpired       = newError(http.StatusBadRequest, ClearSessionCookie, "auth", "session-expired")
	ErrAccountDisabled      = newError(http.StatusBadRequest, ClearAuthCookies, "auth", "account-disabled")
	ErrAlreadyAuthenticated = newError(http.StatusBadRequest, KeepCookies, "auth", "already-authenticated")
	ErrInvalidCredentials   = newError(http.StatusBadRequest, KeepCookies, "auth", "invalid-credentials")
	ErrTOTPRequired         = newError(http.StatusBadRequest, KeepCookies, "auth", "totp-required")
	ErrInvalidTOTP          = newError(http.StatusBadRequest, KeepCookies, "auth", "invalid-totp")
	ErrTOTPAlreadyUsed      = newError(http.StatusBadRequest, KeepCookies, "login", "totp-already-used")

	// ErrNoRememberToken is returned when no remember cookie was sent.
	ErrNoRememberToken = newError(http.StatusBadRequest, KeepCookies, "auth", "no-valid-remember-token")
	// ErrInvalidRememberToken is returned for a malformed or unknown cookie.
	ErrInvalidRememberToken  = newError(http.StatusBadRequest, ClearAuthCookies, "auth", "no-valid-remember-token")
	ErrRememberTokenMismatch = newError(http.StatusBadRequest, ClearAuthCookies, "auth", "remember-token-secret-mismatch")

	ErrMissingCSRFHeader   = newError(http.StatusBadRequest, KeepCookies, "csrf", "missing-csrf-header")
	ErrMultipleCSRFHeaders = newError(http.StatusBadRequest, KeepCookies, "csrf", "multiple-csrf-headers")
	ErrMissingCSRFCookie   = newError(http.StatusBadRequest, KeepCookies, "csrf", "missing-csrf-cookie")
	ErrInvalidCSRFToken    = newError(http.StatusBadRequest, KeepCookies, "csrf", "invalid-csrf-token")

	ErrRateLimited = newError(http.StatusTooManyRequests, KeepCookies, "general", "too-many-requests")
	ErrBadRequest  = newError(http.StatusBadRequest, KeepCookies, "general", "bad-request")
	ErrForbidden   = newError(http.StatusForbidden, KeepCookies, "general", "forbidden")
	ErrNotFound    = newError(http.StatusNotFound, KeepCookies, "general", "not-found")
	ErrUnexpected  = newError(http.StatusInternalServerError, KeepCookies, "general", "unexpected")

	ErrUsernameNotAvailable    = newError(http.StatusBadRequest, KeepCookies, "account", "username-not-available")
	ErrTOTPAlreadyEnabled      = newError(http.StatusBadRequest, KeepCookies, "account", "totp-already-enabled")
	ErrMissingCurrentPassword  = newError(http.StatusBadRequest, KeepCookies, "account", "missing-current-password")
	ErrInvalidCurrentPassword  = newError(http.StatusBadRequest, KeepCookies, "account", "invalid-current-password")
	ErrInvalidWebsocketToken   = newError(http.StatusBadRequest, KeepCookies, "auth", "invalid-websocket-token")
	errNoChangeInPassword      = newError(http.StatusBadRequest, KeepCookies, "account", "no-change-in-password")
	errCannotUpdatePassword    = newError(http.StatusBadRequest, KeepCookies, "account", "cannot-update-password-for-others")
	errCannotEnableTOTP        = newError(http.StatusBadRequest, KeepCookies, "account", "cannot-enable-totp-for-others")
	errNoTOTPKeyActive         = newError(http.StatusBadRequest, KeepCookies, "account", "no-totp-key-active")
	errInvalidTOTPVerification = newError(http.StatusBadRequest, KeepCookies, "account", "invalid-totp-verification")
	errUnusedTOTP              = newError(http.StatusBadRequest, KeepCookies, "auth", "unused-totp")
)

// RateLimitedError builds the 429 error carrying the budget that was hit.
func RateLimitedError(limit int, windowSeconds int) *Error {
	e := *ErrRateLimited
	e.Values = map[string]int{"limit": limit, "windowSeconds": windowSeconds}
	return &e
}

// ValidationError lists every malformed field of one request.
type ValidationError struct {
	Errors []APIError
}

func (v *ValidationError) Error() string {
	ids := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		ids = append(ids, e.ID)
	}
	return "validation: " + strings.Join(ids, ", ")
}

// unexpected marks err as an internal failure. The cause stays reachable
// through errors.Is for logging.
func unexpected(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
}

// Problem is the transport-neutral rendering of an error.
type Problem struct {
	Status  int
	Errors  []APIError
	Cookies CookieAction
}

// ProblemFor maps err to its wire form. Anything that is not an expected
// failure becomes an opaque 500.
func ProblemFor(err error) Problem {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Problem{Status: http.StatusBadRequest, Errors: ve.Errors}
	}
	if e, ok := asError(err); ok {
		return Problem{Status: e.Status, Errors: []APIError{e.APIError}, Cookies: e.Cookies}
	}
	return Problem{Status: http.StatusInternalServerError, Errors: []APIError{ErrUnexpected.APIError}}
}

// asError extracts an expected *Error from err.
func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && !errors.Is(err, ErrUnexpected) {
		return e, true
	}
	return nil, false
}
