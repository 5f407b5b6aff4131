package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	// CSRFToken is set only on CSRF failures, to let the client retry.
	CSRFToken string              `json:"csrfToken,omitempty"`
	Errors    []authcore.APIError `json:"errors"`
}

// WriteJSON encodes body with status. Encoding errors are dropped: the
// status line is already out.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err with authcore.ProblemFor and applies the cookie
// mutation it carries.
func WriteError(w http.ResponseWriter, cookies Cookies, err error) {
	p := authcore.ProblemFor(err)
	cookies.Apply(w, p.Cookies)
	WriteJSON(w, p.Status, ErrorBody{Errors: p.Errors})
}
