package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/authcore"
)

const maxBodyBytes = 64 << 10

// decode reads one JSON object into dst. Unknown fields are rejected. An
// empty body is accepted only when optional is set.
func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	switch {
	case err == nil:
	case optional && errors.Is(err, io.EOF):
		return nil
	default:
		return authcore.ErrBadRequest
	}
	if dec.More() {
		return authcore.ErrBadRequest
	}
	return nil
}

// optionalString keeps an absent field apart from an explicit null.
func optionalString(raw json.RawMessage) (authcore.OptionalString, error) {
	if len(raw) == 0 {
		return authcore.OptionalString{}, nil
	}
	if string(raw) == "null" {
		return authcore.OptionalString{Set: true}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return authcore.OptionalString{}, authcore.ErrBadRequest
	}
	return authcore.OptionalString{Set: true, Value: &s}, nil
}
