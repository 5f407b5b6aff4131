package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/middleware"
)

type totpKeyResponse struct {
	Key     string    `json:"key"`
	URI     string    `json:"uri"`
	Expires time.Time `json:"expires"`
}

// totpKey starts enrollment. The key becomes active once a code for it is
// confirmed through PUT /users/{id}.
func (h *handlers) totpKey(w http.ResponseWriter, r *http.Request) {
	enr, err := h.engine.BeginTOTP(r.Context(), middleware.RequestContext(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, totpKeyResponse{Key: enr.Key, URI: enr.URI, Expires: enr.Expires})
}

func (h *handlers) websocketToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.engine.WebsocketToken(r.Context(), middleware.RequestContext(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": tok})
}
