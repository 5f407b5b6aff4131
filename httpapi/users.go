package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Locale   string `json:"locale"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decode(w, r, &body, false); err != nil {
		h.fail(w, err)
		return
	}
	user, err := h.engine.Register(r.Context(), authcore.RegisterRequest(body))
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, user)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.engine.Me(r.Context(), middleware.RequestContext(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user)
}

func (h *handlers) usernameAvailable(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.UsernameAvailable(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

type editUserRequest struct {
	CurrentPassword *string `json:"currentPassword"`
	Username        *string `json:"username"`
	NewPassword     *string `json:"newPassword"`
	Locale          *string `json:"locale"`
	// TOTP is a confirmation code, or null to disable.
	TOTP json.RawMessage `json:"totp"`
}

// editUser answers with the applied fields. Any error item turns the
// status into 400 without hiding what did get applied.
func (h *handlers) editUser(w http.ResponseWriter, r *http.Request) {
	var body editUserRequest
	if err := decode(w, r, &body, false); err != nil {
		h.fail(w, err)
		return
	}
	totp, err := optionalString(body.TOTP)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.engine.EditUser(r.Context(), middleware.RequestContext(r), chi.URLParam(r, "id"), authcore.EditUserRequest{
		CurrentPassword: body.CurrentPassword,
		Username:        body.Username,
		NewPassword:     body.NewPassword,
		Locale:          body.Locale,
		TOTP:            totp,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	out := res.Changes()
	status := http.StatusOK
	if len(res.Errors) > 0 {
		out["errors"] = res.Errors
		status = http.StatusBadRequest
	}
	if len(res.Warnings) > 0 {
		out["warnings"] = res.Warnings
	}
	middleware.WriteJSON(w, status, out)
}

type disabledRequest struct {
	Disabled *bool `json:"disabled"`
}

func (h *handlers) setDisabled(w http.ResponseWriter, r *http.Request) {
	var body disabledRequest
	if err := decode(w, r, &body, false); err != nil {
		h.fail(w, err)
		return
	}
	if body.Disabled == nil {
		h.fail(w, authcore.ErrBadRequest)
		return
	}
	err := h.engine.SetUserDisabled(r.Context(), middleware.RequestContext(r), chi.URLParam(r, "id"), *body.Disabled)
	if err != nil {
		h.fail(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"disabled": *body.Disabled})
}

type deleteUserRequest struct {
	Password *string `json:"password"`
}

// deleteUser logs the caller out when they deleted their own account.
func (h *handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	var body deleteUserRequest
	if err := decode(w, r, &body, true); err != nil {
		h.fail(w, err)
		return
	}
	tok, err := h.engine.DeleteUser(r.Context(), middleware.RequestContext(r), chi.URLParam(r, "id"), body.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	if tok == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.loggedOut(w, tok, nil)
}

func (h *handlers) deleteIcon(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveIcon(r.Context(), middleware.RequestContext(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
