package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// csrfToken issues an anonymous token. A session cookie that reached this
// point is stale and is dropped.
func (h *handlers) csrfToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.engine.NewCSRFToken()
	if err != nil {
		h.fail(w, err)
		return
	}
	if h.cookies.Session(r) != "" {
		h.cookies.ClearSession(w)
	}
	h.cookies.SetCSRF(w, tok)
	middleware.WriteJSON(w, http.StatusOK, csrfResponse{CSRFToken: tok})
}

type loginRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Remember bool    `json:"remember"`
	TOTP     *string `json:"totp"`
}

type loginResponse struct {
	CSRFToken string              `json:"csrfToken"`
	User      authcore.UserView   `json:"user"`
	Warnings  []authcore.APIError `json:"warnings,omitempty"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decode(w, r, &body, false); err != nil {
		h.fail(w, err)
		return
	}
	req := authcore.LoginRequest{Username: body.Username, Password: body.Password, Remember: body.Remember}
	if body.TOTP != nil {
		req.TOTP = *body.TOTP
	}

	res, err := h.engine.Login(r.Context(), req)
	if err != nil {
		if h.cookies.Session(r) != "" {
			h.cookies.ClearSession(w)
		}
		h.fail(w, err)
		return
	}

	h.cookies.SetSession(w, res.Session.ID)
	h.cookies.ClearCSRF(w)
	if res.Remember != nil {
		h.cookies.SetRemember(w, res.Remember.Value())
	} else {
		h.cookies.ClearRemember(w)
	}
	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		CSRFToken: res.CSRFToken,
		User:      res.User,
		Warnings:  res.Warnings,
	})
}

// getSession trades the remember cookie for a new session.
func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RestoreSession(r.Context(), h.cookies.Remember(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.cookies.SetSession(w, res.Session.ID)
	h.cookies.SetRemember(w, res.Remember.Value())
	h.cookies.ClearCSRF(w)
	middleware.WriteJSON(w, http.StatusOK, csrfResponse{CSRFToken: res.CSRFToken})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	tok, err := h.engine.Logout(r.Context(), middleware.RequestContext(r), h.cookies.Remember(r))
	h.loggedOut(w, tok, err)
}

func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	tok, err := h.engine.LogoutAll(r.Context(), middleware.RequestContext(r))
	h.loggedOut(w, tok, err)
}

// loggedOut drops the auth cookies and hands out the anonymous token.
func (h *handlers) loggedOut(w http.ResponseWriter, csrfToken string, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	h.cookies.ClearSession(w)
	h.cookies.ClearRemember(w)
	h.cookies.SetCSRF(w, csrfToken)
	middleware.WriteJSON(w, http.StatusOK, csrfResponse{CSRFToken: csrfToken})
}
