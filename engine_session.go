package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/remember"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
)

// UserView is the account as the owner sees it.
type UserView struct {
	ID                   string     `json:"id"`
	Username             string     `json:"username"`
	TOTPEnabled          bool       `json:"totpEnabled"`
	PasswordChangeReason *string    `json:"passwordChangeReason"`
	Icon                 *string    `json:"icon"`
	Locale               string     `json:"locale"`
	SudoUntil            *time.Time `json:"sudoUntil"`
}

func newUserView(u store.User, sudoUntil *time.Time) UserView {
	v := UserView{
		ID:          u.ID,
		Username:    u.Username,
		TOTPEnabled: u.TOTPEnabled(),
		Locale:      u.Locale,
		SudoUntil:   sudoUntil,
	}
	if u.PasswordChangeReason != store.NoPasswordChangeReason {
		reason := string(u.PasswordChangeReason)
		v.PasswordChangeReason = &reason
	}
	if u.Icon != "" {
		icon := u.Icon
		v.Icon = &icon
	}
	return v
}

type LoginRequest struct {
	Username string
	Password string
	Remember bool
	// TOTP is the one-time code, "" when none was sent.
	TOTP string
}

type LoginResult struct {
	CSRFToken string
	Session   session.Created
	// Remember is nil unless the caller asked to be remembered.
	Remember *remember.Issued
	User     UserView
	Warnings []APIError
}

// Login verifies credentials and the second factor, then creates a sudo
// session (and a remember token when requested) in one transaction.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	res, err := e.login(ctx, req)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.audit(ctx, AuditEvent{
			EventType: AuditLoginFailure,
			UserID:    res.User.ID,
			Error:     auditError(err),
		})
		return LoginResult{}, e.logUnexpected(ctx, "login", err)
	}
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	if res.Remember != nil {
		e.metricInc(MetricRememberIssued)
	}
	e.audit(ctx, AuditEvent{
		EventType: AuditLoginSuccess,
		UserID:    res.User.ID,
		Success:   true,
		Metadata:  map[string]string{"remember": boolString(req.Remember)},
	})
	return res, nil
}

// login returns a partial result carrying the user id on failures after
// the user was identified, for auditing.
func (e *Engine) login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	u, err := e.store.Users().ByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, unexpected("load user", err)
	}
	failed := LoginResult{User: UserView{ID: u.ID}}

	ok, err := e.checkPassword(u, req.Password)
	if err != nil {
		return failed, err
	}
	if !ok {
		return failed, ErrInvalidCredentials
	}
	e.rehashIfNeeded(ctx, u, req.Password)

	if u.Disabled {
		return failed, ErrAccountDisabled
	}

	var warnings []APIError
	if u.TOTPEnabled() {
		if err := e.totp.VerifyLogin(ctx, u, req.TOTP); err != nil {
			e.metricInc(MetricTOTPFailure)
			return failed, mapLoginTOTP(err)
		}
	} else if req.TOTP != "" {
		warnings = append(warnings, errUnusedTOTP.APIError)
	}

	csrfToken, err := e.NewCSRFToken()
	if err != nil {
		return failed, err
	}

	var (
		created session.Created
		issued  *remember.Issued
	)
	err = e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		created, err = e.sessions.Create(ctx, q, u.ID, csrfToken, true)
		if err != nil {
			return err
		}
		if req.Remember {
			tok, err := e.remember.Issue(ctx, q, u.ID)
			if err != nil {
				return err
			}
			issued = &tok
		}
		return nil
	})
	if err != nil {
		return failed, unexpected("create session", err)
	}

	return LoginResult{
		CSRFToken: csrfToken,
		Session:   created,
		Remember:  issued,
		User:      newUserView(u, created.SudoUntil),
		Warnings:  warnings,
	}, nil
}

func mapLoginTOTP(err error) error {
	switch {
	case errors.Is(err, totp.ErrRequired):
		return ErrTOTPRequired
	case errors.Is(err, totp.ErrInvalid):
		return ErrInvalidTOTP
	case errors.Is(err, totp.ErrAlreadyUsed):
		return ErrTOTPAlreadyUsed
	default:
		return unexpected("verify totp", err)
	}
}

type Restored struct {
	CSRFToken string
	Session   session.Created
	// Remember holds the rotated secret the client must store.
	Remember remember.Issued
}

// RestoreSession trades the remember cookie for a new, non-sudo session.
// The cookie secret rotates on every successful call, in the same
// transaction that creates the session. A wrong secret is treated as
// theft: every session and remember token of the owner is revoked and the
// owner must change their password.
func (e *Engine) RestoreSession(ctx context.Context, cookie string) (Restored, error) {
	if cookie == "" {
		return Restored{}, ErrNoRememberToken
	}
	id, secret, err := remember.Decode(cookie)
	if err != nil {
		return Restored{}, ErrInvalidRememberToken
	}

	csrfToken, err := e.NewCSRFToken()
	if err != nil {
		return Restored{}, err
	}
	var created session.Created
	redeemed, err := e.remember.Redeem(ctx, id, secret, func(q store.Queries, user store.User) error {
		var err error
		created, err = e.sessions.Create(ctx, q, user.ID, csrfToken, false)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, remember.ErrNotFound):
		return Restored{}, ErrInvalidRememberToken
	case errors.Is(err, remember.ErrDisabled):
		return Restored{}, ErrAccountDisabled
	case errors.Is(err, remember.ErrSecretMismatch):
		e.metricInc(MetricRememberCompromised)
		e.log.Warn(ctx, "remember token secret mismatch, sessions revoked", "user_id", redeemed.User.ID)
		if err != remember.ErrSecretMismatch {
			// Joined with the revocation failure.
			e.log.Error(ctx, "remember token revocation failed", "user_id", redeemed.User.ID, "err", err)
		}
		e.audit(ctx, AuditEvent{
			EventType: AuditRememberCompromised,
			UserID:    redeemed.User.ID,
			Error:     ErrRememberTokenMismatch.Error(),
		})
		return Restored{}, ErrRememberTokenMismatch
	default:
		return Restored{}, e.logUnexpected(ctx, "restore session", unexpected("redeem remember token", err))
	}

	e.metricInc(MetricSessionRestored)
	e.metricInc(MetricSessionCreated)
	e.audit(ctx, AuditEvent{EventType: AuditSessionRestored, UserID: redeemed.User.ID, Success: true})
	return Restored{CSRFToken: csrfToken, Session: created, Remember: redeemed.Token}, nil
}

// Logout deletes the caller's session, together with the remember token
// named by rememberCookie when it belongs to the caller. It returns a
// fresh anonymous CSRF token.
func (e *Engine) Logout(ctx context.Context, rc *RequestContext, rememberCookie string) (string, error) {
	if !rc.Authenticated() {
		return "", ErrNotLoggedIn
	}
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		if err := e.sessions.Destroy(ctx, q, rc.Session.SessionID); err != nil {
			return err
		}
		id, _, err := remember.Decode(rememberCookie)
		if err != nil {
			return nil
		}
		tok, _, err := q.RememberTokens().WithUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if tok.UserID != rc.UserID() {
			return nil
		}
		return e.remember.Revoke(ctx, q, id)
	})
	if err != nil {
		return "", e.logUnexpected(ctx, "logout", unexpected("logout", err))
	}
	e.metricInc(MetricLogout)
	e.audit(ctx, AuditEvent{EventType: AuditLogout, UserID: rc.UserID(), Success: true})
	return e.NewCSRFToken()
}

// LogoutAll deletes every session and remember token of the caller.
func (e *Engine) LogoutAll(ctx context.Context, rc *RequestContext) (string, error) {
	if !rc.Authenticated() {
		return "", ErrNotLoggedIn
	}
	userID := rc.UserID()
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		if err := e.sessions.DestroyAll(ctx, q, userID); err != nil {
			return err
		}
		return e.remember.RevokeAll(ctx, q, userID)
	})
	if err != nil {
		return "", e.logUnexpected(ctx, "logout all", unexpected("logout all", err))
	}
	e.metricInc(MetricLogoutAll)
	e.audit(ctx, AuditEvent{EventType: AuditLogoutAll, UserID: userID, Success: true})
	return e.NewCSRFToken()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
