package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/sockets"
	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/totp"
)

// SetUserDisabled disables or re-enables targetID. Disabling also ends
// every session and remember token of the account. Needs edit_user.
func (e *Engine) SetUserDisabled(ctx context.Context, rc *RequestContext, targetID string, disabled bool) error {
	if !rc.Authenticated() {
		return ErrNotLoggedIn
	}
	ok, err := e.HasPermission(ctx, rc, permission.EditUser)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	err = e.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.Users().SetDisabled(ctx, targetID, disabled); err != nil {
			return err
		}
		if !disabled {
			return nil
		}
		if err := e.sessions.DestroyAll(ctx, q, targetID); err != nil {
			return err
		}
		return e.remember.RevokeAll(ctx, q, targetID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return e.logUnexpected(ctx, "set user disabled", unexpected("set disabled", err))
	}

	event := AuditAccountEnabled
	if disabled {
		event = AuditAccountDisabled
		e.metricInc(MetricAccountDisabled)
	}
	e.audit(ctx, AuditEvent{EventType: event, UserID: targetID, ActorID: rc.UserID(), Success: true})
	return nil
}

// DeleteUser removes targetID with everything it owns. Deleting oneself
// needs the password unless sudo is active; deleting someone else needs
// delete_user. When the caller deleted themselves a fresh anonymous CSRF
// token is returned, otherwise "".
func (e *Engine) DeleteUser(ctx context.Context, rc *RequestContext, targetID string, password *string) (string, error) {
	if !rc.Authenticated() {
		return "", ErrNotLoggedIn
	}
	self := targetID == rc.UserID()
	var target store.User
	if self {
		target = rc.Session.User
		if !rc.Session.SudoActive(e.now()) {
			if password == nil || *password == "" {
				return "", ErrMissingCurrentPassword
			}
			ok, err := e.checkPassword(target, *password)
			if err != nil {
				return "", e.logUnexpected(ctx, "delete user", err)
			}
			if !ok {
				return "", ErrInvalidCurrentPassword
			}
		}
	} else {
		ok, err := e.HasPermission(ctx, rc, permission.DeleteUser)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrForbidden
		}
		target, err = e.store.Users().ByID(ctx, targetID)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", e.logUnexpected(ctx, "delete user", unexpected("load user", err))
		}
	}

	err := e.store.Users().Delete(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", e.logUnexpected(ctx, "delete user", unexpected("delete user", err))
	}

	if target.Icon != "" {
		icon := target.Icon
		e.tasks.Go(ctx, "delete-user-icon", func(ctx context.Context) error {
			return e.icons.Remove(ctx, icon)
		})
	}
	e.metricInc(MetricAccountDeleted)
	e.audit(ctx, AuditEvent{EventType: AuditAccountDeleted, UserID: targetID, ActorID: rc.UserID(), Success: true})

	if !self {
		return "", nil
	}
	return e.NewCSRFToken()
}

// RemoveIcon deletes the stored icon of targetID and clears the column.
// Callers other than the owner need edit_user.
func (e *Engine) RemoveIcon(ctx context.Context, rc *RequestContext, targetID string) error {
	if !rc.Authenticated() {
		return ErrNotLoggedIn
	}
	if targetID != rc.UserID() {
		ok, err := e.HasPermission(ctx, rc, permission.EditUser)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
	}
	u, err := e.store.Users().ByID(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return e.logUnexpected(ctx, "remove icon", unexpected("load user", err))
	}
	if u.Icon == "" {
		return nil
	}
	if err := e.icons.Remove(ctx, u.Icon); err != nil {
		return e.logUnexpected(ctx, "remove icon", unexpected("remove icon object", err))
	}
	if err := e.store.Users().SetIcon(ctx, targetID, ""); err != nil {
		return e.logUnexpected(ctx, "remove icon", unexpected("clear icon", err))
	}
	e.emitUserUpdated(ctx, targetID, map[string]any{"icon": nil})
	return nil
}

// BeginTOTP issues a pending TOTP key for the caller. The key must be
// confirmed through EditUser before it protects logins.
func (e *Engine) BeginTOTP(ctx context.Context, rc *RequestContext) (totp.Enrollment, error) {
	if !rc.Authenticated() {
		return totp.Enrollment{}, ErrNotLoggedIn
	}
	enr, err := e.totp.BeginEnrollment(ctx, rc.Session.User)
	if errors.Is(err, totp.ErrAlreadyEnabled) {
		return totp.Enrollment{}, ErrTOTPAlreadyEnabled
	}
	if err != nil {
		return totp.Enrollment{}, e.logUnexpected(ctx, "totp key", unexpected("begin totp enrollment", err))
	}
	return enr, nil
}

// WebsocketToken issues a short-lived, single-use token that lets the
// socket server attach a connection to the caller.
func (e *Engine) WebsocketToken(ctx context.Context, rc *RequestContext) (string, error) {
	if !rc.Authenticated() {
		return "", ErrNotLoggedIn
	}
	tok, err := e.sockets.Issue(ctx, rc.UserID())
	if err != nil {
		return "", e.logUnexpected(ctx, "websocket token", unexpected("issue websocket token", err))
	}
	e.metricInc(MetricWebsocketTokenIssued)
	return tok, nil
}

// ResolveWebsocketToken consumes tok and returns the user it was issued to.
func (e *Engine) ResolveWebsocketToken(ctx context.Context, tok string) (string, error) {
	userID, err := e.sockets.Resolve(ctx, tok)
	if errors.Is(err, sockets.ErrInvalidToken) {
		return "", ErrInvalidWebsocketToken
	}
	if err != nil {
		return "", e.logUnexpected(ctx, "resolve websocket token", unexpected("resolve websocket token", err))
	}
	return userID, nil
}
