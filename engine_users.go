package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/token"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/totp"
)

type RegisterRequest struct {
	Username string
	Password string
	// Locale defaults to the first configured locale when empty.
	Locale string
}

// Register creates an account. It does not log the new user in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (UserView, error) {
	username := strings.TrimSpace(req.Username)
	locale := req.Locale
	if locale == "" {
		locale = e.cfg.User.DefaultLocale()
	}

	var items []APIError
	items = append(items, e.validateUsername(fieldUsername, username)...)
	items = append(items, e.validatePassword(fieldPassword, req.Password)...)
	items = append(items, e.validateLocale(locale)...)
	if err := invalid(items); err != nil {
		return UserView{}, err
	}

	encrypted, err := e.hashPassword(req.Password)
	if err != nil {
		return UserView{}, e.logUnexpected(ctx, "register", err)
	}

	u := store.User{Username: username, Password: encrypted, Locale: locale}
	err = token.TryInsertUnique(ctx, e.cfg.Session.UniqueRetries, func(ctx context.Context) error {
		id, err := token.Generate(e.cfg.User.IDBytes)
		if err != nil {
			return err
		}
		u.ID = id
		return e.store.Users().Insert(ctx, u)
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		e.metricInc(MetricAccountCreationDuplicate)
		return UserView{}, ErrUsernameNotAvailable
	}
	if err != nil {
		return UserView{}, e.logUnexpected(ctx, "register", unexpected("insert user", err))
	}

	e.metricInc(MetricAccountCreated)
	e.audit(ctx, AuditEvent{EventType: AuditAccountCreated, UserID: u.ID, Success: true})
	return newUserView(u, nil), nil
}

// Me returns the caller's account.
func (e *Engine) Me(ctx context.Context, rc *RequestContext) (UserView, error) {
	if !rc.Authenticated() {
		return UserView{}, ErrNotLoggedIn
	}
	u, err := e.store.Users().ByID(ctx, rc.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return UserView{}, ErrNotFound
	}
	if err != nil {
		return UserView{}, e.logUnexpected(ctx, "me", unexpected("load user", err))
	}
	return newUserView(u, rc.Session.SudoUntil), nil
}

// UsernameAvailable reports whether username is free, case-insensitively.
func (e *Engine) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if err := invalid(e.validateUsername(fieldNewUsername, username)); err != nil {
		return false, err
	}
	_, err := e.store.Users().ByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	case err != nil:
		return false, e.logUnexpected(ctx, "username available", unexpected("lookup username", err))
	}
	return false, nil
}

// OptionalString distinguishes an absent field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

// EditUserRequest lists the fields to change. Nil pointers are left alone.
type EditUserRequest struct {
	CurrentPassword *string
	Username        *string
	NewPassword     *string
	Locale          *string
	// TOTP enables TOTP with a confirmation code, or disables it when set
	// to null.
	TOTP OptionalString
}

// EditUserResult reports what changed. Changes are applied independently:
// one field may fail while another succeeds, so Errors and applied fields
// can both be present.
type EditUserResult struct {
	Username        *string
	Locale          *string
	PasswordUpdated bool
	TOTPEnabled     *bool
	SudoUntil       *time.Time
	Errors          []APIError
	Warnings        []APIError
}

// Changes returns the applied fields keyed by their wire names.
func (r EditUserResult) Changes() map[string]any {
	out := map[string]any{}
	if r.Username != nil {
		out["username"] = *r.Username
	}
	if r.PasswordUpdated {
		out["passwordUpdated"] = true
		out["passwordChangeReason"] = nil
	}
	if r.Locale != nil {
		out["locale"] = *r.Locale
	}
	if r.TOTPEnabled != nil {
		out["totpEnabled"] = *r.TOTPEnabled
	}
	if r.SudoUntil != nil {
		out["sudoUntil"] = *r.SudoUntil
	}
	return out
}

// passwordProof tracks proof of the caller's password over one edit so
// that it is checked, and reported, at most once.
type passwordProof struct {
	e        *Engine
	user     store.User
	sudo     bool
	current  *string
	verified bool
	failed   bool
	// used is set once any change was allowed by a proof.
	used bool
}

// check returns whether the caller proved their password. allowSudo lets
// an open sudo window stand in for the current password. The returned
// item, if any, belongs in the response errors.
func (p *passwordProof) check(ctx context.Context, allowSudo bool) (bool, *APIError, error) {
	switch {
	case allowSudo && p.sudo:
		p.used = true
		return true, nil, nil
	case p.verified:
		p.used = true
		return true, nil, nil
	case p.failed:
		return false, nil, nil
	}
	if p.current == nil || *p.current == "" {
		p.failed = true
		item := emptyField(fieldCurrentPassword)
		return false, &item, nil
	}
	ok, err := p.e.checkPassword(p.user, *p.current)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		p.failed = true
		item := ErrInvalidCurrentPassword.APIError
		return false, &item, nil
	}
	p.verified = true
	p.used = true
	return true, nil, nil
}

// EditUser applies req to targetID. Editing another account needs
// edit_user. Changing one's own username (beyond letter case), enabling or
// disabling TOTP need proof of the password, which an open sudo window
// satisfies; a new password always needs the current one. Any proof
// extends the caller's sudo window.
func (e *Engine) EditUser(ctx context.Context, rc *RequestContext, targetID string, req EditUserRequest) (EditUserResult, error) {
	if !rc.Authenticated() {
		return EditUserResult{}, ErrNotLoggedIn
	}
	self := targetID == rc.UserID()
	if !self {
		ok, err := e.HasPermission(ctx, rc, permission.EditUser)
		if err != nil {
			return EditUserResult{}, err
		}
		if !ok {
			return EditUserResult{}, ErrForbidden
		}
	}
	target, err := e.store.Users().ByID(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return EditUserResult{}, ErrNotFound
	}
	if err != nil {
		return EditUserResult{}, e.logUnexpected(ctx, "edit user", unexpected("load user", err))
	}

	var (
		res   EditUserResult
		proof = &passwordProof{
			e:       e,
			user:    target,
			sudo:    rc.Session.SudoActive(e.now()),
			current: req.CurrentPassword,
		}
		failures []error
	)
	addItem := func(item *APIError) {
		if item != nil {
			res.Errors = append(res.Errors, *item)
		}
	}
	fail := func(op string, err error) {
		failures = append(failures, unexpected(op, err))
	}

	if req.Username != nil {
		if err := e.editUsername(ctx, &res, proof, self, target, strings.TrimSpace(*req.Username), addItem); err != nil {
			fail("change username", err)
		}
	}

	if req.NewPassword != nil {
		if !self {
			res.Errors = append(res.Errors, errCannotUpdatePassword.APIError)
		} else if err := e.editPassword(ctx, rc, &res, proof, target, *req.NewPassword, addItem); err != nil {
			fail("change password", err)
		}
	}

	if req.Locale != nil && *req.Locale != target.Locale {
		if items := e.validateLocale(*req.Locale); items != nil {
			res.Errors = append(res.Errors, items...)
		} else if err := e.store.Users().SetLocale(ctx, targetID, *req.Locale); err != nil {
			fail("change locale", err)
		} else {
			locale := *req.Locale
			res.Locale = &locale
		}
	}

	if req.TOTP.Set {
		if err := e.editTOTP(ctx, &res, proof, self, target, req.TOTP.Value, addItem); err != nil {
			fail("change totp", err)
		}
	}

	if proof.used {
		until, err := e.sessions.Elevate(ctx, nil, rc.Session.SessionID)
		if err != nil {
			fail("extend sudo", err)
		} else {
			res.SudoUntil = &until
		}
	}

	if len(failures) > 0 {
		e.log.Error(ctx, "edit user failed", "user_id", targetID, "err", errors.Join(failures...))
		res.Errors = append(res.Errors, ErrUnexpected.APIError)
	}

	changes := res.Changes()
	delete(changes, "sudoUntil")
	if len(changes) > 0 {
		e.emitUserUpdated(ctx, targetID, changes)
	}
	return res, nil
}

func (e *Engine) editUsername(ctx context.Context, res *EditUserResult, proof *passwordProof, self bool, target store.User, name string, addItem func(*APIError)) error {
	if name == target.Username {
		return nil
	}
	if self && !strings.EqualFold(name, target.Username) {
		ok, item, err := proof.check(ctx, true)
		if err != nil {
			return err
		}
		addItem(item)
		if !ok {
			return nil
		}
	}
	if items := e.validateUsername(fieldNewUsername, name); items != nil {
		res.Errors = append(res.Errors, items...)
		return nil
	}
	err := e.store.Users().SetUsername(ctx, target.ID, name)
	if errors.Is(err, store.ErrUsernameTaken) {
		res.Errors = append(res.Errors, ErrUsernameNotAvailable.APIError)
		return nil
	}
	if err != nil {
		return err
	}
	res.Username = &name
	e.audit(ctx, AuditEvent{EventType: AuditUsernameChanged, UserID: target.ID, Success: true})
	return nil
}

// editPassword replaces the caller's password. The caller's other sessions
// and every remember token are revoked with it.
func (e *Engine) editPassword(ctx context.Context, rc *RequestContext, res *EditUserResult, proof *passwordProof, target store.User, next string, addItem func(*APIError)) error {
	ok, item, err := proof.check(ctx, false)
	if err != nil {
		return err
	}
	addItem(item)
	if !ok {
		return nil
	}

	same, err := e.checkPassword(target, next)
	if err != nil {
		return err
	}
	if same {
		if target.PasswordChangeReason != store.NoPasswordChangeReason {
			res.Errors = append(res.Errors, errNoChangeInPassword.APIError)
		} else {
			res.Warnings = append(res.Warnings, errNoChangeInPassword.APIError)
		}
		return nil
	}
	if items := e.validatePassword(fieldNewPassword, next); items != nil {
		res.Errors = append(res.Errors, items...)
		return nil
	}

	encrypted, err := e.hashPassword(next)
	if err != nil {
		return err
	}
	err = e.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.Users().SetPassword(ctx, target.ID, encrypted); err != nil {
			return err
		}
		if err := q.Users().SetPasswordChangeReason(ctx, target.ID, store.NoPasswordChangeReason); err != nil {
			return err
		}
		if err := e.sessions.DestroyOthers(ctx, q, target.ID, rc.Session.SessionID); err != nil {
			return err
		}
		return e.remember.RevokeAll(ctx, q, target.ID)
	})
	if err != nil {
		return err
	}
	res.PasswordUpdated = true
	e.metricInc(MetricPasswordChanged)
	e.audit(ctx, AuditEvent{EventType: AuditPasswordChanged, UserID: target.ID, Success: true})
	return nil
}

// editTOTP enables TOTP when code is non-nil and disables it otherwise.
func (e *Engine) editTOTP(ctx context.Context, res *EditUserResult, proof *passwordProof, self bool, target store.User, code *string, addItem func(*APIError)) error {
	if code != nil && !self {
		res.Errors = append(res.Errors, errCannotEnableTOTP.APIError)
		return nil
	}
	if self {
		ok, item, err := proof.check(ctx, true)
		if err != nil {
			return err
		}
		addItem(item)
		if !ok {
			return nil
		}
	}

	if code == nil {
		if err := e.totp.Disable(ctx, nil, target.ID); err != nil {
			return err
		}
		disabled := false
		res.TOTPEnabled = &disabled
		e.metricInc(MetricTOTPDisabled)
		e.audit(ctx, AuditEvent{EventType: AuditTOTPDisabled, UserID: target.ID, Success: true})
		return nil
	}

	err := e.totp.Confirm(ctx, nil, target, *code)
	switch {
	case err == nil:
		enabled := true
		res.TOTPEnabled = &enabled
		e.metricInc(MetricTOTPEnabled)
		e.audit(ctx, AuditEvent{EventType: AuditTOTPEnabled, UserID: target.ID, Success: true})
		return nil
	case errors.Is(err, totp.ErrAlreadyEnabled):
		res.Errors = append(res.Errors, ErrTOTPAlreadyEnabled.APIError)
	case errors.Is(err, totp.ErrNoActiveKey):
		res.Errors = append(res.Errors, errNoTOTPKeyActive.APIError)
	case errors.Is(err, totp.ErrInvalidCode):
		res.Errors = append(res.Errors, errInvalidTOTPVerification.APIError)
	default:
		return err
	}
	return nil
}
