package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/permission"
)

func validationIDs(t *testing.T, err error) []string {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	ids := make([]string, 0, len(ve.Errors))
	for _, item := range ve.Errors {
		ids = append(ids, item.ID)
	}
	return ids
}

func errorIDs(items []APIError) string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Source+"/"+item.ID)
	}
	return strings.Join(ids, ",")
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	u, err := h.engine.Register(context.Background(), RegisterRequest{Username: "  bob ", Password: "correct-password", Locale: "fi-FI"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Username != "bob" || u.Locale != "fi-FI" || u.ID == "" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.TOTPEnabled || u.PasswordChangeReason != nil || u.Icon != nil {
		t.Fatalf("unexpected defaults: %+v", u)
	}

	stored, err := h.store.Users().ByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("ByID failed: %v", err)
	}
	if strings.Contains(stored.Password, "argon2") || stored.Password == "correct-password" {
		t.Fatal("stored password must be an encrypted hash")
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterRequest{Username: "", Password: "short", Locale: "xx-XX"})
	got := strings.Join(validationIDs(t, err), ",")
	if got != "username.empty,password.too-short,locale.invalid" {
		t.Fatalf("unexpected validation ids: %s", got)
	}

	var ve *ValidationError
	errors.As(err, &ve)
	if ve.Errors[1].Values["minLength"] != 8 {
		t.Fatalf("expected minLength 8, got %v", ve.Errors[1].Values)
	}

	_, err = h.engine.Register(ctx, RegisterRequest{Username: strings.Repeat("ä", 21), Password: "correct-password"})
	if got := validationIDs(t, err); len(got) != 1 || got[0] != "username.too-long" {
		t.Fatalf("expected username.too-long, got %v", got)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")

	_, err := h.engine.Register(context.Background(), RegisterRequest{Username: "ALICE", Password: "correct-password"})
	if !errors.Is(err, ErrUsernameNotAvailable) {
		t.Fatalf("expected username not available, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricAccountCreationDuplicate]; got != 1 {
		t.Fatalf("expected duplicate metric 1, got %d", got)
	}
}

func TestUsernameAvailable(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	ctx := context.Background()

	ok, err := h.engine.UsernameAvailable(ctx, "Alice")
	if err != nil || ok {
		t.Fatalf("expected taken: ok=%v err=%v", ok, err)
	}
	ok, err = h.engine.UsernameAvailable(ctx, "bob")
	if err != nil || !ok {
		t.Fatalf("expected available: ok=%v err=%v", ok, err)
	}
	_, err = h.engine.UsernameAvailable(ctx, "")
	if got := validationIDs(t, err); got[0] != "new-username.empty" {
		t.Fatalf("expected new-username.empty, got %v", got)
	}
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)

	me, err := h.engine.Me(context.Background(), rc)
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if me.Username != "alice" || me.SudoUntil == nil || !me.SudoUntil.Equal(*res.Session.SudoUntil) {
		t.Fatalf("unexpected view: %+v", me)
	}
	if _, err := h.engine.Me(context.Background(), &RequestContext{}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}
}

// loginWithoutSudo returns a request context whose sudo window has closed.
func (h *harness) loginWithoutSudo(t *testing.T, username, pass string) *RequestContext {
	t.Helper()
	res := h.login(t, username, pass, false)
	h.clock.Advance(25 * time.Hour)
	return h.authenticate(t, res.Session.ID)
}

func TestEditUserUsernameInSudo(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	h.clock.Advance(time.Hour)
	rc := h.authenticate(t, res.Session.ID)

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{Username: strPtr("alicia")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if len(out.Errors) != 0 || out.Username == nil || *out.Username != "alicia" {
		t.Fatalf("unexpected result: %+v", out)
	}
	wantSudo := h.clock.Now().Add(24 * time.Hour)
	if out.SudoUntil == nil || !out.SudoUntil.Equal(wantSudo) {
		t.Fatalf("expected sudo extended to %v, got %v", wantSudo, out.SudoUntil)
	}

	h.engine.Tasks().Wait()
	emits := h.emitter.all()
	if len(emits) != 1 || emits[0].event != notify.UserUpdated || emits[0].room != notify.UserRoom(rc.UserID()) {
		t.Fatalf("unexpected emits: %+v", emits)
	}
	payload := emits[0].payload.(map[string]any)
	if payload["username"] != "alicia" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["sudoUntil"]; ok {
		t.Fatal("sudoUntil must not be broadcast")
	}
}

func TestEditUserUsernameNeedsProofOutsideSudo(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	rc := h.loginWithoutSudo(t, "alice", "correct-password")
	ctx := context.Background()

	out, err := h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{Username: strPtr("alicia")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "validation/current-password.empty" {
		t.Fatalf("unexpected errors: %s", got)
	}
	if out.Username != nil || out.SudoUntil != nil {
		t.Fatalf("nothing should change: %+v", out)
	}

	out, _ = h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{Username: strPtr("alicia"), CurrentPassword: strPtr("wrong-password")})
	if got := errorIDs(out.Errors); got != "account/invalid-current-password" {
		t.Fatalf("unexpected errors: %s", got)
	}

	out, _ = h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{Username: strPtr("alicia"), CurrentPassword: strPtr("correct-password")})
	if len(out.Errors) != 0 || out.Username == nil || out.SudoUntil == nil {
		t.Fatalf("expected change with sudo extension: %+v", out)
	}
}

func TestEditUserCaseOnlyRenameNeedsNoProof(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	rc := h.loginWithoutSudo(t, "alice", "correct-password")

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{Username: strPtr("Alice")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if len(out.Errors) != 0 || out.Username == nil || *out.Username != "Alice" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out.SudoUntil != nil {
		t.Fatal("no proof was given, sudo must not be extended")
	}
}

func TestEditUserNewPasswordAlwaysNeedsCurrentPassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", true)
	other := h.login(t, "alice", "correct-password", true)
	rc := h.authenticate(t, res.Session.ID)
	ctx := context.Background()

	out, err := h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{NewPassword: strPtr("brand-new-password")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "validation/current-password.empty" {
		t.Fatalf("sudo must not stand in for the current password: %s", got)
	}

	out, _ = h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{
		NewPassword:     strPtr("brand-new-password"),
		CurrentPassword: strPtr("correct-password"),
	})
	if len(out.Errors) != 0 || !out.PasswordUpdated {
		t.Fatalf("expected password change: %+v", out)
	}
	if changes := out.Changes(); changes["passwordChangeReason"] != nil || changes["passwordUpdated"] != true {
		t.Fatalf("unexpected changes: %v", changes)
	}

	// The caller's session survives, the other one and every remember
	// token are gone.
	h.authenticate(t, res.Session.ID)
	if err := h.engine.Authenticate(ctx, &RequestContext{}, other.Session.ID); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected other session revoked, got %v", err)
	}
	if _, _, tokens, _ := h.store.Counts(); tokens != 0 {
		t.Fatalf("expected remember tokens revoked, %d left", tokens)
	}
	h.login(t, "alice", "brand-new-password", false)
}

func TestEditUserSamePassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{
		NewPassword:     strPtr("correct-password"),
		CurrentPassword: strPtr("correct-password"),
	})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if len(out.Errors) != 0 || out.PasswordUpdated {
		t.Fatalf("unexpected result: %+v", out)
	}
	if got := errorIDs(out.Warnings); got != "account/no-change-in-password" {
		t.Fatalf("expected warning, got %s", got)
	}
}

func TestEditUserPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{
		Username:        strPtr("alicia"),
		NewPassword:     strPtr("short"),
		CurrentPassword: strPtr("correct-password"),
		Locale:          strPtr("xx-XX"),
	})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "validation/new-password.too-short,validation/locale.invalid" {
		t.Fatalf("unexpected errors: %s", got)
	}
	if out.Username == nil || *out.Username != "alicia" {
		t.Fatal("valid username change must still apply")
	}
}

func TestEditUserReportsMissingProofOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	rc := h.loginWithoutSudo(t, "alice", "correct-password")

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{
		Username: strPtr("alicia"),
		TOTP:     OptionalString{Set: true},
	})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "validation/current-password.empty" {
		t.Fatalf("expected a single proof error, got %s", got)
	}
}

func TestEditUserLocale(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	rc := h.loginWithoutSudo(t, "alice", "correct-password")

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{Locale: strPtr("fi-FI")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if len(out.Errors) != 0 || out.Locale == nil || *out.Locale != "fi-FI" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestEditUserTOTPLifecycle(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	ctx := context.Background()
	h.enableTOTP(t, "alice", "correct-password")

	u, _ := h.store.Users().ByUsername(ctx, "alice")
	if !u.TOTPEnabled() {
		t.Fatal("expected totp enabled")
	}

	rc := &RequestContext{}
	sess, err := h.engine.sessions.Create(ctx, nil, u.ID, "csrf", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.engine.Authenticate(ctx, rc, sess.ID); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if _, err := h.engine.BeginTOTP(ctx, rc); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected totp already enabled, got %v", err)
	}

	out, err := h.engine.EditUser(ctx, rc, u.ID, EditUserRequest{TOTP: OptionalString{Set: true, Value: strPtr("123456")}})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "account/totp-already-enabled" {
		t.Fatalf("unexpected errors: %s", got)
	}

	out, _ = h.engine.EditUser(ctx, rc, u.ID, EditUserRequest{TOTP: OptionalString{Set: true}})
	if len(out.Errors) != 0 || out.TOTPEnabled == nil || *out.TOTPEnabled {
		t.Fatalf("expected totp disabled: %+v", out)
	}
	h.login(t, "alice", "correct-password", false)
}

func TestEditUserTOTPConfirmationErrors(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)
	ctx := context.Background()

	out, _ := h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{TOTP: OptionalString{Set: true, Value: strPtr("123456")}})
	if got := errorIDs(out.Errors); got != "account/no-totp-key-active" {
		t.Fatalf("unexpected errors: %s", got)
	}

	if _, err := h.engine.BeginTOTP(ctx, rc); err != nil {
		t.Fatalf("BeginTOTP failed: %v", err)
	}
	out, _ = h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{TOTP: OptionalString{Set: true, Value: strPtr("12345")}})
	if got := errorIDs(out.Errors); got != "account/invalid-totp-verification" {
		t.Fatalf("unexpected errors: %s", got)
	}

	h.clock.Advance(11 * time.Minute)
	out, _ = h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{TOTP: OptionalString{Set: true, Value: strPtr("123456")}})
	if got := errorIDs(out.Errors); got != "account/no-totp-key-active" {
		t.Fatalf("expired pending key must be ignored: %s", got)
	}
}

func TestEditOtherUser(t *testing.T) {
	h := newHarness(t)
	admin := h.register(t, "admin", "correct-password")
	bob := h.register(t, "bob", "correct-password")
	res := h.login(t, "admin", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)
	ctx := context.Background()

	_, err := h.engine.EditUser(ctx, rc, bob.ID, EditUserRequest{Username: strPtr("robert")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	h.grant(t, admin.ID, permission.EditUser)
	rc = h.authenticate(t, res.Session.ID)
	if _, err := h.engine.EditUser(ctx, rc, "missing", EditUserRequest{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	out, err := h.engine.EditUser(ctx, rc, bob.ID, EditUserRequest{
		Username:    strPtr("robert"),
		NewPassword: strPtr("brand-new-password"),
		TOTP:        OptionalString{Set: true, Value: strPtr("123456")},
	})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	want := "account/cannot-update-password-for-others,account/cannot-enable-totp-for-others"
	if got := errorIDs(out.Errors); got != want {
		t.Fatalf("unexpected errors: %s", got)
	}
	if out.Username == nil || *out.Username != "robert" {
		t.Fatal("expected rename of another user")
	}
	if out.SudoUntil != nil {
		t.Fatal("editing others uses no proof")
	}

	_, err = h.engine.EditUser(ctx, rc, bob.ID, EditUserRequest{Username: strPtr("admin")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
}

func TestEditUserUsernameTaken(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-password")
	h.register(t, "bob", "correct-password")
	res := h.login(t, "alice", "correct-password", false)
	rc := h.authenticate(t, res.Session.ID)

	out, err := h.engine.EditUser(context.Background(), rc, rc.UserID(), EditUserRequest{Username: strPtr("BOB")})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if got := errorIDs(out.Errors); got != "account/username-not-available" {
		t.Fatalf("unexpected errors: %s", got)
	}
}
