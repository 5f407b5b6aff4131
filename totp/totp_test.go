package totp

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/store/memstore"
	"github.com/MrEthical07/authcore/internal/tasks"
)

type fixture struct {
	store  *memstore.Store
	runner *tasks.Runner
	now    time.Time
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	if err := st.Users().Insert(context.Background(), store.User{ID: "u-1", Username: "alice", Password: "enc"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	box, err := secret.New(bytes.Repeat([]byte{7}, secret.KeySize))
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}
	runner := tasks.New(tasks.Config{Workers: 1, QueueSize: 8}, logging.Nop())
	t.Cleanup(runner.Close)
	f := &fixture{store: st, runner: runner, now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	f.mgr = NewManager(st, box, runner, Config{}, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) user(t *testing.T) store.User {
	t.Helper()
	f.runner.Wait()
	u, err := f.store.Users().ByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	return u
}

func (f *fixture) code(t *testing.T, key string) string {
	t.Helper()
	code, err := f.mgr.Code(key, f.now)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func (f *fixture) enable(t *testing.T) Enrollment {
	t.Helper()
	enr, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.mgr.Confirm(context.Background(), nil, f.user(t), f.code(t, enr.Key)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return enr
}

func TestBeginEnrollmentStoresEncryptedPendingKey(t *testing.T) {
	f := newFixture(t)
	enr, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if enr.Key == "" || enr.URI == "" {
		t.Fatalf("empty enrollment: %+v", enr)
	}
	if !enr.Expires.Equal(f.now.Add(10 * time.Minute)) {
		t.Fatalf("expires = %v", enr.Expires)
	}
	pending, err := f.store.TOTPKeys().ByUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("pending key: %v", err)
	}
	if pending.Key == enr.Key {
		t.Fatal("pending key stored in plaintext")
	}
}

func TestConfirmEnablesOnce(t *testing.T) {
	f := newFixture(t)
	enr := f.enable(t)

	u := f.user(t)
	if !u.TOTPEnabled() {
		t.Fatal("expected totp enabled")
	}
	if u.LastUsedTOTP != f.code(t, enr.Key) {
		t.Fatal("confirming code must be recorded as last used")
	}
	if _, _, _, pending := f.store.Counts(); pending != 0 {
		t.Fatalf("pending key not deleted")
	}
	if err := f.mgr.Confirm(context.Background(), nil, u, f.code(t, enr.Key)); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("second confirm err = %v", err)
	}
	if _, err := f.mgr.BeginEnrollment(context.Background(), u); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("begin while enabled err = %v", err)
	}
}

func TestReenrollmentSupersedesPendingKey(t *testing.T) {
	f := newFixture(t)
	first, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	second, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if first.Key == second.Key {
		t.Fatal("expected a fresh key")
	}
	if f.code(t, first.Key) != f.code(t, second.Key) {
		if err := f.mgr.Confirm(context.Background(), nil, f.user(t), f.code(t, first.Key)); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("confirm with superseded key err = %v", err)
		}
	}
	if err := f.mgr.Confirm(context.Background(), nil, f.user(t), f.code(t, second.Key)); err != nil {
		t.Fatalf("confirm with current key: %v", err)
	}
}

func TestConfirmWithoutOrAfterExpiry(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Confirm(context.Background(), nil, f.user(t), "123456"); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("no pending key err = %v", err)
	}
	enr, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.now = f.now.Add(10 * time.Minute)
	if err := f.mgr.Confirm(context.Background(), nil, f.user(t), f.code(t, enr.Key)); !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("expired pending key err = %v", err)
	}
}

func TestConfirmRejectsBadCodes(t *testing.T) {
	f := newFixture(t)
	enr, err := f.mgr.BeginEnrollment(context.Background(), f.user(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	good := f.code(t, enr.Key)
	bad := "000000"
	if good == bad {
		bad = "111111"
	}
	for _, code := range []string{bad, "12", "abcdef"} {
		if err := f.mgr.Confirm(context.Background(), nil, f.user(t), code); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("Confirm(%q) err = %v", code, err)
		}
	}
}

func TestVerifyLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.mgr.VerifyLogin(ctx, f.user(t), "123456"); err != nil {
		t.Fatalf("user without totp: %v", err)
	}

	enr := f.enable(t)
	if err := f.mgr.VerifyLogin(ctx, f.user(t), ""); !errors.Is(err, ErrRequired) {
		t.Fatalf("missing code err = %v", err)
	}
	if err := f.mgr.VerifyLogin(ctx, f.user(t), f.code(t, enr.Key)); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("replayed confirmation code err = %v", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	fresh := f.code(t, enr.Key)
	if err := f.mgr.VerifyLogin(ctx, f.user(t), fresh); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
	if err := f.mgr.VerifyLogin(ctx, f.user(t), fresh); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("replayed login code err = %v", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	stale := fresh
	if stale == f.code(t, enr.Key) {
		t.Skip("code collision across windows")
	}
	if err := f.mgr.VerifyLogin(ctx, f.user(t), stale); !errors.Is(err, ErrInvalid) {
		t.Fatalf("stale code err = %v", err)
	}
}

func TestVerifyAcceptsAdjacentWindow(t *testing.T) {
	f := newFixture(t)
	enr := f.enable(t)
	f.now = f.now.Add(5 * time.Minute)
	prev, err := f.mgr.Code(enr.Key, f.now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if err := f.mgr.VerifyLogin(context.Background(), f.user(t), prev); err != nil {
		t.Fatalf("code from previous period rejected: %v", err)
	}
}

func TestDisableClearsKey(t *testing.T) {
	f := newFixture(t)
	f.enable(t)
	if _, err := f.mgr.BeginEnrollment(context.Background(), store.User{ID: "u-1", Username: "alice"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.mgr.Disable(context.Background(), nil, "u-1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	u := f.user(t)
	if u.TOTPEnabled() || u.LastUsedTOTP != "" {
		t.Fatalf("totp still set: %+v", u)
	}
	if _, _, _, pending := f.store.Counts(); pending != 0 {
		t.Fatal("pending key survived disable")
	}
}
