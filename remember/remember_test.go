package remember

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/store/memstore"
)

func newTestManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	for _, u := range []store.User{
		{ID: "u-1", Username: "alice", Password: "enc"},
		{ID: "u-2", Username: "bob", Password: "enc"},
	} {
		if err := st.Users().Insert(ctx, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	return NewManager(st, Config{}), st
}

func addSession(t *testing.T, st *memstore.Store, id, userID string) {
	t.Helper()
	if err := st.Sessions().Insert(context.Background(), store.Session{ID: id, UserID: userID, CSRFToken: "c"}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	id, secret, err := Decode(Encode("abc", "def"))
	if err != nil || id != "abc" || secret != "def" {
		t.Fatalf("round trip: %q %q %v", id, secret, err)
	}
	for _, bad := range []string{"", "abc", ":def", "abc:", "a:b:c"} {
		if _, _, err := Decode(bad); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v", bad, err)
		}
	}
}

func TestIssueStoresOnlyDigest(t *testing.T) {
	m, st := newTestManager(t)
	issued, err := m.Issue(context.Background(), nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tok, _, err := st.RememberTokens().WithUser(context.Background(), issued.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if string(tok.SecretHash) == issued.Secret {
		t.Fatal("secret stored in plaintext")
	}
	if len(tok.SecretHash) != 32 {
		t.Fatalf("digest length = %d", len(tok.SecretHash))
	}
}

func TestRedeemRotatesSecret(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Issue(ctx, nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := m.Redeem(ctx, issued.ID, issued.Secret, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got.User.ID != "u-1" {
		t.Fatalf("user = %q", got.User.ID)
	}
	if got.Token.ID != issued.ID {
		t.Fatal("redemption must keep the token id")
	}
	if got.Token.Secret == issued.Secret {
		t.Fatal("redemption must rotate the secret")
	}

	if _, err := m.Redeem(ctx, got.Token.ID, got.Token.Secret, nil); err != nil {
		t.Fatalf("redeem rotated secret: %v", err)
	}
}

func TestRedeemRunsFollowUpInSameTransaction(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Issue(ctx, nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = m.Redeem(ctx, issued.ID, issued.Secret, func(q store.Queries, user store.User) error {
		return q.Sessions().Insert(ctx, store.Session{ID: "s-1", UserID: user.ID, CSRFToken: "c"})
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, sessions, _, _ := st.Counts(); sessions != 1 {
		t.Fatalf("sessions = %d, want 1", sessions)
	}
}

func TestRedeemKeepsSecretWhenFollowUpFails(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Issue(ctx, nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	addSession(t, st, "s-1", "u-1")

	transient := errors.New("transient db error")
	_, err = m.Redeem(ctx, issued.ID, issued.Secret, func(store.Queries, store.User) error {
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("redeem err = %v", err)
	}

	got, err := m.Redeem(ctx, issued.ID, issued.Secret, nil)
	if err != nil {
		t.Fatalf("retry with the unrotated secret: %v", err)
	}
	if got.Token.Secret == issued.Secret {
		t.Fatal("successful retry must rotate the secret")
	}
	if _, sessions, remembered, _ := st.Counts(); sessions != 1 || remembered != 1 {
		t.Fatalf("sessions=%d remember=%d, want 1/1", sessions, remembered)
	}
	u, err := st.Users().ByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if u.PasswordChangeReason != store.NoPasswordChangeReason {
		t.Fatalf("password change reason = %q", u.PasswordChangeReason)
	}
}

func TestReplayedSecretCascades(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Issue(ctx, nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Issue(ctx, nil, "u-1"); err != nil {
		t.Fatalf("issue second: %v", err)
	}
	other, err := m.Issue(ctx, nil, "u-2")
	if err != nil {
		t.Fatalf("issue other: %v", err)
	}
	addSession(t, st, "s-1", "u-1")
	addSession(t, st, "s-2", "u-1")
	addSession(t, st, "s-3", "u-2")

	if _, err := m.Redeem(ctx, issued.ID, issued.Secret, nil); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := m.Redeem(ctx, issued.ID, issued.Secret, nil); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("replay err = %v", err)
	}

	_, sessions, remembered, _ := st.Counts()
	if sessions != 1 || remembered != 1 {
		t.Fatalf("after cascade sessions=%d remember=%d, want 1/1", sessions, remembered)
	}
	if _, err := m.Redeem(ctx, other.ID, other.Secret, nil); err != nil {
		t.Fatalf("unrelated user affected: %v", err)
	}
	u, err := st.Users().ByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if u.PasswordChangeReason != store.SessionCompromise {
		t.Fatalf("password change reason = %q", u.PasswordChangeReason)
	}
}

func TestRedeemUnknownAndDisabled(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Redeem(ctx, "missing", "secret", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}

	issued, err := m.Issue(ctx, nil, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := st.Users().SetDisabled(ctx, "u-1", true); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := m.Redeem(ctx, issued.ID, "wrong", nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	if _, _, remembered, _ := st.Counts(); remembered != 1 {
		t.Fatal("disabled redemption must not cascade")
	}

	if err := st.Users().SetDisabled(ctx, "u-1", false); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := m.Redeem(ctx, issued.ID, issued.Secret, nil); err != nil {
		t.Fatalf("secret must survive the disabled attempt: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	a, _ := m.Issue(ctx, nil, "u-1")
	if _, err := m.Issue(ctx, nil, "u-1"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Revoke(ctx, nil, a.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Redeem(ctx, a.ID, a.Secret, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked token err = %v", err)
	}
	if err := m.RevokeAll(ctx, nil, "u-1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, _, remembered, _ := st.Counts(); remembered != 0 {
		t.Fatalf("remember tokens left: %d", remembered)
	}
}
