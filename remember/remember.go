// Package remember manages long-lived rotating "remember me" tokens.
//
// A token is presented as "id:secret". Only a digest of the secret is
// stored. Every successful redemption rotates the secret under the same id,
// so a replayed secret is a theft signal: the owner's sessions and remember
// tokens are all revoked and the account is flagged for a password change.
package remember

import (
	"context"
	"crypto/sha3"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/token"
)

var (
	// ErrMalformed means the presented value is not "id:secret".
	ErrMalformed = errors.New("remember: malformed token")
	// ErrNotFound means no token has the presented id.
	ErrNotFound = errors.New("remember: token not found")
	// ErrDisabled means the owning account is disabled.
	ErrDisabled = errors.New("remember: account disabled")
	// ErrSecretMismatch means the secret is stale or forged. The owner's
	// credentials have already been revoked when this is returned.
	ErrSecretMismatch = errors.New("remember: secret mismatch")
)

// Config sizes remember tokens.
type Config struct {
	IDBytes       int `toml:"id_bytes"`
	SecretBytes   int `toml:"secret_bytes"`
	UniqueRetries int `toml:"unique_retries"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{IDBytes: 32, SecretBytes: 32, UniqueRetries: token.DefaultRetries}
}

// Issued is a token as handed to the client.
type Issued struct {
	ID     string
	Secret string
}

// Value is the cookie value.
func (i Issued) Value() string { return Encode(i.ID, i.Secret) }

// Encode joins id and secret.
func Encode(id, secret string) string { return id + ":" + secret }

// Decode splits a cookie value into id and secret.
func Decode(value string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(value, ":")
	if !ok || id == "" || secret == "" || strings.Contains(secret, ":") {
		return "", "", ErrMalformed
	}
	return id, secret, nil
}

// Redeemed is the outcome of a successful redemption.
type Redeemed struct {
	User  store.User
	Token Issued
}

// Manager issues, redeems and revokes remember tokens.
type Manager struct {
	store store.Store
	cfg   Config
}

// NewManager builds a Manager. Zero config fields take their defaults.
func NewManager(st store.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.IDBytes <= 0 {
		cfg.IDBytes = def.IDBytes
	}
	if cfg.SecretBytes <= 0 {
		cfg.SecretBytes = def.SecretBytes
	}
	return &Manager{store: st, cfg: cfg}
}

func (m *Manager) queries(q store.Queries) store.Queries {
	if q == nil {
		return m.store
	}
	return q
}

func hashSecret(secret string) []byte {
	sum := sha3.Sum256([]byte(secret))
	return sum[:]
}

// Issue creates a token for userID. q may be a transaction.
func (m *Manager) Issue(ctx context.Context, q store.Queries, userID string) (Issued, error) {
	q = m.queries(q)
	secret, err := token.Generate(m.cfg.SecretBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("remember: issue: %w", err)
	}
	out := Issued{Secret: secret}
	err = token.TryInsertUnique(ctx, m.cfg.UniqueRetries, func(ctx context.Context) error {
		id, err := token.Generate(m.cfg.IDBytes)
		if err != nil {
			return err
		}
		if err := q.RememberTokens().Insert(ctx, store.RememberToken{
			ID:         id,
			UserID:     userID,
			SecretHash: hashSecret(secret),
		}); err != nil {
			return err
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return Issued{}, fmt.Errorf("remember: issue: %w", err)
	}
	return out, nil
}

// Redeem checks secret against token id, rotates it and runs then with the
// owner, all in one transaction: if then fails the old secret stays valid.
// The disabled check happens before the secret is compared, and a disabled
// owner's token is left untouched. A wrong secret, or one rotated by a
// concurrent redemption, revokes the owner's credentials once the
// transaction has rolled back.
func (m *Manager) Redeem(ctx context.Context, id, secret string, then func(q store.Queries, user store.User) error) (Redeemed, error) {
	var out Redeemed
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		tok, user, err := q.RememberTokens().WithUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("remember: lookup: %w", err)
		}
		out.User = user
		if user.Disabled {
			return ErrDisabled
		}
		if subtle.ConstantTimeCompare(hashSecret(secret), tok.SecretHash) != 1 {
			return ErrSecretMismatch
		}

		next, err := token.Generate(m.cfg.SecretBytes)
		if err != nil {
			return fmt.Errorf("remember: rotate: %w", err)
		}
		err = q.RememberTokens().RotateSecretHash(ctx, id, tok.SecretHash, hashSecret(next))
		if errors.Is(err, store.ErrNotFound) {
			return ErrSecretMismatch
		}
		if err != nil {
			return fmt.Errorf("remember: rotate: %w", err)
		}
		out.Token = Issued{ID: id, Secret: next}
		if then != nil {
			return then(q, user)
		}
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ErrSecretMismatch):
		if err := m.revokeCompromised(ctx, out.User.ID); err != nil {
			return Redeemed{User: out.User}, errors.Join(ErrSecretMismatch, err)
		}
		return Redeemed{User: out.User}, ErrSecretMismatch
	default:
		return Redeemed{User: out.User}, err
	}
}

func (m *Manager) revokeCompromised(ctx context.Context, userID string) error {
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.Sessions().DeleteForUser(ctx, userID); err != nil {
			return err
		}
		if err := q.RememberTokens().DeleteForUser(ctx, userID); err != nil {
			return err
		}
		return q.Users().SetPasswordChangeReason(ctx, userID, store.SessionCompromise)
	})
	if err != nil {
		return fmt.Errorf("remember: revoke compromised: %w", err)
	}
	return nil
}

// Revoke deletes one token. A missing row is not an error.
func (m *Manager) Revoke(ctx context.Context, q store.Queries, id string) error {
	err := m.queries(q).RememberTokens().Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("remember: revoke: %w", err)
	}
	return nil
}

// RevokeAll deletes every token of userID.
func (m *Manager) RevokeAll(ctx context.Context, q store.Queries, userID string) error {
	if err := m.queries(q).RememberTokens().DeleteForUser(ctx, userID); err != nil {
		return fmt.Errorf("remember: revoke all: %w", err)
	}
	return nil
}
