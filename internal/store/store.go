// Package store declares the persistence contracts of the auth core. The
// postgres subpackage implements them over database/sql; memstore keeps
// everything in process for tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert collides on a random primary key.
	// Inside a transaction the collision leaves the transaction usable.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrUsernameTaken is returned when a username collides case-insensitively.
	ErrUsernameTaken = errors.New("store: username taken")
)

// PasswordChangeReason is the persisted enum forcing a password change.
type PasswordChangeReason string

const (
	NoPasswordChangeReason PasswordChangeReason = ""
	SessionCompromise      PasswordChangeReason = "session-compromise"
)

// User is a row of the users table. Password and TOTPKey hold ciphertext
// produced by the secret box, never plaintext.
type User struct {
	ID                   string
	Username             string
	Password             string
	TOTPKey              string
	LastUsedTOTP         string
	PasswordChangeReason PasswordChangeReason
	Disabled             bool
	Icon                 string
	Locale               string
}

// TOTPEnabled reports whether a confirmed TOTP key is present.
func (u User) TOTPEnabled() bool { return u.TOTPKey != "" }

// Session is a row of the sessions table. The id is the bearer credential.
type Session struct {
	ID        string
	UserID    string
	CSRFToken string
	Expires   time.Time
	SudoUntil *time.Time
}

// RememberToken is a row of the remember_tokens table. SecretHash is the
// digest of the live secret.
type RememberToken struct {
	ID         string
	UserID     string
	SecretHash []byte
}

// PendingTOTPKey is a row of the new_totp_keys table, at most one per user.
type PendingTOTPKey struct {
	UserID  string
	Key     string
	Expires time.Time
}

type Users interface {
	Insert(ctx context.Context, u User) error
	ByID(ctx context.Context, id string) (User, error)
	ByUsername(ctx context.Context, username string) (User, error)
	SetPassword(ctx context.Context, id, encrypted string) error
	// ReplacePassword writes encrypted only while the stored value still
	// equals current, and returns ErrNotFound otherwise.
	ReplacePassword(ctx context.Context, id, current, encrypted string) error
	SetUsername(ctx context.Context, id, username string) error
	SetLocale(ctx context.Context, id, locale string) error
	SetPasswordChangeReason(ctx context.Context, id string, reason PasswordChangeReason) error
	SetTOTP(ctx context.Context, id, encryptedKey, lastUsed string) error
	SetLastUsedTOTP(ctx context.Context, id, code string) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	SetIcon(ctx context.Context, id, icon string) error
	Delete(ctx context.Context, id string) error
}

type Sessions interface {
	Insert(ctx context.Context, s Session) error
	// WithUser returns the session and its owner in one lookup.
	WithUser(ctx context.Context, id string) (Session, User, error)
	SetSudoUntil(ctx context.Context, id string, until time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
	DeleteForUserExcept(ctx context.Context, userID, keepID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type RememberTokens interface {
	Insert(ctx context.Context, t RememberToken) error
	// WithUser returns the token and its owner in one lookup.
	WithUser(ctx context.Context, id string) (RememberToken, User, error)
	// RotateSecretHash swaps current for next, and returns ErrNotFound when
	// the token is gone or its hash is no longer current.
	RotateSecretHash(ctx context.Context, id string, current, next []byte) error
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
}

type TOTPKeys interface {
	// Upsert replaces any pending key of the same user.
	Upsert(ctx context.Context, k PendingTOTPKey) error
	ByUser(ctx context.Context, userID string) (PendingTOTPKey, error)
	Delete(ctx context.Context, userID string) error
}

type Permissions interface {
	ForUser(ctx context.Context, userID string) (permission.Set, error)
	Has(ctx context.Context, userID string, p permission.Permission) (bool, error)
	Grant(ctx context.Context, userID string, p permission.Permission) error
}

// Queries groups the repositories bound to one connection or transaction.
type Queries interface {
	Users() Users
	Sessions() Sessions
	RememberTokens() RememberTokens
	TOTPKeys() TOTPKeys
	Permissions() Permissions
}

// Store is the entry point: non-transactional Queries plus WithTx, which
// commits when fn returns nil and rolls back otherwise.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
