// Package totp handles second-factor enrollment and login verification.
//
// Enrollment issues a pending key that lives in its own table until it is
// confirmed with a valid code or expires. Confirmation moves the key onto
// the user row together with the confirming code, which becomes the
// "last used" code that a later login may not replay.
package totp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/tasks"
)

var (
	ErrAlreadyEnabled = errors.New("totp: already enabled")
	ErrNoActiveKey    = errors.New("totp: no active pending key")
	ErrInvalidCode    = errors.New("totp: invalid verification code")

	ErrRequired    = errors.New("totp: code required")
	ErrInvalid     = errors.New("totp: invalid code")
	ErrAlreadyUsed = errors.New("totp: code already used")
)

// Cipher encrypts keys at rest.
type Cipher interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(token string) (string, error)
}

// Config holds code and key parameters.
type Config struct {
	Issuer          string        `toml:"issuer"`
	Digits          int           `toml:"digits"`
	Period          uint          `toml:"period"`
	Skew            uint          `toml:"skew"`
	KeyBytes        uint          `toml:"key_bytes"`
	PendingLifetime time.Duration `toml:"pending_lifetime"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:          "Simple backend",
		Digits:          6,
		Period:          30,
		Skew:            1,
		KeyBytes:        40,
		PendingLifetime: 10 * time.Minute,
	}
}

func (c Config) validateOpts() pqtotp.ValidateOpts {
	return pqtotp.ValidateOpts{
		Period:    c.Period,
		Skew:      c.Skew,
		Digits:    otp.Digits(c.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Enrollment is a freshly issued pending key. Key is shown once.
type Enrollment struct {
	Key     string
	URI     string
	Expires time.Time
}

// Manager runs the enrollment and verification flows.
type Manager struct {
	store  store.Store
	cipher Cipher
	tasks  *tasks.Runner
	cfg    Config
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. Zero config fields take their defaults.
func NewManager(st store.Store, cipher Cipher, runner *tasks.Runner, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.KeyBytes == 0 {
		cfg.KeyBytes = def.KeyBytes
	}
	if cfg.PendingLifetime <= 0 {
		cfg.PendingLifetime = def.PendingLifetime
	}
	m := &Manager{store: st, cipher: cipher, tasks: runner, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BeginEnrollment issues a pending key for u, superseding any earlier one.
func (m *Manager) BeginEnrollment(ctx context.Context, u store.User) (Enrollment, error) {
	if u.TOTPEnabled() {
		return Enrollment{}, ErrAlreadyEnabled
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      m.cfg.Issuer,
		AccountName: u.Username,
		Period:      m.cfg.Period,
		SecretSize:  m.cfg.KeyBytes,
		Digits:      otp.Digits(m.cfg.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("totp: generate key: %w", err)
	}
	encrypted, err := m.cipher.EncryptString(key.Secret())
	if err != nil {
		return Enrollment{}, fmt.Errorf("totp: encrypt key: %w", err)
	}
	expires := m.now().Add(m.cfg.PendingLifetime).Truncate(time.Second)
	if err := m.store.TOTPKeys().Upsert(ctx, store.PendingTOTPKey{
		UserID:  u.ID,
		Key:     encrypted,
		Expires: expires,
	}); err != nil {
		return Enrollment{}, fmt.Errorf("totp: store pending key: %w", err)
	}
	return Enrollment{Key: key.Secret(), URI: key.URL(), Expires: expires}, nil
}

// Confirm enables TOTP for u when code matches the pending key. The pending
// row is removed in the background.
func (m *Manager) Confirm(ctx context.Context, q store.Queries, u store.User, code string) error {
	if q == nil {
		q = m.store
	}
	if u.TOTPEnabled() {
		return ErrAlreadyEnabled
	}
	pending, err := q.TOTPKeys().ByUser(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoActiveKey
	}
	if err != nil {
		return fmt.Errorf("totp: load pending key: %w", err)
	}
	if !m.now().Before(pending.Expires) {
		return ErrNoActiveKey
	}
	ok, err := m.check(pending.Key, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	if err := q.Users().SetTOTP(ctx, u.ID, pending.Key, code); err != nil {
		return fmt.Errorf("totp: enable: %w", err)
	}
	m.deletePending(ctx, u.ID)
	return nil
}

// Disable clears the confirmed key and any pending one.
func (m *Manager) Disable(ctx context.Context, q store.Queries, userID string) error {
	if q == nil {
		q = m.store
	}
	if err := q.Users().SetTOTP(ctx, userID, "", ""); err != nil {
		return fmt.Errorf("totp: disable: %w", err)
	}
	m.deletePending(ctx, userID)
	return nil
}

// VerifyLogin checks code during login. It returns nil without looking at
// code when u has no TOTP key. A fresh code is recorded as last used in the
// background.
func (m *Manager) VerifyLogin(ctx context.Context, u store.User, code string) error {
	if !u.TOTPEnabled() {
		return nil
	}
	if code == "" {
		return ErrRequired
	}
	ok, err := m.check(u.TOTPKey, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalid
	}
	if code == u.LastUsedTOTP {
		return ErrAlreadyUsed
	}
	m.tasks.Go(ctx, "update-last-used-totp", func(ctx context.Context) error {
		return m.store.Users().SetLastUsedTOTP(ctx, u.ID, code)
	})
	return nil
}

// check decrypts encryptedKey and validates code within the skew window.
// Decryption failure is unexpected and returned as an error.
func (m *Manager) check(encryptedKey, code string) (bool, error) {
	secret, err := m.cipher.DecryptString(encryptedKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt key: %w", err)
	}
	ok, err := pqtotp.ValidateCustom(code, secret, m.now(), m.cfg.validateOpts())
	if err != nil {
		// Wrong code length.
		return false, nil
	}
	return ok, nil
}

func (m *Manager) deletePending(ctx context.Context, userID string) {
	m.tasks.Go(ctx, "delete-new-totp-key", func(ctx context.Context) error {
		return m.store.TOTPKeys().Delete(ctx, userID)
	})
}

// Code returns the current code for a plaintext key. Used by tests and
// tooling; it is never called on a request path.
func (m *Manager) Code(secret string, at time.Time) (string, error) {
	return pqtotp.GenerateCodeCustom(secret, at, m.cfg.validateOpts())
}
