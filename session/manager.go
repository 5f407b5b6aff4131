package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/tasks"
	"github.com/MrEthical07/authcore/internal/token"
)

var (
	// ErrUnauthenticated means no session matches the presented id.
	ErrUnauthenticated = errors.New("session: not logged in")
	// ErrExpired means the session exists but its lifetime has elapsed.
	ErrExpired = errors.New("session: expired")
	// ErrDisabled means the owning account is disabled.
	ErrDisabled = errors.New("session: account disabled")
)

// Config holds session sizing and lifetimes.
type Config struct {
	Lifetime       time.Duration `toml:"lifetime"`
	SudoLifetime   time.Duration `toml:"sudo_lifetime"`
	IDBytes        int           `toml:"id_bytes"`
	CSRFTokenBytes int           `toml:"csrf_token_bytes"`
	UniqueRetries  int           `toml:"unique_retries"`
	SweepInterval  time.Duration `toml:"sweep_interval"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Lifetime:       360 * 24 * time.Hour,
		SudoLifetime:   24 * time.Hour,
		IDBytes:        32,
		CSRFTokenBytes: 32,
		UniqueRetries:  token.DefaultRetries,
		SweepInterval:  time.Hour,
	}
}

// Context is what a validated session exposes to the operation it guards.
type Context struct {
	SessionID string
	CSRFToken string
	Expires   time.Time
	SudoUntil *time.Time
	User      store.User
}

// UserID is a shorthand for c.User.ID.
func (c Context) UserID() string { return c.User.ID }

// SudoActive reports whether the elevated window is open at now.
func (c Context) SudoActive(now time.Time) bool {
	return c.SudoUntil != nil && now.Before(*c.SudoUntil)
}

// Created describes a freshly inserted session.
type Created struct {
	ID        string
	Expires   time.Time
	SudoUntil *time.Time
}

// Manager creates, validates, elevates and destroys sessions.
type Manager struct {
	store store.Store
	tasks *tasks.Runner
	log   logging.Logger
	cfg   Config
	now   func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. Zero config fields take their defaults.
func NewManager(st store.Store, runner *tasks.Runner, log logging.Logger, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = def.Lifetime
	}
	if cfg.SudoLifetime <= 0 {
		cfg.SudoLifetime = def.SudoLifetime
	}
	if cfg.IDBytes <= 0 {
		cfg.IDBytes = def.IDBytes
	}
	if cfg.CSRFTokenBytes <= 0 {
		cfg.CSRFTokenBytes = def.CSRFTokenBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if log == nil {
		log = logging.Nop()
	}
	m := &Manager{
		store: st,
		tasks: runner,
		log:   log.With("component", "session"),
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Now is the manager's clock.
func (m *Manager) Now() time.Time { return m.now() }

// NewCSRFToken returns a fresh random CSRF token.
func (m *Manager) NewCSRFToken() (string, error) {
	return token.Generate(m.cfg.CSRFTokenBytes)
}

func (m *Manager) queries(q store.Queries) store.Queries {
	if q == nil {
		return m.store
	}
	return q
}

// Create inserts a session for userID bound to csrfToken. q may be a
// transaction; nil uses the store directly.
func (m *Manager) Create(ctx context.Context, q store.Queries, userID, csrfToken string, sudo bool) (Created, error) {
	q = m.queries(q)
	now := m.now()
	out := Created{Expires: now.Add(m.cfg.Lifetime)}
	if sudo {
		until := now.Add(m.cfg.SudoLifetime).Truncate(time.Second)
		out.SudoUntil = &until
	}

	err := token.TryInsertUnique(ctx, m.cfg.UniqueRetries, func(ctx context.Context) error {
		id, err := token.Generate(m.cfg.IDBytes)
		if err != nil {
			return err
		}
		if err := q.Sessions().Insert(ctx, store.Session{
			ID:        id,
			UserID:    userID,
			CSRFToken: csrfToken,
			Expires:   out.Expires,
			SudoUntil: out.SudoUntil,
		}); err != nil {
			return err
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return Created{}, fmt.Errorf("session: create: %w", err)
	}
	return out, nil
}

// Validate resolves a session id. A disabled owner wins over expiry. An
// expired row is deleted in the background.
func (m *Manager) Validate(ctx context.Context, id string) (Context, error) {
	if id == "" {
		return Context{}, ErrUnauthenticated
	}
	sess, user, err := m.store.Sessions().WithUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Context{}, ErrUnauthenticated
	}
	if err != nil {
		return Context{}, fmt.Errorf("session: lookup: %w", err)
	}
	if user.Disabled {
		return Context{}, ErrDisabled
	}
	if !m.now().Before(sess.Expires) {
		m.tasks.Go(ctx, "delete-expired-session", func(ctx context.Context) error {
			err := m.store.Sessions().Delete(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		})
		return Context{}, ErrExpired
	}
	return Context{
		SessionID: sess.ID,
		CSRFToken: sess.CSRFToken,
		Expires:   sess.Expires,
		SudoUntil: sess.SudoUntil,
		User:      user,
	}, nil
}

// Elevate opens the sudo window on session id and returns its end.
func (m *Manager) Elevate(ctx context.Context, q store.Queries, id string) (time.Time, error) {
	until := m.now().Add(m.cfg.SudoLifetime).Truncate(time.Second)
	if err := m.queries(q).Sessions().SetSudoUntil(ctx, id, until); err != nil {
		return time.Time{}, fmt.Errorf("session: elevate: %w", err)
	}
	return until, nil
}

// Destroy deletes one session. A missing row is not an error.
func (m *Manager) Destroy(ctx context.Context, q store.Queries, id string) error {
	err := m.queries(q).Sessions().Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

// DestroyAll deletes every session of userID.
func (m *Manager) DestroyAll(ctx context.Context, q store.Queries, userID string) error {
	if err := m.queries(q).Sessions().DeleteForUser(ctx, userID); err != nil {
		return fmt.Errorf("session: destroy all: %w", err)
	}
	return nil
}

// DestroyOthers deletes every session of userID except keepID.
func (m *Manager) DestroyOthers(ctx context.Context, q store.Queries, userID, keepID string) error {
	if err := m.queries(q).Sessions().DeleteForUserExcept(ctx, userID, keepID); err != nil {
		return fmt.Errorf("session: destroy others: %w", err)
	}
	return nil
}

// SweepExpired deletes every expired session and returns how many went.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.Sessions().DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every SweepInterval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				m.log.Warn(ctx, "session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				m.log.Info(ctx, "expired sessions swept", "count", n)
			}
		}
	}
}
