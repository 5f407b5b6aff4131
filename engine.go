package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/icons"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/internal/sockets"
	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/tasks"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/remember"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/totp"
)

// Engine ties the session, remember-token, TOTP, CSRF and rate-limit
// components to the account operations built on them. It is created by
// Builder.Build and is safe for concurrent use.
type Engine struct {
	cfg Config

	store    store.Store
	box      *secret.Box
	hasher   *password.Hasher
	sessions *session.Manager
	remember *remember.Manager
	totp     *totp.Manager
	limiter  *rate.Limiter
	sockets  *sockets.Tokens

	emitter   notify.Emitter
	icons     icons.Remover
	auditSink AuditSink
	tasks     *tasks.Runner
	log       logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Tasks exposes the background runner, mainly so tests can Wait on it.
func (e *Engine) Tasks() *tasks.Runner { return e.tasks }

// Close drains background work. The store and Redis client belong to the
// caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.tasks.Close()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// TaskStats reports background runner outcomes.
func (e *Engine) TaskStats() (completed, failed, rejected uint64) {
	return e.tasks.Completed(), e.tasks.Failed(), e.tasks.Rejected()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// RunSweeper deletes expired sessions periodically until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	e.sessions.RunSweeper(ctx)
}

// hashPassword returns the encrypted PHC hash stored in users.password.
func (e *Engine) hashPassword(plain string) (string, error) {
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		return "", unexpected("hash password", err)
	}
	encrypted, err := e.box.EncryptString(hash)
	if err != nil {
		return "", unexpected("encrypt password hash", err)
	}
	return encrypted, nil
}

// checkPassword reports whether plain matches u's stored hash. A stored
// value that cannot be decrypted or parsed is unexpected.
func (e *Engine) checkPassword(u store.User, plain string) (bool, error) {
	hash, err := e.box.DecryptString(u.Password)
	if err != nil {
		return false, unexpected(fmt.Sprintf("decrypt password hash of user %s", u.ID), err)
	}
	err = e.hasher.Verify(hash, plain)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, password.ErrMismatch):
		return false, nil
	default:
		return false, unexpected(fmt.Sprintf("verify password of user %s", u.ID), err)
	}
}

// rehashIfNeeded upgrades u's stored hash in the background when its
// parameters are outdated. plain has already been verified. A password
// changed in the meantime is left alone.
func (e *Engine) rehashIfNeeded(ctx context.Context, u store.User, plain string) {
	hash, err := e.box.DecryptString(u.Password)
	if err != nil {
		return
	}
	needs, err := e.hasher.NeedsRehash(hash)
	if err != nil || !needs {
		return
	}
	e.tasks.Go(ctx, "login-rehash-password", func(ctx context.Context) error {
		encrypted, err := e.hashPassword(plain)
		if err != nil {
			return err
		}
		err = e.store.Users().ReplacePassword(ctx, u.ID, u.Password, encrypted)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

// emitUserUpdated pushes payload to every socket of userID.
func (e *Engine) emitUserUpdated(ctx context.Context, userID string, payload any) {
	emitter := e.emitter
	e.tasks.Go(ctx, "emit-user_updated", func(ctx context.Context) error {
		return emitter.Emit(ctx, notify.UserUpdated, payload, notify.UserRoom(userID))
	})
}

// logUnexpected records err at error level when it is not an expected
// failure. It returns err unchanged.
func (e *Engine) logUnexpected(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := asError(err); ok {
		return err
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	e.log.Error(ctx, "unexpected error", "op", op, "err", err)
	return err
}
