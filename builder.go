package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

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

var (
	ErrBuilderUsed   = errors.New("authcore: builder already used")
	ErrStoreRequired = errors.New("authcore: store is required")
	ErrRedisRequired = errors.New("authcore: redis client is required")
)

// Builder assembles an Engine. A Builder builds exactly once.
//
// Required: WithStore and WithRedis. Everything else has a default:
// DefaultConfig, a no-op logger, a Redis pub/sub emitter on the same
// client, no icon storage, no audit sink and the wall clock.
type Builder struct {
	config  Config
	store   store.Store
	redis   redis.UniversalClient
	log     logging.Logger
	emitter notify.Emitter
	icons   icons.Remover
	audit   AuditSink
	now     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(log logging.Logger) *Builder {
	b.log = log
	return b
}

// WithEmitter replaces the Redis pub/sub notification channel.
func (b *Builder) WithEmitter(em notify.Emitter) *Builder {
	b.emitter = em
	return b
}

func (b *Builder) WithIcons(r icons.Remover) *Builder {
	b.icons = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.audit = sink
	return b
}

// WithClock replaces time.Now in every component. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.store == nil {
		return nil, ErrStoreRequired
	}
	if b.redis == nil {
		return nil, ErrRedisRequired
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	cfg := b.config
	box, err := secret.NewFromHex(cfg.Security.MasterKey)
	if err != nil {
		return nil, err
	}
	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = logging.Nop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	emitter := b.emitter
	if emitter == nil {
		emitter = notify.NewRedisEmitter(b.redis)
	}
	remover := b.icons
	if remover == nil {
		remover = icons.Nop{}
	}
	sink := b.audit
	if sink == nil {
		sink = NoOpSink{}
	}

	runner := tasks.New(cfg.Tasks, log)

	e := &Engine{
		cfg:       cfg,
		store:     b.store,
		box:       box,
		hasher:    hasher,
		sessions:  session.NewManager(b.store, runner, log, cfg.Session, session.WithClock(now)),
		remember:  remember.NewManager(b.store, cfg.RememberToken),
		totp:      totp.NewManager(b.store, box, runner, cfg.TOTP, totp.WithClock(now)),
		limiter:   rate.New(b.redis, box, rate.WithClock(now)),
		sockets:   sockets.NewTokens(b.redis, cfg.WebsocketToken),
		emitter:   emitter,
		icons:     remover,
		auditSink: sink,
		tasks:     runner,
		log:       log.With("component", "authcore"),
		metrics:   NewMetrics(cfg.Metrics),
		now:       now,
	}
	return e, nil
}
