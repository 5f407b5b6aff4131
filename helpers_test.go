package authcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/store/memstore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType)
	}
	return out
}

type recordedEmit struct {
	event   string
	payload any
	room    string
}

type captureEmitter struct {
	mu    sync.Mutex
	emits []recordedEmit
}

func (c *captureEmitter) Emit(_ context.Context, event string, payload any, room string) error {
	c.mu.Lock()
	c.emits = append(c.emits, recordedEmit{event: event, payload: payload, room: room})
	c.mu.Unlock()
	return nil
}

func (c *captureEmitter) all() []recordedEmit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedEmit(nil), c.emits...)
}

type recordingIcons struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingIcons) Remove(_ context.Context, icon string) error {
	r.mu.Lock()
	r.removed = append(r.removed, icon)
	r.mu.Unlock()
	return nil
}

type harness struct {
	engine  *Engine
	store   *memstore.Store
	mr      *miniredis.Miniredis
	clock   *testClock
	audit   *captureSink
	emitter *captureEmitter
	icons   *recordingIcons
}

// testConfig keeps argon2 at its floor so tests stay fast.
func testConfig() Config {
	cfg := validConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Metrics = MetricsConfig{Enabled: true, EnableLatencyHistograms: true}
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, nil)
}

// newHarnessWithStore builds the engine on wrap(memstore) when wrap is set.
// h.store stays the underlying memstore.
func newHarnessWithStore(t *testing.T, cfg Config, wrap func(*memstore.Store) store.Store) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &harness{
		store:   memstore.New(),
		mr:      mr,
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		audit:   &captureSink{},
		emitter: &captureEmitter{},
		icons:   &recordingIcons{},
	}
	var st store.Store = h.store
	if wrap != nil {
		st = wrap(h.store)
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(rdb).
		WithEmitter(h.emitter).
		WithIcons(h.icons).
		WithAuditSink(h.audit).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

func (h *harness) register(t *testing.T, username, pass string) UserView {
	t.Helper()
	u, err := h.engine.Register(context.Background(), RegisterRequest{Username: username, Password: pass})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return u
}

func (h *harness) login(t *testing.T, username, pass string, remember bool) LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), LoginRequest{Username: username, Password: pass, Remember: remember})
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", username, err)
	}
	return res
}

func (h *harness) authenticate(t *testing.T, sessionID string) *RequestContext {
	t.Helper()
	rc := &RequestContext{RequestID: "req-test", ClientIP: "203.0.113.7"}
	if err := h.engine.Authenticate(context.Background(), rc, sessionID); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return rc
}

func (h *harness) grant(t *testing.T, userID string, p permission.Permission) {
	t.Helper()
	if err := h.store.Permissions().Grant(context.Background(), userID, p); err != nil {
		t.Fatalf("Grant(%s) failed: %v", p, err)
	}
}

func strPtr(s string) *string { return &s }

var errTransient = errors.New("transient db error")

// flakyStore fails the next session insert once armed, in or out of a
// transaction.
type flakyStore struct {
	*memstore.Store
	failSessionInsert atomic.Bool
}

func (s *flakyStore) Sessions() store.Sessions {
	return flakySessions{Sessions: s.Store.Sessions(), s: s}
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(flakyQueries{Queries: q, s: s})
	})
}

type flakyQueries struct {
	store.Queries
	s *flakyStore
}

func (q flakyQueries) Sessions() store.Sessions {
	return flakySessions{Sessions: q.Queries.Sessions(), s: q.s}
}

type flakySessions struct {
	store.Sessions
	s *flakyStore
}

func (f flakySessions) Insert(ctx context.Context, sess store.Session) error {
	if f.s.failSessionInsert.CompareAndSwap(true, false) {
		return errTransient
	}
	return f.Sessions.Insert(ctx, sess)
}

// enableTOTP enrolls and confirms a TOTP key for username and returns the
// plaintext key.
func (h *harness) enableTOTP(t *testing.T, username, pass string) string {
	t.Helper()
	res := h.login(t, username, pass, false)
	rc := h.authenticate(t, res.Session.ID)
	ctx := context.Background()

	enr, err := h.engine.BeginTOTP(ctx, rc)
	if err != nil {
		t.Fatalf("BeginTOTP failed: %v", err)
	}
	code, err := h.engine.totp.Code(enr.Key, h.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	out, err := h.engine.EditUser(ctx, rc, rc.UserID(), EditUserRequest{TOTP: OptionalString{Set: true, Value: &code}})
	if err != nil {
		t.Fatalf("EditUser failed: %v", err)
	}
	if len(out.Errors) != 0 || out.TOTPEnabled == nil || !*out.TOTPEnabled {
		t.Fatalf("expected totp enabled, got %+v", out)
	}
	h.engine.Tasks().Wait()
	return enr.Key
}
